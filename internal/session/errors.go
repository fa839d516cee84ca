package session

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotActive is returned when a mutation reaches a session
	// that is not accepting moves (Created before start, or Completed).
	ErrSessionNotActive = errors.New("session not active")

	// ErrSessionBusy is returned when the migration move queue is full and
	// a new submission cannot be parked.
	ErrSessionBusy = errors.New("session busy: migration queue full")

	// ErrMigrationFailed is returned when a migration aborts; the session
	// stays active in its original region.
	ErrMigrationFailed = errors.New("migration failed")

	// ErrStaleMoveToken is returned when a move request's anti-fraud token
	// is missing or older than the configured freshness window.
	ErrStaleMoveToken = errors.New("stale or missing move token")
)
