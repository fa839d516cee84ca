// Package session owns match lifecycles: turn sequencing, authorization,
// migration pausing, terminal detection and settlement handoff.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/gungiarena/gungi-server-go/internal/ai"
	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"github.com/gungiarena/gungi-server-go/internal/placement"
	"github.com/gungiarena/gungi-server-go/internal/telemetry"
)

// Status is the lifecycle state of a session.
type Status int

const (
	StatusCreated Status = iota
	StatusActive
	StatusMigrating
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusActive:
		return "ACTIVE"
	case StatusMigrating:
		return "MIGRATING"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("STATUS_%d", int(s))
	}
}

// PlayerSlot binds one side of the board to a verified caller identity. AI
// slots carry the agent parameters instead of an external identity.
type PlayerSlot struct {
	PlayerID string
	Side     gungi.Owner
	IsAI     bool
	Agent    gungi.AIAgentComponent
}

// MoveToken is the per-request anti-fraud token supplied by the external
// authentication collaborator. The core checks presence and freshness only.
type MoveToken struct {
	Value    string
	IssuedAt time.Time
}

// MoveExecuted is the successful result of a move submission.
type MoveExecuted struct {
	SessionID string        `json:"session_id"`
	MoveCount int           `json:"move_count"`
	IsCapture bool          `json:"is_capture"`
	Latency   time.Duration `json:"latency"`
	BoardHash string        `json:"board_hash"`
	Status    Status        `json:"status"`

	// Queued is set when the move was parked during a migration and will
	// be replayed in order once the session is active again.
	Queued bool `json:"queued"`
}

// pendingMove is a submission parked while the session migrates.
type pendingMove struct {
	playerID    string
	move        gungi.Move
	token       MoveToken
	submittedAt time.Time
}

// Session is one match instance. All fields behind mu are owned by the
// session state machine; external readers go through the accessor methods.
type Session struct {
	id     string
	region placement.Region

	mu          sync.Mutex
	status      Status
	slots       [2]PlayerSlot
	board       *gungi.Board
	moveLog     []gungi.MoveRecord
	pending     []pendingMove
	recorder    *telemetry.Recorder
	generator   *ai.Generator
	createdAt   time.Time
	completedAt time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Region returns the current serving region.
func (s *Session) Region() placement.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MoveCount returns the number of applied moves.
func (s *Session) MoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.moveLog)
}

// BoardHash returns the canonical digest of the current board.
func (s *Session) BoardHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Hash()
}

// Metrics returns the session's current latency summary.
func (s *Session) Metrics() telemetry.Metrics {
	return s.recorder.Metrics()
}

// MoveLog returns a copy of the append-only move log.
func (s *Session) MoveLog() []gungi.MoveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gungi.MoveRecord(nil), s.moveLog...)
}

// SideToMove returns which side moves next.
func (s *Session) SideToMove() gungi.Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.SideToMove()
}

// AITurn reports whether the session is active with an AI agent to move.
func (s *Session) AITurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return false
	}
	return s.slotForSide(s.board.SideToMove()).IsAI
}

// slotFor resolves a verified caller identity to its board side. The
// identity itself was authenticated upstream; only membership is checked
// here.
func (s *Session) slotFor(playerID string) (PlayerSlot, bool) {
	for _, slot := range s.slots {
		if slot.PlayerID == playerID {
			return slot, true
		}
	}
	return PlayerSlot{}, false
}

// slotForSide returns the slot bound to a board side.
func (s *Session) slotForSide(side gungi.Owner) PlayerSlot {
	for _, slot := range s.slots {
		if slot.Side == side {
			return slot
		}
	}
	return PlayerSlot{}
}
