// Package settlement computes the terminal outcome of a completed session
// and hands it to the external escrow collaborator exactly once.
package settlement

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/gungiarena/gungi-server-go/internal/gungi"
)

// ErrAlreadyFinalized is returned when a caller attempts to finalize a
// session whose result has already been computed and emitted. Callers that
// want the idempotent retry behavior use Finalize, which swallows this and
// returns the stored result.
var ErrAlreadyFinalized = errors.New("settlement already finalized")

// Outcome names the winning side of a settled match.
type Outcome string

const (
	OutcomePlayer1 Outcome = "PLAYER1"
	OutcomePlayer2 Outcome = "PLAYER2"
	OutcomeDraw    Outcome = "DRAW"
)

// Result is the finalized settlement of one session.
type Result struct {
	SessionID string  `json:"session_id"`
	Winner    Outcome `json:"winner"`
	FinalHash string  `json:"final_hash"`
	MoveCount int     `json:"move_count"`
}

// Notifier delivers a finalized result to the external escrow collaborator.
// The move log is handed over with the result; implementations must not call
// back into the session layer, which may hold its locks during finalization.
type Notifier interface {
	NotifySettlement(result Result, log []gungi.MoveRecord) error
}

// Finalizer computes settlement results and guarantees at-most-once emission
// per session. Retried finalization returns the stored result unchanged.
type Finalizer struct {
	logger   *zap.Logger
	notifier Notifier

	mu      sync.Mutex
	results map[string]Result
}

// NewFinalizer creates a finalizer. notifier may be nil, in which case
// results are computed and stored but not delivered anywhere.
func NewFinalizer(notifier Notifier, logger *zap.Logger) *Finalizer {
	return &Finalizer{
		logger:   logger,
		notifier: notifier,
		results:  make(map[string]Result),
	}
}

// Finalize computes the settlement for a completed session and emits it to
// the notifier. Calling it again for the same session returns the identical
// stored result and does not emit a second time.
func (f *Finalizer) Finalize(sessionID string, board *gungi.Board, log []gungi.MoveRecord) (Result, error) {
	f.mu.Lock()
	if stored, ok := f.results[sessionID]; ok {
		f.mu.Unlock()
		return stored, nil
	}

	result := Result{
		SessionID: sessionID,
		Winner:    determineWinner(board),
		FinalHash: FinalHash(board, log),
		MoveCount: len(log),
	}
	f.results[sessionID] = result
	f.mu.Unlock()

	if f.notifier != nil {
		// Emission is at-most-once. A delivery failure is logged, not
		// retried; the stored result remains authoritative for audit.
		if err := f.notifier.NotifySettlement(result, log); err != nil && f.logger != nil {
			f.logger.Error("settlement notification failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	if f.logger != nil {
		f.logger.Info("session settled",
			zap.String("session_id", sessionID),
			zap.String("winner", string(result.Winner)),
			zap.Int("move_count", result.MoveCount),
			zap.String("final_hash", result.FinalHash),
		)
	}
	return result, nil
}

// FinalizeWith records a settlement with a predetermined winner, used for
// resignation where the board does not decide the outcome. If the session is
// already finalized the stored result is returned with ErrAlreadyFinalized.
func (f *Finalizer) FinalizeWith(sessionID string, winner Outcome, board *gungi.Board, log []gungi.MoveRecord) (Result, error) {
	f.mu.Lock()
	if stored, ok := f.results[sessionID]; ok {
		f.mu.Unlock()
		return stored, ErrAlreadyFinalized
	}
	result := Result{
		SessionID: sessionID,
		Winner:    winner,
		FinalHash: FinalHash(board, log),
		MoveCount: len(log),
	}
	f.results[sessionID] = result
	f.mu.Unlock()

	if f.notifier != nil {
		if err := f.notifier.NotifySettlement(result, log); err != nil && f.logger != nil {
			f.logger.Error("settlement notification failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

// Result returns the stored settlement for a session, if finalized.
func (f *Finalizer) Result(sessionID string) (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.results[sessionID]
	return stored, ok
}

// determineWinner applies the terminal rules: a side whose Marshal is gone
// has lost; otherwise material score decides, with equal scores drawn.
func determineWinner(board *gungi.Board) Outcome {
	m1 := board.FindMarshal(gungi.Player1)
	m2 := board.FindMarshal(gungi.Player2)
	switch {
	case m1 == gungi.NoEntity && m2 == gungi.NoEntity:
		return OutcomeDraw
	case m1 == gungi.NoEntity:
		return OutcomePlayer2
	case m2 == gungi.NoEntity:
		return OutcomePlayer1
	}

	s1 := board.MaterialScore(gungi.Player1)
	s2 := board.MaterialScore(gungi.Player2)
	switch {
	case s1 > s2:
		return OutcomePlayer1
	case s2 > s1:
		return OutcomePlayer2
	default:
		return OutcomeDraw
	}
}

// FinalHash digests the full move log together with the terminal board
// arrangement. Both sides of a dispute can recompute it from the replay log.
func FinalHash(board *gungi.Board, log []gungi.MoveRecord) string {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%s\n%s\n%d", gungi.HashMoveLog(log), board.Hash(), len(log))
	return hex.EncodeToString(h.Sum(nil))
}
