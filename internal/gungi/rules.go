package gungi

import (
	"errors"
	"fmt"
	"time"
)

// Move-rejection kinds. Callers classify with errors.Is; rejected moves never
// mutate the board.
var (
	ErrInvalidPosition    = errors.New("invalid position")
	ErrInvalidMove        = errors.New("invalid move")
	ErrInvalidStacking    = errors.New("invalid stacking")
	ErrNotPlayerTurn      = errors.New("not player's turn")
	ErrUnauthorizedPlayer = errors.New("unauthorized player")
)

// Move is a proposed piece relocation.
type Move struct {
	From PositionComponent
	To   PositionComponent
}

// MoveEffect is the validated outcome of a move, ready for ApplyMove. It is
// derived purely from board state so any verifier reproduces it exactly.
type MoveEffect struct {
	Entity    EntityID
	PieceType PieceType
	Mover     Owner
	From      PositionComponent
	To        PositionComponent
	Captured  EntityID
	IsCapture bool
}

// MoveRecord is one entry of the append-only replay log.
type MoveRecord struct {
	From      PositionComponent
	To        PositionComponent
	PieceType PieceType
	Mover     Owner
	IsCapture bool
	Timestamp time.Time
}

// RulesConfig carries the tunable parts of the rules engine. The stacking
// capture rule is configurable pending confirmation of the original game's
// exact semantics.
type RulesConfig struct {
	// CaptureTopOnly restricts capture to the topmost occupant of the
	// destination cell. When false, a mover may also displace a buried enemy
	// piece at the submitted destination level.
	CaptureTopOnly bool
}

// DefaultRulesConfig returns the standard rule set.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{CaptureTopOnly: true}
}

// Rules validates and applies moves. It holds no board state and is safe for
// concurrent use across sessions.
type Rules struct {
	cfg RulesConfig
}

// NewRules creates a rules engine with the given configuration.
func NewRules(cfg RulesConfig) *Rules {
	return &Rules{cfg: cfg}
}

// ValidateMove checks a proposed move against geometry, ownership, the
// piece's movement profile and the stacking constraints. It returns the
// effect to apply or a specific rejection error. The board is not mutated.
func (r *Rules) ValidateMove(b *Board, from, to PositionComponent, mover Owner) (MoveEffect, error) {
	if !InBounds(from.X, from.Y, from.Level) {
		return MoveEffect{}, fmt.Errorf("from (%d,%d,%d): %w", from.X, from.Y, from.Level, ErrInvalidPosition)
	}
	if !InBounds(to.X, to.Y, to.Level) {
		return MoveEffect{}, fmt.Errorf("to (%d,%d,%d): %w", to.X, to.Y, to.Level, ErrInvalidPosition)
	}

	entity := b.EntityAt(from.X, from.Y, from.Level)
	if entity == NoEntity {
		return MoveEffect{}, fmt.Errorf("no piece at (%d,%d,%d): %w", from.X, from.Y, from.Level, ErrInvalidPosition)
	}

	piece, _ := b.store.Piece(entity)
	if piece.Owner != mover {
		return MoveEffect{}, fmt.Errorf("piece at (%d,%d,%d) belongs to %s: %w",
			from.X, from.Y, from.Level, piece.Owner, ErrUnauthorizedPlayer)
	}
	if b.sideToMove != mover {
		return MoveEffect{}, fmt.Errorf("%s to move: %w", b.sideToMove, ErrNotPlayerTurn)
	}

	// Only the topmost piece of a stack may move; lower tiers are pinned.
	if from.Level != b.StackHeight(from.X, from.Y)-1 {
		return MoveEffect{}, fmt.Errorf("piece at level %d is pinned under the stack: %w", from.Level, ErrInvalidStacking)
	}

	if from.X == to.X && from.Y == to.Y {
		return MoveEffect{}, fmt.Errorf("move must change cell: %w", ErrInvalidMove)
	}

	if !r.reachable(b, piece, from, to) {
		return MoveEffect{}, fmt.Errorf("%s cannot reach (%d,%d) from (%d,%d): %w",
			piece.Type, to.X, to.Y, from.X, from.Y, ErrInvalidMove)
	}

	return r.resolveDestination(b, entity, piece, from, to)
}

// reachable checks the piece's movement profile against the destination cell.
// Levels do not affect reachability; sliding pieces are blocked by any
// occupied cell on the path, jump profiles are not.
func (r *Rules) reachable(b *Board, piece PieceComponent, from, to PositionComponent) bool {
	profile := piece.Type.profile()
	forward := piece.Owner.Forward()
	dx := to.X - from.X
	dy := to.Y - from.Y

	for _, step := range profile.steps {
		if dx == step[0] && dy == step[1]*forward {
			return true
		}
	}

	for _, dir := range profile.slides {
		sx, sy := dir[0], dir[1]*forward
		x, y := from.X+sx, from.Y+sy
		for InBounds(x, y, 0) {
			if x == to.X && y == to.Y {
				return true
			}
			if b.Occupied(x, y) {
				break
			}
			x += sx
			y += sy
		}
	}

	return false
}

// resolveDestination computes the landing level and capture outcome at the
// destination cell and checks them against the submitted target level.
func (r *Rules) resolveDestination(b *Board, entity EntityID, piece PieceComponent, from, to PositionComponent) (MoveEffect, error) {
	effect := MoveEffect{
		Entity:    entity,
		PieceType: piece.Type,
		Mover:     piece.Owner,
		From:      from,
		To:        to,
	}

	height := b.StackHeight(to.X, to.Y)
	if height == 0 {
		if to.Level != 0 {
			return MoveEffect{}, fmt.Errorf("empty cell (%d,%d) must be entered at level 0: %w", to.X, to.Y, ErrInvalidStacking)
		}
		return effect, nil
	}

	topEntity, topLevel := b.Top(to.X, to.Y)
	topPiece, _ := b.store.Piece(topEntity)

	if topPiece.Owner != piece.Owner {
		// Capture: only the topmost occupant is exposed.
		if !piece.Type.CanCapture() {
			return MoveEffect{}, fmt.Errorf("%s cannot capture: %w", piece.Type, ErrInvalidMove)
		}
		target := topEntity
		targetLevel := topLevel
		if !r.cfg.CaptureTopOnly && to.Level < topLevel {
			target = b.EntityAt(to.X, to.Y, to.Level)
			targetLevel = to.Level
			targetPiece, _ := b.store.Piece(target)
			if targetPiece.Owner == piece.Owner {
				return MoveEffect{}, fmt.Errorf("cannot capture own piece at level %d: %w", to.Level, ErrInvalidStacking)
			}
		}
		if to.Level != targetLevel {
			return MoveEffect{}, fmt.Errorf("only the level-%d occupant of (%d,%d) is capturable: %w",
				targetLevel, to.X, to.Y, ErrInvalidStacking)
		}
		effect.Captured = target
		effect.IsCapture = true
		return effect, nil
	}

	// Friendly stack: land on the next unoccupied level.
	if height >= MaxLevels {
		return MoveEffect{}, fmt.Errorf("stack at (%d,%d) is full: %w", to.X, to.Y, ErrInvalidStacking)
	}
	if to.Level != height {
		return MoveEffect{}, fmt.Errorf("next free level at (%d,%d) is %d: %w", to.X, to.Y, height, ErrInvalidStacking)
	}
	return effect, nil
}

// ApplyMove mutates the board per a validated effect: removes the captured
// entity, relocates the mover, marks it moved and flips the side to move.
func (r *Rules) ApplyMove(b *Board, effect MoveEffect) {
	if effect.IsCapture {
		if pos, ok := b.store.Position(effect.Captured); ok {
			b.grid[pos.X][pos.Y][pos.Level] = NoEntity
			b.store.Remove(effect.Captured)
		}
	}

	b.grid[effect.From.X][effect.From.Y][effect.From.Level] = NoEntity
	b.grid[effect.To.X][effect.To.Y][effect.To.Level] = effect.Entity
	b.store.SetPosition(effect.Entity, effect.To)

	if piece, ok := b.store.Piece(effect.Entity); ok && !piece.HasMoved {
		piece.HasMoved = true
		b.store.SetPiece(effect.Entity, piece)
	}

	b.sideToMove = b.sideToMove.Opponent()
}

// Replay applies a move log to a board in order, validating every entry. It
// is the verification path for settlement and migration: identical input
// state and log always produce an identical board.
func (r *Rules) Replay(b *Board, log []MoveRecord) error {
	for i, record := range log {
		effect, err := r.ValidateMove(b, record.From, record.To, record.Mover)
		if err != nil {
			return fmt.Errorf("replay move %d: %w", i, err)
		}
		if effect.IsCapture != record.IsCapture {
			return fmt.Errorf("replay move %d: capture flag mismatch", i)
		}
		r.ApplyMove(b, effect)
	}
	return nil
}
