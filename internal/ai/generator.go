package ai

import (
	"math/rand"
	"sync"
	"time"

	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"go.uber.org/zap"
)

// Candidate is one legal move together with its validated effect.
type Candidate struct {
	Move   gungi.Move
	Effect gungi.MoveEffect
}

// Generator enumerates legal moves and selects one under a deadline. Tie
// breaks draw from a seeded source so a session's AI turns replay
// identically. A Generator is owned by one session; callers already
// serialize moves per session so only the rand source needs a lock.
type Generator struct {
	logger *zap.Logger
	rules  *gungi.Rules

	// tacticalReplyWeight scales the opponent-reply penalty of the Tactical
	// personality. Configurable pending confirmation of the original tuning.
	tacticalReplyWeight float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator seeded for one session.
func NewGenerator(rules *gungi.Rules, seed int64, logger *zap.Logger) *Generator {
	return &Generator{
		logger:              logger,
		rules:               rules,
		tacticalReplyWeight: 1.0,
		rng:                 rand.New(rand.NewSource(seed)),
	}
}

// SetTacticalReplyWeight overrides the Tactical lookahead coefficient.
func (g *Generator) SetTacticalReplyWeight(w float64) {
	g.tacticalReplyWeight = w
}

// TacticalReplyWeight returns the current Tactical lookahead coefficient.
func (g *Generator) TacticalReplyWeight() float64 {
	return g.tacticalReplyWeight
}

// GenerateLegalMoves enumerates every move for side that passes the rules
// engine. It walks each topmost piece's movement profile rather than all 243
// destination slots, then confirms with ValidateMove so the frontier and the
// engine can never disagree.
func (g *Generator) GenerateLegalMoves(b *gungi.Board, side gungi.Owner) []Candidate {
	var out []Candidate

	b.Store().Each(func(e gungi.EntityID, piece gungi.PieceComponent, pos gungi.PositionComponent) {
		if piece.Owner != side {
			return
		}
		top, topLevel := b.Top(pos.X, pos.Y)
		if top != e || topLevel != pos.Level {
			return // pinned under a stack
		}
		for _, dest := range destinationCells(b, piece, pos) {
			to := gungi.PositionComponent{X: dest[0], Y: dest[1], Level: landingLevel(b, side, dest[0], dest[1])}
			if to.Level < 0 {
				continue
			}
			effect, err := g.rules.ValidateMove(b, pos, to, side)
			if err != nil {
				continue
			}
			out = append(out, Candidate{Move: gungi.Move{From: pos, To: to}, Effect: effect})
		}
	})

	return out
}

// destinationCells lists the (x, y) cells a piece's profile can target,
// ignoring stacking; ValidateMove settles legality.
func destinationCells(b *gungi.Board, piece gungi.PieceComponent, from gungi.PositionComponent) [][2]int {
	var cells [][2]int
	forward := piece.Owner.Forward()

	for _, step := range gungi.ProfileSteps(piece.Type) {
		x, y := from.X+step[0], from.Y+step[1]*forward
		if gungi.InBounds(x, y, 0) {
			cells = append(cells, [2]int{x, y})
		}
	}
	for _, dir := range gungi.ProfileSlides(piece.Type) {
		sx, sy := dir[0], dir[1]*forward
		x, y := from.X+sx, from.Y+sy
		for gungi.InBounds(x, y, 0) {
			cells = append(cells, [2]int{x, y})
			if b.Occupied(x, y) {
				break
			}
			x += sx
			y += sy
		}
	}
	return cells
}

// landingLevel computes the level a mover of side would land on at (x, y):
// the enemy topmost level on capture, the next free level on a friendly
// stack, 0 on an empty cell, -1 when the stack is full.
func landingLevel(b *gungi.Board, side gungi.Owner, x, y int) int {
	top, topLevel := b.Top(x, y)
	if top == gungi.NoEntity {
		return 0
	}
	piece, _ := b.Store().Piece(top)
	if piece.Owner != side {
		return topLevel
	}
	if topLevel+1 >= gungi.MaxLevels {
		return -1
	}
	return topLevel + 1
}

// SelectMove picks a move for the agent before the deadline. It is an
// anytime algorithm: the elapsed time is checked between candidate
// evaluations and the best move found so far is returned when the budget
// runs out. The second return value is false only when side has no legal
// move at all.
func (g *Generator) SelectMove(b *gungi.Board, side gungi.Owner, agent gungi.AIAgentComponent, deadline time.Time) (gungi.Move, bool) {
	started := time.Now()
	candidates := g.GenerateLegalMoves(b, side)
	if len(candidates) == 0 {
		return gungi.Move{}, false
	}

	g.shuffle(candidates)

	var chosen gungi.Move
	if agent.Personality == gungi.PersonalityBlitz {
		chosen = g.selectBlitz(b, side, candidates)
	} else {
		chosen = g.selectScored(b, side, agent, candidates, deadline)
	}

	if g.logger != nil {
		g.logger.Debug("ai move selected",
			zap.String("personality", agent.Personality.String()),
			zap.Uint16("skill_level", agent.SkillLevel),
			zap.Int("candidates", len(candidates)),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
	return chosen, true
}

// selectScored runs the personality scorer over a skill-scaled candidate
// budget, stopping at the deadline with the best move so far.
func (g *Generator) selectScored(b *gungi.Board, side gungi.Owner, agent gungi.AIAgentComponent, candidates []Candidate, deadline time.Time) gungi.Move {
	budget := deepBudget(agent.SkillLevel)
	if budget > len(candidates) {
		budget = len(candidates)
	}

	best := candidates[0].Move
	bestScore := g.scoreMove(b, side, agent.Personality, candidates[0])
	for i := 1; i < budget; i++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		score := g.scoreMove(b, side, agent.Personality, candidates[i])
		if score > bestScore {
			bestScore = score
			best = candidates[i].Move
		}
	}
	return best
}

// selectBlitz applies the cheap capture > advance > random ordering without
// any board evaluation.
func (g *Generator) selectBlitz(b *gungi.Board, side gungi.Owner, candidates []Candidate) gungi.Move {
	for _, c := range candidates {
		if c.Effect.IsCapture {
			return c.Move
		}
	}
	forward := side.Forward()
	for _, c := range candidates {
		if (c.Move.To.Y-c.Move.From.Y)*forward > 0 {
			return c.Move
		}
	}
	return candidates[0].Move
}

// deepBudget maps skill monotonically onto the number of candidates that get
// a full evaluation.
func deepBudget(skill uint16) int {
	return 4 + int(skill)*28/65535
}

func (g *Generator) shuffle(candidates []Candidate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
}
