package ai

import (
	"github.com/gungiarena/gungi-server-go/internal/gungi"
)

// Scoring weights shared by all personalities.
const (
	captureWeight  = 10.0
	advanceWeight  = 1.0
	exposureWeight = 6.0
	guardWeight    = 2.0
)

// scoreMove dispatches on the personality variant. Higher is better for the
// moving side. The candidate set is always the full legal-move frontier;
// personalities only differ in how they rank it.
func (g *Generator) scoreMove(b *gungi.Board, side gungi.Owner, personality gungi.Personality, c Candidate) float64 {
	switch personality {
	case gungi.PersonalityAggressive:
		return aggressiveScore(b, side, c)
	case gungi.PersonalityDefensive:
		return defensiveScore(b, side, c)
	case gungi.PersonalityBalanced:
		return 0.5*aggressiveScore(b, side, c) + 0.5*defensiveScore(b, side, c)
	case gungi.PersonalityTactical:
		return g.tacticalScore(b, side, c)
	default:
		// Blitz never reaches the scorer.
		return aggressiveScore(b, side, c)
	}
}

// aggressiveScore rewards immediate capture value and advancement toward the
// opposing Marshal.
func aggressiveScore(b *gungi.Board, side gungi.Owner, c Candidate) float64 {
	score := 0.0
	if c.Effect.IsCapture {
		if piece, ok := b.Store().Piece(c.Effect.Captured); ok {
			score += captureWeight * float64(piece.Type.Value())
		}
	}

	if marshal := b.FindMarshal(side.Opponent()); marshal != gungi.NoEntity {
		target, _ := b.Store().Position(marshal)
		before := cellDistance(c.Move.From, target)
		after := cellDistance(c.Move.To, target)
		score += advanceWeight * float64(before-after)
	}
	return score
}

// defensiveScore rewards keeping own pieces out of capture range and staying
// near the own Marshal.
func defensiveScore(b *gungi.Board, side gungi.Owner, c Candidate) float64 {
	after := b.Clone()
	gungi.NewRules(gungi.DefaultRulesConfig()).ApplyMove(after, c.Effect)

	score := -exposureWeight * float64(exposedValue(after, side))

	if marshal := after.FindMarshal(side); marshal != gungi.NoEntity {
		home, _ := after.Store().Position(marshal)
		dist := cellDistance(c.Move.To, home)
		score += guardWeight * float64(gungi.BoardSize-dist)
	}
	if c.Effect.IsCapture {
		// Removing an attacker is defensive too, at reduced weight.
		if piece, ok := b.Store().Piece(c.Effect.Captured); ok {
			score += float64(piece.Type.Value())
		}
	}
	return score
}

// tacticalScore looks one ply deeper: the opponent's best aggressive answer
// to the candidate is subtracted from the move's own value, weighted by the
// configured reply coefficient.
func (g *Generator) tacticalScore(b *gungi.Board, side gungi.Owner, c Candidate) float64 {
	own := aggressiveScore(b, side, c)

	after := b.Clone()
	g.rules.ApplyMove(after, c.Effect)

	opponent := side.Opponent()
	bestReply := 0.0
	for _, reply := range enumerateReplies(g.rules, after, opponent) {
		if s := aggressiveScore(after, opponent, reply); s > bestReply {
			bestReply = s
		}
	}
	return own - g.tacticalReplyWeight*bestReply
}

// enumerateReplies lists the opponent's legal answers on a scratch board.
// Only capture replies matter to the aggressive reply score at depth one, so
// plain repositioning moves are filtered early to keep the ply cheap.
func enumerateReplies(rules *gungi.Rules, b *gungi.Board, side gungi.Owner) []Candidate {
	var replies []Candidate
	b.Store().Each(func(e gungi.EntityID, piece gungi.PieceComponent, pos gungi.PositionComponent) {
		if piece.Owner != side {
			return
		}
		if top, topLevel := b.Top(pos.X, pos.Y); top != e || topLevel != pos.Level {
			return
		}
		for _, dest := range destinationCells(b, piece, pos) {
			level := landingLevel(b, side, dest[0], dest[1])
			if level < 0 {
				continue
			}
			to := gungi.PositionComponent{X: dest[0], Y: dest[1], Level: level}
			effect, err := rules.ValidateMove(b, pos, to, side)
			if err != nil || !effect.IsCapture {
				continue
			}
			replies = append(replies, Candidate{Move: gungi.Move{From: pos, To: to}, Effect: effect})
		}
	})
	return replies
}

// exposedValue sums the value of side's pieces that the opponent could
// capture on its next move.
func exposedValue(b *gungi.Board, side gungi.Owner) int {
	opponent := side.Opponent()
	total := 0
	seen := map[gungi.EntityID]bool{}

	b.Store().Each(func(e gungi.EntityID, piece gungi.PieceComponent, pos gungi.PositionComponent) {
		if piece.Owner != opponent {
			return
		}
		if top, topLevel := b.Top(pos.X, pos.Y); top != e || topLevel != pos.Level {
			return
		}
		if !piece.Type.CanCapture() {
			return
		}
		for _, dest := range destinationCells(b, piece, pos) {
			target, _ := b.Top(dest[0], dest[1])
			if target == gungi.NoEntity || seen[target] {
				continue
			}
			targetPiece, ok := b.Store().Piece(target)
			if !ok || targetPiece.Owner != side {
				continue
			}
			seen[target] = true
			total += targetPiece.Type.Value()
		}
	})
	return total
}

// cellDistance is the Chebyshev distance between two cells; levels do not
// contribute.
func cellDistance(a, b gungi.PositionComponent) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
