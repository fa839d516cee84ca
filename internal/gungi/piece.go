package gungi

import "fmt"

// Owner identifies which side controls a piece.
type Owner int

const (
	Player1 Owner = iota
	Player2
)

func (o Owner) String() string {
	switch o {
	case Player1:
		return "PLAYER1"
	case Player2:
		return "PLAYER2"
	default:
		return fmt.Sprintf("OWNER_%d", int(o))
	}
}

// Opponent returns the other side.
func (o Owner) Opponent() Owner {
	if o == Player1 {
		return Player2
	}
	return Player1
}

// Forward returns the y direction this side advances in.
func (o Owner) Forward() int {
	if o == Player1 {
		return 1
	}
	return -1
}

// PieceType enumerates the nine Gungi piece kinds.
type PieceType int

const (
	Marshal PieceType = iota
	General
	Lieutenant
	Major
	Minor
	Shinobi
	Bow
	Lance
	Fortress
)

var pieceNames = map[PieceType]string{
	Marshal:    "MARSHAL",
	General:    "GENERAL",
	Lieutenant: "LIEUTENANT",
	Major:      "MAJOR",
	Minor:      "MINOR",
	Shinobi:    "SHINOBI",
	Bow:        "BOW",
	Lance:      "LANCE",
	Fortress:   "FORTRESS",
}

func (t PieceType) String() string {
	if name, ok := pieceNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PIECE_%d", int(t))
}

// Value returns the material value of the piece type, used by the AI scorer
// and the move-limit settlement rule. The Marshal's value dwarfs everything
// else so losing it always decides material.
func (t PieceType) Value() int {
	switch t {
	case Marshal:
		return 1000
	case General:
		return 9
	case Lieutenant:
		return 7
	case Major:
		return 5
	case Shinobi:
		return 4
	case Bow:
		return 4
	case Lance:
		return 3
	case Fortress:
		return 3
	case Minor:
		return 1
	default:
		return 0
	}
}

// PieceComponent describes one piece: its kind, controlling side, and whether
// it has moved since the initial layout.
type PieceComponent struct {
	Type     PieceType
	Owner    Owner
	HasMoved bool
}

// moveProfile is the fixed movement pattern for one piece type. Offsets are
// expressed with +y as forward; they are mirrored for Player2. Step offsets
// are single destinations; slide directions are walked until blocked. Jump
// profiles ignore intervening pieces.
type moveProfile struct {
	steps     [][2]int
	slides    [][2]int
	jumps     bool
	noCapture bool
}

var (
	orthoDirs = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagDirs  = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	allDirs   = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

var profiles = map[PieceType]moveProfile{
	Marshal:    {steps: allDirs},
	General:    {slides: orthoDirs},
	Lieutenant: {slides: diagDirs},
	Major:      {steps: orthoDirs},
	Minor:      {steps: [][2]int{{0, 1}, {1, 1}, {-1, 1}}},
	Shinobi:    {steps: [][2]int{{1, 2}, {-1, 2}, {1, -2}, {-1, -2}, {2, 1}, {-2, 1}, {2, -1}, {-2, -1}}, jumps: true},
	Bow:        {steps: [][2]int{{0, 2}, {0, -2}, {2, 0}, {-2, 0}}, jumps: true},
	Lance:      {slides: [][2]int{{0, 1}}},
	Fortress:   {steps: allDirs, noCapture: true},
}

// Profile returns the movement profile for a piece type.
func (t PieceType) profile() moveProfile {
	return profiles[t]
}

// ProfileSteps returns the step/jump offsets of a piece type, expressed with
// +y as forward.
func ProfileSteps(t PieceType) [][2]int {
	return profiles[t].steps
}

// ProfileSlides returns the slide directions of a piece type, expressed with
// +y as forward.
func ProfileSlides(t PieceType) [][2]int {
	return profiles[t].slides
}

// CanCapture reports whether the piece type is allowed to capture at all.
func (t PieceType) CanCapture() bool {
	return !profiles[t].noCapture
}
