package gungi

// layoutEntry places one piece type at Player1-relative coordinates. The
// layout is mirrored across the board midline for Player2 (y -> 8-y).
type layoutEntry struct {
	pieceType PieceType
	x, y      int
}

// initialLayout is the fixed opening arrangement: back rank command pieces,
// a second rank of support pieces, and a full rank of Minors in front.
var initialLayout = []layoutEntry{
	{Lance, 0, 0},
	{Major, 1, 0},
	{Lieutenant, 2, 0},
	{General, 3, 0},
	{Marshal, 4, 0},
	{General, 5, 0},
	{Lieutenant, 6, 0},
	{Major, 7, 0},
	{Lance, 8, 0},

	{Shinobi, 1, 1},
	{Fortress, 2, 1},
	{Bow, 3, 1},
	{Bow, 5, 1},
	{Fortress, 6, 1},
	{Shinobi, 7, 1},

	{Minor, 0, 2},
	{Minor, 1, 2},
	{Minor, 2, 2},
	{Minor, 3, 2},
	{Minor, 4, 2},
	{Minor, 5, 2},
	{Minor, 6, 2},
	{Minor, 7, 2},
	{Minor, 8, 2},
}

// NewInitialBoard builds a board with both sides in the opening layout and
// Player1 to move. The construction order is fixed so the resulting entity
// numbering, and therefore replays, are deterministic.
func NewInitialBoard() *Board {
	b := NewBoard()
	for _, entry := range initialLayout {
		b.Place(PieceComponent{Type: entry.pieceType, Owner: Player1}, entry.x, entry.y)
	}
	for _, entry := range initialLayout {
		b.Place(PieceComponent{Type: entry.pieceType, Owner: Player2}, entry.x, BoardSize-1-entry.y)
	}
	return b
}
