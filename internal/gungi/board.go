package gungi

// Board dimensions. A cell holds up to MaxLevels stacked pieces.
const (
	BoardSize = 9
	MaxLevels = 3
)

// InBounds reports whether a coordinate triple is on the board.
func InBounds(x, y, level int) bool {
	return x >= 0 && x < BoardSize && y >= 0 && y < BoardSize && level >= 0 && level < MaxLevels
}

// Board combines the component store with a (x, y, level) occupancy index.
// The index is kept in lockstep with the store by ApplyMove; nothing else
// mutates it. The board also tracks the side to move, which participates in
// the snapshot hash.
type Board struct {
	store      *ComponentStore
	grid       [BoardSize][BoardSize][MaxLevels]EntityID
	sideToMove Owner
}

// NewBoard creates an empty board with Player1 to move.
func NewBoard() *Board {
	return &Board{store: NewComponentStore(), sideToMove: Player1}
}

// Store exposes the underlying component store.
func (b *Board) Store() *ComponentStore {
	return b.store
}

// SideToMove returns the side whose turn it is.
func (b *Board) SideToMove() Owner {
	return b.sideToMove
}

// EntityAt returns the entity occupying the exact (x, y, level) slot.
func (b *Board) EntityAt(x, y, level int) EntityID {
	if !InBounds(x, y, level) {
		return NoEntity
	}
	return b.grid[x][y][level]
}

// StackHeight returns the number of occupied levels at (x, y). Stacks are
// contiguous from level 0, so this is also the next free level.
func (b *Board) StackHeight(x, y int) int {
	for level := 0; level < MaxLevels; level++ {
		if b.grid[x][y][level] == NoEntity {
			return level
		}
	}
	return MaxLevels
}

// Top returns the topmost entity at (x, y) and its level, or NoEntity when
// the cell is empty.
func (b *Board) Top(x, y int) (EntityID, int) {
	h := b.StackHeight(x, y)
	if h == 0 {
		return NoEntity, -1
	}
	return b.grid[x][y][h-1], h - 1
}

// Occupied reports whether any level at (x, y) holds a piece.
func (b *Board) Occupied(x, y int) bool {
	return b.grid[x][y][0] != NoEntity
}

// Place spawns a piece at the next free level of (x, y). Used only for board
// setup and snapshot restore; gameplay mutation goes through ApplyMove.
func (b *Board) Place(piece PieceComponent, x, y int) EntityID {
	h := b.StackHeight(x, y)
	if h >= MaxLevels {
		return NoEntity
	}
	pos := PositionComponent{X: x, Y: y, Level: h}
	e := b.store.Spawn(piece, pos)
	b.grid[x][y][h] = e
	return e
}

// FindMarshal returns the Marshal entity for a side, or NoEntity when it has
// been captured.
func (b *Board) FindMarshal(side Owner) EntityID {
	found := NoEntity
	b.store.Each(func(e EntityID, piece PieceComponent, _ PositionComponent) {
		if piece.Type == Marshal && piece.Owner == side {
			found = e
		}
	})
	return found
}

// MaterialScore sums the piece values a side still has on the board.
func (b *Board) MaterialScore(side Owner) int {
	total := 0
	b.store.Each(func(_ EntityID, piece PieceComponent, _ PositionComponent) {
		if piece.Owner == side {
			total += piece.Type.Value()
		}
	})
	return total
}

// Clone returns a deep copy of the board for scratch evaluation.
func (b *Board) Clone() *Board {
	c := &Board{
		store:      b.store.Clone(),
		grid:       b.grid,
		sideToMove: b.sideToMove,
	}
	return c
}
