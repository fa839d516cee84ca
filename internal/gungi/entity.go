package gungi

// EntityID is an opaque 64-bit handle to one piece on the board. The low 32
// bits hold the dense slot index in the component arena; the high 32 bits hold
// a generation counter so a handle to a removed entity never aliases a live
// one. The zero value is never a live entity.
type EntityID uint64

// NoEntity is the absent-entity sentinel.
const NoEntity EntityID = 0

const (
	bitsIndex = 32
	maskIndex = (uint64(1) << bitsIndex) - 1
)

func packEntityID(generation uint32, index uint32) EntityID {
	return EntityID(uint64(generation)<<bitsIndex | uint64(index))
}

// Index returns the dense arena slot for this entity.
func (id EntityID) Index() uint32 {
	return uint32(uint64(id) & maskIndex)
}

// Generation returns the generation counter packed into this entity.
func (id EntityID) Generation() uint32 {
	return uint32(uint64(id) >> bitsIndex)
}

// PositionComponent locates an entity on the 9x9x3 board.
type PositionComponent struct {
	X     int
	Y     int
	Level int
}

// AIAgentComponent configures one AI-controlled side. Sessions attach at most
// one agent record per side; human-controlled sides carry none.
type AIAgentComponent struct {
	Personality Personality
	SkillLevel  uint16
}

// ComponentStore holds the Position, Piece and AIAgent component tables as
// flat arrays keyed by dense entity index. The store is authority-free
// storage: it enforces no board invariants, the rules engine does that before
// mutating it. Entity slots are append-only within a session; removed slots
// stay dead and are never reused.
type ComponentStore struct {
	generations []uint32
	alive       []bool
	positions   []PositionComponent
	pieces      []PieceComponent
	agents      []AIAgentComponent
	hasAgent    []bool
}

// NewComponentStore creates an empty component store.
func NewComponentStore() *ComponentStore {
	return &ComponentStore{}
}

// Spawn allocates a new entity with the given piece and position components.
func (s *ComponentStore) Spawn(piece PieceComponent, pos PositionComponent) EntityID {
	index := uint32(len(s.pieces))
	// Generations start at 1 so a packed ID is never the NoEntity zero value.
	generation := uint32(1)
	s.generations = append(s.generations, generation)
	s.alive = append(s.alive, true)
	s.positions = append(s.positions, pos)
	s.pieces = append(s.pieces, piece)
	s.agents = append(s.agents, AIAgentComponent{})
	s.hasAgent = append(s.hasAgent, false)
	return packEntityID(generation, index)
}

func (s *ComponentStore) slot(e EntityID) (uint32, bool) {
	index := e.Index()
	if int(index) >= len(s.pieces) {
		return 0, false
	}
	if !s.alive[index] || s.generations[index] != e.Generation() {
		return 0, false
	}
	return index, true
}

// Alive reports whether the entity handle refers to a live entity.
func (s *ComponentStore) Alive(e EntityID) bool {
	_, ok := s.slot(e)
	return ok
}

// Position returns the position component for a live entity.
func (s *ComponentStore) Position(e EntityID) (PositionComponent, bool) {
	index, ok := s.slot(e)
	if !ok {
		return PositionComponent{}, false
	}
	return s.positions[index], true
}

// Piece returns the piece component for a live entity.
func (s *ComponentStore) Piece(e EntityID) (PieceComponent, bool) {
	index, ok := s.slot(e)
	if !ok {
		return PieceComponent{}, false
	}
	return s.pieces[index], true
}

// Agent returns the AI agent component for a live entity, if one is attached.
func (s *ComponentStore) Agent(e EntityID) (AIAgentComponent, bool) {
	index, ok := s.slot(e)
	if !ok || !s.hasAgent[index] {
		return AIAgentComponent{}, false
	}
	return s.agents[index], true
}

// SetPosition overwrites the position component of a live entity.
func (s *ComponentStore) SetPosition(e EntityID, pos PositionComponent) bool {
	index, ok := s.slot(e)
	if !ok {
		return false
	}
	s.positions[index] = pos
	return true
}

// SetPiece overwrites the piece component of a live entity.
func (s *ComponentStore) SetPiece(e EntityID, piece PieceComponent) bool {
	index, ok := s.slot(e)
	if !ok {
		return false
	}
	s.pieces[index] = piece
	return true
}

// SetAgent attaches an AI agent component to a live entity.
func (s *ComponentStore) SetAgent(e EntityID, agent AIAgentComponent) bool {
	index, ok := s.slot(e)
	if !ok {
		return false
	}
	s.agents[index] = agent
	s.hasAgent[index] = true
	return true
}

// Remove marks an entity dead. Its slot is never reallocated.
func (s *ComponentStore) Remove(e EntityID) bool {
	index, ok := s.slot(e)
	if !ok {
		return false
	}
	s.alive[index] = false
	return true
}

// Count returns the number of live entities.
func (s *ComponentStore) Count() int {
	n := 0
	for _, a := range s.alive {
		if a {
			n++
		}
	}
	return n
}

// Each calls fn for every live entity.
func (s *ComponentStore) Each(fn func(e EntityID, piece PieceComponent, pos PositionComponent)) {
	for i := range s.pieces {
		if !s.alive[i] {
			continue
		}
		fn(packEntityID(s.generations[i], uint32(i)), s.pieces[i], s.positions[i])
	}
}

// Clone returns a deep copy of the store. Entity handles remain valid across
// the copy, which is what lets the AI search on a scratch board.
func (s *ComponentStore) Clone() *ComponentStore {
	c := &ComponentStore{
		generations: append([]uint32(nil), s.generations...),
		alive:       append([]bool(nil), s.alive...),
		positions:   append([]PositionComponent(nil), s.positions...),
		pieces:      append([]PieceComponent(nil), s.pieces...),
		agents:      append([]AIAgentComponent(nil), s.agents...),
		hasAgent:    append([]bool(nil), s.hasAgent...),
	}
	return c
}
