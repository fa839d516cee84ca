package gungi

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash computes the canonical board digest: BLAKE2b-256 over every occupied
// (x, y, level) slot in fixed traversal order plus the side to move. Entity
// identity is deliberately excluded so two boards with the same arrangement
// hash identically regardless of capture history.
func (b *Board) Hash() string {
	h, _ := blake2b.New256(nil)
	var buf [6]byte
	for x := 0; x < BoardSize; x++ {
		for y := 0; y < BoardSize; y++ {
			for level := 0; level < MaxLevels; level++ {
				e := b.grid[x][y][level]
				if e == NoEntity {
					continue
				}
				piece, _ := b.store.Piece(e)
				buf[0] = byte(x)
				buf[1] = byte(y)
				buf[2] = byte(level)
				buf[3] = byte(piece.Type)
				buf[4] = byte(piece.Owner)
				buf[5] = 0
				if piece.HasMoved {
					buf[5] = 1
				}
				h.Write(buf[:])
			}
		}
	}
	h.Write([]byte{byte(b.sideToMove)})
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotPiece is one piece in a serialized board snapshot.
type SnapshotPiece struct {
	X        int
	Y        int
	Level    int
	Type     PieceType
	Owner    Owner
	HasMoved bool
	HasAgent bool
	Agent    AIAgentComponent
}

// BoardSnapshot is a self-contained serialization of a board, used for
// migration state transfer. Pieces are listed in canonical traversal order.
type BoardSnapshot struct {
	Pieces     []SnapshotPiece
	SideToMove Owner
}

// Snapshot serializes the board.
func (b *Board) Snapshot() BoardSnapshot {
	snap := BoardSnapshot{SideToMove: b.sideToMove}
	for x := 0; x < BoardSize; x++ {
		for y := 0; y < BoardSize; y++ {
			for level := 0; level < MaxLevels; level++ {
				e := b.grid[x][y][level]
				if e == NoEntity {
					continue
				}
				piece, _ := b.store.Piece(e)
				sp := SnapshotPiece{
					X: x, Y: y, Level: level,
					Type:     piece.Type,
					Owner:    piece.Owner,
					HasMoved: piece.HasMoved,
				}
				if agent, ok := b.store.Agent(e); ok {
					sp.HasAgent = true
					sp.Agent = agent
				}
				snap.Pieces = append(snap.Pieces, sp)
			}
		}
	}
	return snap
}

// RestoreBoard rebuilds a board from a snapshot. Entity handles differ from
// the source board but the arrangement, agents and hash are identical.
func RestoreBoard(snap BoardSnapshot) *Board {
	b := NewBoard()
	b.sideToMove = snap.SideToMove
	for _, sp := range snap.Pieces {
		e := b.Place(PieceComponent{Type: sp.Type, Owner: sp.Owner, HasMoved: sp.HasMoved}, sp.X, sp.Y)
		if sp.HasAgent {
			b.store.SetAgent(e, sp.Agent)
		}
	}
	return b
}

// HashMoveLog digests an append-only move log. Combined with the final board
// hash it forms the settlement final hash.
func HashMoveLog(log []MoveRecord) string {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	for _, record := range log {
		h.Write([]byte{
			byte(record.From.X), byte(record.From.Y), byte(record.From.Level),
			byte(record.To.X), byte(record.To.Y), byte(record.To.Level),
			byte(record.PieceType), byte(record.Mover),
			boolByte(record.IsCapture),
		})
		binary.BigEndian.PutUint64(buf[:], uint64(record.Timestamp.UnixMilli()))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
