package settlement

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gungiarena/gungi-server-go/internal/gungi"
)

type captureNotifier struct {
	results []Result
	logs    [][]gungi.MoveRecord
	fail    error
}

func (n *captureNotifier) NotifySettlement(result Result, log []gungi.MoveRecord) error {
	if n.fail != nil {
		return n.fail
	}
	n.results = append(n.results, result)
	n.logs = append(n.logs, log)
	return nil
}

func boardWithoutMarshal(loser gungi.Owner) *gungi.Board {
	pieces := []gungi.SnapshotPiece{
		{X: 0, Y: 0, Type: gungi.General, Owner: gungi.Player1},
		{X: 8, Y: 8, Type: gungi.General, Owner: gungi.Player2},
	}
	if loser != gungi.Player1 {
		pieces = append(pieces, gungi.SnapshotPiece{X: 4, Y: 0, Type: gungi.Marshal, Owner: gungi.Player1})
	}
	if loser != gungi.Player2 {
		pieces = append(pieces, gungi.SnapshotPiece{X: 4, Y: 8, Type: gungi.Marshal, Owner: gungi.Player2})
	}
	return gungi.RestoreBoard(gungi.BoardSnapshot{Pieces: pieces, SideToMove: gungi.Player1})
}

func sampleLog() []gungi.MoveRecord {
	return []gungi.MoveRecord{
		{
			From:      gungi.PositionComponent{X: 4, Y: 2},
			To:        gungi.PositionComponent{X: 4, Y: 3},
			PieceType: gungi.Minor,
			Mover:     gungi.Player1,
			Timestamp: time.Unix(1700000000, 0),
		},
		{
			From:      gungi.PositionComponent{X: 4, Y: 6},
			To:        gungi.PositionComponent{X: 4, Y: 5},
			PieceType: gungi.Minor,
			Mover:     gungi.Player2,
			IsCapture: true,
			Timestamp: time.Unix(1700000010, 0),
		},
	}
}

func TestMarshalCaptureDecidesWinner(t *testing.T) {
	notifier := &captureNotifier{}
	f := NewFinalizer(notifier, zaptest.NewLogger(t))

	result, err := f.Finalize("s1", boardWithoutMarshal(gungi.Player2), sampleLog())
	require.NoError(t, err)
	require.Equal(t, OutcomePlayer1, result.Winner)
	require.Equal(t, 2, result.MoveCount)
	require.NotEmpty(t, result.FinalHash)

	// The notifier gets the move log alongside the result; it never needs
	// to fetch it from anywhere else.
	require.Len(t, notifier.logs, 1)
	require.Equal(t, sampleLog(), notifier.logs[0])

	result, err = f.Finalize("s2", boardWithoutMarshal(gungi.Player1), sampleLog())
	require.NoError(t, err)
	require.Equal(t, OutcomePlayer2, result.Winner)
}

func TestMaterialScoreDecidesAtMoveLimit(t *testing.T) {
	f := NewFinalizer(nil, zaptest.NewLogger(t))

	// Player1 keeps an extra General on an otherwise mirrored board.
	b := gungi.RestoreBoard(gungi.BoardSnapshot{Pieces: []gungi.SnapshotPiece{
		{X: 4, Y: 0, Type: gungi.Marshal, Owner: gungi.Player1},
		{X: 4, Y: 8, Type: gungi.Marshal, Owner: gungi.Player2},
		{X: 0, Y: 0, Type: gungi.General, Owner: gungi.Player1},
	}})
	result, err := f.Finalize("s1", b, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomePlayer1, result.Winner)

	even := gungi.RestoreBoard(gungi.BoardSnapshot{Pieces: []gungi.SnapshotPiece{
		{X: 4, Y: 0, Type: gungi.Marshal, Owner: gungi.Player1},
		{X: 4, Y: 8, Type: gungi.Marshal, Owner: gungi.Player2},
	}})
	result, err = f.Finalize("s2", even, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeDraw, result.Winner)
}

func TestFinalizeIsIdempotentAndEmitsOnce(t *testing.T) {
	notifier := &captureNotifier{}
	f := NewFinalizer(notifier, zaptest.NewLogger(t))

	first, err := f.Finalize("s1", boardWithoutMarshal(gungi.Player2), sampleLog())
	require.NoError(t, err)
	second, err := f.Finalize("s1", boardWithoutMarshal(gungi.Player2), sampleLog())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, notifier.results, 1, "settlement must be emitted at most once")

	stored, ok := f.Result("s1")
	require.True(t, ok)
	require.Equal(t, first, stored)
}

func TestNotifierFailureDoesNotLoseResult(t *testing.T) {
	notifier := &captureNotifier{fail: errors.New("escrow unreachable")}
	f := NewFinalizer(notifier, zaptest.NewLogger(t))

	result, err := f.Finalize("s1", boardWithoutMarshal(gungi.Player1), sampleLog())
	require.NoError(t, err)

	stored, ok := f.Result("s1")
	require.True(t, ok)
	require.Equal(t, result, stored)
}

func TestFinalHashCoversLogAndBoard(t *testing.T) {
	b := boardWithoutMarshal(gungi.Player2)
	log := sampleLog()

	require.Equal(t, FinalHash(b, log), FinalHash(b, log))

	// A different log or board arrangement changes the hash.
	require.NotEqual(t, FinalHash(b, log), FinalHash(b, log[:1]))
	require.NotEqual(t, FinalHash(b, log), FinalHash(boardWithoutMarshal(gungi.Player1), log))
}
