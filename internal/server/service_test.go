package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"github.com/gungiarena/gungi-server-go/internal/placement"
	"github.com/gungiarena/gungi-server-go/internal/session"
	"github.com/gungiarena/gungi-server-go/internal/settlement"
)

func newService(t *testing.T) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	manager := session.NewManager(
		session.Config{},
		gungi.NewRules(gungi.DefaultRulesConfig()),
		placement.NewController(nil, 0, logger),
		placement.NewMemoryTransport(),
		settlement.NewFinalizer(nil, logger),
		nil,
		logger,
	)
	return NewService(manager, logger)
}

func TestCreateSessionValidation(t *testing.T) {
	svc := newService(t)

	resp := svc.CreateSession(CreateSessionRequest{})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "player_id is required")

	resp = svc.CreateSession(CreateSessionRequest{Players: [2]PlayerRequest{
		{PlayerID: "alice"},
		{PlayerID: "alice"},
	}})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "distinct")

	resp = svc.CreateSession(CreateSessionRequest{Players: [2]PlayerRequest{
		{PlayerID: "alice"},
		{PlayerID: "cpu", IsAI: true, Personality: "sneaky"},
	}})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "unknown personality")
}

func TestFullFlowThroughFacade(t *testing.T) {
	svc := newService(t)

	created := svc.CreateSession(CreateSessionRequest{Players: [2]PlayerRequest{
		{PlayerID: "alice", RegionHint: string(placement.RegionUSEast)},
		{PlayerID: "bob", RegionHint: string(placement.RegionUSEast)},
	}})
	require.True(t, created.Success, created.Error)
	require.NotEmpty(t, created.SessionID)
	require.Equal(t, string(placement.RegionUSEast), created.Region)

	moved := svc.SubmitMove(SubmitMoveRequest{
		SessionID:   created.SessionID,
		PlayerID:    "alice",
		FromX:       4,
		FromY:       2,
		ToX:         4,
		ToY:         3,
		Token:       "tok",
		TokenIssued: time.Now().UnixMilli(),
	})
	require.True(t, moved.Success, moved.Error)
	require.Equal(t, 1, moved.MoveCount)
	require.Equal(t, "ACTIVE", moved.Status)

	// Invalid moves surface the rules error.
	rejected := svc.SubmitMove(SubmitMoveRequest{
		SessionID:   created.SessionID,
		PlayerID:    "bob",
		FromX:       4,
		FromY:       6,
		ToX:         4,
		ToY:         2,
		Token:       "tok",
		TokenIssued: time.Now().UnixMilli(),
	})
	require.False(t, rejected.Success)
	require.NotEmpty(t, rejected.Error)

	migrated := svc.MigrateSession(context.Background(), MigrateSessionRequest{
		SessionID:    created.SessionID,
		TargetRegion: string(placement.RegionEUWest),
	})
	require.True(t, migrated.Success, migrated.Error)
	require.Equal(t, string(placement.RegionEUWest), migrated.Region)

	resigned := svc.Resign(created.SessionID, "bob")
	require.True(t, resigned.Success, resigned.Error)
	require.Equal(t, string(settlement.OutcomePlayer1), resigned.Winner)

	finalized := svc.FinalizeSession(created.SessionID)
	require.True(t, finalized.Success, finalized.Error)
	require.Equal(t, resigned.Winner, finalized.Winner)
	require.Equal(t, resigned.FinalHash, finalized.FinalHash)
}

func TestSubmitMoveValidation(t *testing.T) {
	svc := newService(t)
	resp := svc.SubmitMove(SubmitMoveRequest{})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "session_id is required")
}
