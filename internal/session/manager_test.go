package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"github.com/gungiarena/gungi-server-go/internal/placement"
	"github.com/gungiarena/gungi-server-go/internal/settlement"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(event Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *capturePublisher) byType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// blockingTransport holds every transfer until released, so tests can submit
// moves while a migration is in flight.
type blockingTransport struct {
	inner   *placement.MemoryTransport
	release chan struct{}
}

func (t *blockingTransport) Transfer(ctx context.Context, target placement.Region, transfer placement.StateTransfer) error {
	select {
	case <-t.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return t.inner.Transfer(ctx, target, transfer)
}

type managerFixture struct {
	manager   *Manager
	transport *placement.MemoryTransport
	blocking  *blockingTransport
	publisher *capturePublisher
	notifier  *captureNotifier
}

type captureNotifier struct {
	mu      sync.Mutex
	results []settlement.Result
	logs    [][]gungi.MoveRecord
}

func (n *captureNotifier) NotifySettlement(result settlement.Result, log []gungi.MoveRecord) error {
	n.mu.Lock()
	n.results = append(n.results, result)
	n.logs = append(n.logs, log)
	n.mu.Unlock()
	return nil
}

func newFixture(t *testing.T, cfg Config) *managerFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	inner := placement.NewMemoryTransport()
	blocking := &blockingTransport{inner: inner, release: make(chan struct{})}
	publisher := &capturePublisher{}
	notifier := &captureNotifier{}

	manager := NewManager(
		cfg,
		gungi.NewRules(gungi.DefaultRulesConfig()),
		placement.NewController(nil, 0, logger),
		blocking,
		settlement.NewFinalizer(notifier, logger),
		publisher,
		logger,
	)
	return &managerFixture{
		manager:   manager,
		transport: inner,
		blocking:  blocking,
		publisher: publisher,
		notifier:  notifier,
	}
}

func humanPlayers() [2]PlayerSpec {
	return [2]PlayerSpec{
		{PlayerID: "alice", RegionHint: placement.RegionUSEast},
		{PlayerID: "bob", RegionHint: placement.RegionUSEast},
	}
}

func freshToken() MoveToken {
	return MoveToken{Value: "tok", IssuedAt: time.Now()}
}

func mv(fx, fy, tx, ty int) gungi.Move {
	return gungi.Move{
		From: gungi.PositionComponent{X: fx, Y: fy},
		To:   gungi.PositionComponent{X: tx, Y: ty},
	}
}

func TestCreateSessionInitializesBoardAndRegion(t *testing.T) {
	fix := newFixture(t, Config{})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	require.Equal(t, StatusActive, s.Status())
	require.Equal(t, placement.RegionUSEast, s.Region())
	require.Equal(t, 0, s.MoveCount())
	require.Equal(t, gungi.Player1, s.SideToMove())
	require.Len(t, fix.publisher.byType(EventSessionCreated), 1)

	// Both sides field the full initial layout.
	require.Equal(t, gungi.NewInitialBoard().Hash(), s.BoardHash())
}

func TestSubmitMoveTurnOrderAndAuthorization(t *testing.T) {
	fix := newFixture(t, Config{})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	// Player2 cannot open, and the rejection mutates nothing.
	before := s.BoardHash()
	_, err = fix.manager.SubmitMove(s.ID(), "bob", mv(4, 6, 4, 5), freshToken())
	require.True(t, errors.Is(err, gungi.ErrNotPlayerTurn))
	require.Equal(t, 0, s.MoveCount())
	require.Equal(t, before, s.BoardHash())

	// Unknown identities are rejected regardless of the move.
	_, err = fix.manager.SubmitMove(s.ID(), "mallory", mv(4, 2, 4, 3), freshToken())
	require.True(t, errors.Is(err, gungi.ErrUnauthorizedPlayer))

	// The legal opening goes through.
	result, err := fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), freshToken())
	require.NoError(t, err)
	require.Equal(t, 1, result.MoveCount)
	require.False(t, result.IsCapture)
	require.Equal(t, gungi.Player2, s.SideToMove())
	require.Len(t, fix.publisher.byType(EventMoveExecuted), 1)
}

func TestSubmitMoveTokenFreshness(t *testing.T) {
	fix := newFixture(t, Config{TokenMaxAge: time.Second})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), MoveToken{})
	require.True(t, errors.Is(err, ErrStaleMoveToken), "missing token must be rejected")

	old := MoveToken{Value: "tok", IssuedAt: time.Now().Add(-time.Minute)}
	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), old)
	require.True(t, errors.Is(err, ErrStaleMoveToken), "aged token must be rejected")
	require.Equal(t, 0, s.MoveCount())
}

func TestMigrationQueuesAndReplaysMoves(t *testing.T) {
	fix := newFixture(t, Config{})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	// One applied move before migrating.
	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), freshToken())
	require.NoError(t, err)
	preCount := s.MoveCount()
	preHash := s.BoardHash()

	migrated := make(chan error, 1)
	go func() {
		migrated <- fix.manager.MigrateSession(context.Background(), s.ID(), placement.RegionEUWest, "latency")
	}()
	waitForStatus(t, s, StatusMigrating)

	// Submissions during the transfer are parked, not rejected.
	queued, err := fix.manager.SubmitMove(s.ID(), "bob", mv(4, 6, 4, 5), freshToken())
	require.NoError(t, err)
	require.True(t, queued.Queued)
	require.Equal(t, preCount, s.MoveCount(), "queued move must not apply mid-transfer")

	close(fix.blocking.release)
	require.NoError(t, <-migrated)

	require.Equal(t, StatusActive, s.Status())
	require.Equal(t, placement.RegionEUWest, s.Region())
	require.Equal(t, preCount+1, s.MoveCount(), "queued move replays exactly once")
	require.NoError(t, fix.manager.VerifySession(s.ID()))

	// The transferred snapshot carries the pre-migration version.
	applied, ok := fix.transport.Applied(placement.RegionEUWest, s.ID())
	require.True(t, ok)
	require.Equal(t, preCount, applied.MoveCount)
	require.Equal(t, preHash, gungi.RestoreBoard(applied.Board).Hash())

	require.Len(t, fix.publisher.byType(EventSessionMigrated), 1)

	// Subscribers see the replayed move the same way as a direct one: one
	// event for alice's move, one for bob's drained submission.
	require.Len(t, fix.publisher.byType(EventMoveExecuted), 2)
}

func TestMigrationQueueOverflowRejectsWithBusy(t *testing.T) {
	fix := newFixture(t, Config{MaxQueueDepth: 1})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	migrated := make(chan error, 1)
	go func() {
		migrated <- fix.manager.MigrateSession(context.Background(), s.ID(), placement.RegionEUWest, "manual")
	}()
	waitForStatus(t, s, StatusMigrating)

	first, err := fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), freshToken())
	require.NoError(t, err)
	require.True(t, first.Queued)

	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(3, 2, 3, 3), freshToken())
	require.True(t, errors.Is(err, ErrSessionBusy))

	close(fix.blocking.release)
	require.NoError(t, <-migrated)
}

func TestMigrationAbortKeepsSessionActiveInPlace(t *testing.T) {
	fix := newFixture(t, Config{TransferRetries: 2})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), freshToken())
	require.NoError(t, err)
	preCount := s.MoveCount()
	preHash := s.BoardHash()
	preRegion := s.Region()

	fix.transport.SetUnreachable(placement.RegionAPSouth, true)
	close(fix.blocking.release)

	err = fix.manager.MigrateSession(context.Background(), s.ID(), placement.RegionAPSouth, "manual")
	require.True(t, errors.Is(err, ErrMigrationFailed))

	require.Equal(t, StatusActive, s.Status())
	require.Equal(t, preRegion, s.Region())
	require.Equal(t, preCount, s.MoveCount())
	require.Equal(t, preHash, s.BoardHash())
}

func TestMoveLimitCompletesAndSettles(t *testing.T) {
	fix := newFixture(t, Config{MoveLimit: 2})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), freshToken())
	require.NoError(t, err)
	result, err := fix.manager.SubmitMove(s.ID(), "bob", mv(4, 6, 4, 5), freshToken())
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)

	// Mirrored material at the limit is a draw.
	first, err := fix.manager.FinalizeSession(s.ID())
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomeDraw, first.Winner)
	require.Equal(t, 2, first.MoveCount)

	second, err := fix.manager.FinalizeSession(s.ID())
	require.NoError(t, err)
	require.Equal(t, first, second)

	// The escrow collaborator heard about it exactly once, with the full
	// move log in hand.
	require.Len(t, fix.notifier.results, 1)
	require.Len(t, fix.notifier.logs, 1)
	require.Len(t, fix.notifier.logs[0], 2)
	require.Len(t, fix.publisher.byType(EventSettlementResult), 1)

	// A completed session accepts no further mutation.
	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(3, 2, 3, 3), freshToken())
	require.True(t, errors.Is(err, ErrSessionNotActive))
}

func TestSettlementReturnsWhileSessionLocked(t *testing.T) {
	fix := newFixture(t, Config{})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), freshToken())
	require.NoError(t, err)
	_, err = fix.manager.SubmitMove(s.ID(), "bob", mv(4, 6, 4, 5), freshToken())
	require.NoError(t, err)

	// Resign settles while the session mutex is held; the notifier already
	// has the move log, so delivery needs nothing back from the session.
	done := make(chan error, 1)
	go func() {
		_, resignErr := fix.manager.Resign(s.ID(), "alice")
		done <- resignErr
	}()
	select {
	case resignErr := <-done:
		require.NoError(t, resignErr)
	case <-time.After(3 * time.Second):
		t.Fatal("resignation never returned; settlement blocked on session state")
	}

	require.Len(t, fix.notifier.logs, 1)
	require.Equal(t, s.MoveLog(), fix.notifier.logs[0])
}

func TestResignAwardsOpponent(t *testing.T) {
	fix := newFixture(t, Config{})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	result, err := fix.manager.Resign(s.ID(), "alice")
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomePlayer2, result.Winner)
	require.Equal(t, StatusCompleted, s.Status())

	_, err = fix.manager.Resign(s.ID(), "bob")
	require.True(t, errors.Is(err, ErrSessionNotActive))
}

func TestPlayAITurnDrivesAgentSide(t *testing.T) {
	fix := newFixture(t, Config{AIMoveBudget: 200 * time.Millisecond})
	players := [2]PlayerSpec{
		{PlayerID: "alice"},
		{PlayerID: "cpu", IsAI: true, Personality: gungi.PersonalityBalanced, SkillLevel: 30000},
	}
	s, err := fix.manager.CreateSession(players)
	require.NoError(t, err)

	// Not the AI's turn yet.
	_, err = fix.manager.PlayAITurn(s.ID())
	require.Error(t, err)

	_, err = fix.manager.SubmitMove(s.ID(), "alice", mv(4, 2, 4, 3), freshToken())
	require.NoError(t, err)

	result, err := fix.manager.PlayAITurn(s.ID())
	require.NoError(t, err)
	require.Equal(t, 2, result.MoveCount)
	require.Equal(t, gungi.Player1, s.SideToMove())
	require.NoError(t, fix.manager.VerifySession(s.ID()))
}

func TestVerifySessionAfterPlay(t *testing.T) {
	fix := newFixture(t, Config{})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	moves := []struct {
		player string
		move   gungi.Move
	}{
		{"alice", mv(4, 2, 4, 3)},
		{"bob", mv(4, 6, 4, 5)},
		{"alice", mv(3, 2, 3, 3)},
		{"bob", mv(5, 6, 5, 5)},
	}
	for _, step := range moves {
		_, err := fix.manager.SubmitMove(s.ID(), step.player, step.move, freshToken())
		require.NoError(t, err)
	}
	require.Equal(t, 4, s.MoveCount())
	require.NoError(t, fix.manager.VerifySession(s.ID()))
}

func TestSessionCapacity(t *testing.T) {
	fix := newFixture(t, Config{MaxSessions: 1})
	_, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	_, err = fix.manager.CreateSession([2]PlayerSpec{{PlayerID: "carol"}, {PlayerID: "dave"}})
	require.True(t, errors.Is(err, ErrSessionBusy))
}

func TestSweepRetiresCompletedSessions(t *testing.T) {
	fix := newFixture(t, Config{MaxSessions: 1, CompletedRetention: 5 * time.Minute})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	_, err = fix.manager.Resign(s.ID(), "alice")
	require.NoError(t, err)

	// Inside the retention window the session stays queryable and keeps its
	// capacity slot.
	require.Equal(t, 0, fix.manager.sweepCompleted(time.Now()))
	_, err = fix.manager.Session(s.ID())
	require.NoError(t, err)
	_, err = fix.manager.CreateSession([2]PlayerSpec{{PlayerID: "carol"}, {PlayerID: "dave"}})
	require.True(t, errors.Is(err, ErrSessionBusy))

	// Past the window the sweep retires it and frees the slot.
	require.Equal(t, 1, fix.manager.sweepCompleted(time.Now().Add(10*time.Minute)))
	_, err = fix.manager.Session(s.ID())
	require.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = fix.manager.CreateSession([2]PlayerSpec{{PlayerID: "carol"}, {PlayerID: "dave"}})
	require.NoError(t, err)
}

func TestSweepSparesLiveSessions(t *testing.T) {
	fix := newFixture(t, Config{})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)

	require.Equal(t, 0, fix.manager.sweepCompleted(time.Now().Add(time.Hour)))
	_, err = fix.manager.Session(s.ID())
	require.NoError(t, err)
}

func TestTacticalReplyWeightReachesGenerator(t *testing.T) {
	fix := newFixture(t, Config{TacticalReplyWeight: 0.5})
	s, err := fix.manager.CreateSession(humanPlayers())
	require.NoError(t, err)
	require.Equal(t, 0.5, s.generator.TacticalReplyWeight())

	// Unset falls back to the neutral coefficient.
	def := newFixture(t, Config{})
	s, err = def.manager.CreateSession(humanPlayers())
	require.NoError(t, err)
	require.Equal(t, 1.0, s.generator.TacticalReplyWeight())
}

func TestSessionNotFound(t *testing.T) {
	fix := newFixture(t, Config{})
	_, err := fix.manager.SubmitMove("nope", "alice", mv(4, 2, 4, 3), freshToken())
	require.True(t, errors.Is(err, ErrSessionNotFound))
}

func waitForStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached %s, stuck at %s", want, s.Status())
}
