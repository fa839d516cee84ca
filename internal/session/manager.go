package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gungiarena/gungi-server-go/internal/ai"
	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"github.com/gungiarena/gungi-server-go/internal/placement"
	"github.com/gungiarena/gungi-server-go/internal/settlement"
	"github.com/gungiarena/gungi-server-go/internal/telemetry"
)

// Config tunes the session manager.
type Config struct {
	// MaxSessions caps concurrently live sessions.
	MaxSessions int

	// MoveLimit ends the game by material score when reached.
	MoveLimit int

	// MaxQueueDepth bounds how many submissions park during a migration
	// before new ones are rejected with ErrSessionBusy.
	MaxQueueDepth int

	// TokenMaxAge is the anti-fraud token freshness window.
	TokenMaxAge time.Duration

	// AIMoveBudget is the hard deadline handed to the move generator.
	AIMoveBudget time.Duration

	// LatencyTarget and LatencyWindow configure per-session telemetry.
	LatencyTarget time.Duration
	LatencyWindow int

	// TransferRetries bounds migration delivery attempts.
	TransferRetries int

	// TacticalReplyWeight scales the capture-reply term in AI move scoring.
	TacticalReplyWeight float64

	// CompletedRetention is how long a completed session stays queryable
	// before the cleanup sweep retires it and frees its capacity slot.
	CompletedRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1024
	}
	if c.MoveLimit <= 0 {
		c.MoveLimit = 300
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 16
	}
	if c.TokenMaxAge <= 0 {
		c.TokenMaxAge = 30 * time.Second
	}
	if c.AIMoveBudget <= 0 {
		c.AIMoveBudget = 40 * time.Millisecond
	}
	if c.TransferRetries <= 0 {
		c.TransferRetries = placement.DefaultTransferRetries
	}
	if c.TacticalReplyWeight <= 0 {
		c.TacticalReplyWeight = 1.0
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 5 * time.Minute
	}
	return c
}

// PlayerSpec describes one participant at session creation.
type PlayerSpec struct {
	PlayerID    string
	IsAI        bool
	Personality gungi.Personality
	SkillLevel  uint16
	RegionHint  placement.Region
}

// Manager owns all live sessions and drives the migration and settlement
// protocols around them.
type Manager struct {
	logger     *zap.Logger
	cfg        Config
	rules      *gungi.Rules
	controller *placement.Controller
	transport  placement.RegionTransport
	finalizer  *settlement.Finalizer
	publisher  Publisher

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager wires the session manager. publisher may be nil.
func NewManager(
	cfg Config,
	rules *gungi.Rules,
	controller *placement.Controller,
	transport placement.RegionTransport,
	finalizer *settlement.Finalizer,
	publisher Publisher,
	logger *zap.Logger,
) *Manager {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Manager{
		logger:     logger,
		cfg:        cfg.withDefaults(),
		rules:      rules,
		controller: controller,
		transport:  transport,
		finalizer:  finalizer,
		publisher:  publisher,
		sessions:   make(map[string]*Session),
	}
}

// CreateSession initializes a match: initial board layout, player and agent
// binding, region selection. The session is active when this returns.
func (m *Manager) CreateSession(players [2]PlayerSpec) (*Session, error) {
	m.mu.RLock()
	live := len(m.sessions)
	m.mu.RUnlock()
	if live >= m.cfg.MaxSessions {
		return nil, fmt.Errorf("%w: session capacity %d reached", ErrSessionBusy, m.cfg.MaxSessions)
	}

	id := uuid.New().String()
	board := gungi.NewInitialBoard()

	var hints []placement.Region
	var slots [2]PlayerSlot
	for i, spec := range players {
		side := gungi.Player1
		if i == 1 {
			side = gungi.Player2
		}
		slots[i] = PlayerSlot{
			PlayerID: spec.PlayerID,
			Side:     side,
			IsAI:     spec.IsAI,
			Agent:    gungi.AIAgentComponent{Personality: spec.Personality, SkillLevel: spec.SkillLevel},
		}
		if spec.IsAI {
			// The agent record rides on the side's Marshal entity so it
			// survives board snapshots during migration.
			board.Store().SetAgent(board.FindMarshal(side), slots[i].Agent)
		}
		if spec.RegionHint != "" {
			hints = append(hints, spec.RegionHint)
		}
	}

	region := m.controller.SelectRegion(hints)
	m.controller.Register(id, hints)

	s := &Session{
		id:        id,
		region:    region,
		status:    StatusCreated,
		slots:     slots,
		board:     board,
		recorder:  telemetry.NewRecorder(m.cfg.LatencyTarget, m.cfg.LatencyWindow, m.logger),
		generator: ai.NewGenerator(m.rules, seedFromID(id), m.logger),
		createdAt: time.Now(),
	}
	s.generator.SetTacticalReplyWeight(m.cfg.TacticalReplyWeight)
	s.status = StatusActive

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("region", string(region)),
		zap.String("player1", players[0].PlayerID),
		zap.String("player2", players[1].PlayerID),
	)
	m.publisher.Publish(Event{
		Type:      EventSessionCreated,
		SessionID: id,
		Timestamp: time.Now(),
		Attributes: map[string]string{
			"region":  string(region),
			"player1": players[0].PlayerID,
			"player2": players[1].PlayerID,
		},
	})
	return s, nil
}

// Session returns a live session by id.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Sessions returns all live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SubmitMove runs the full move pipeline: token freshness, slot membership,
// rules validation and application, telemetry, terminal detection, and a
// placement consultation. During a migration the move is queued instead and
// replayed in order once the session is active again.
func (m *Manager) SubmitMove(sessionID, playerID string, move gungi.Move, token MoveToken) (MoveExecuted, error) {
	s, err := m.Session(sessionID)
	if err != nil {
		return MoveExecuted{}, err
	}
	submittedAt := time.Now()

	s.mu.Lock()

	if !tokenFresh(token, submittedAt, m.cfg.TokenMaxAge) {
		s.mu.Unlock()
		return MoveExecuted{}, ErrStaleMoveToken
	}
	slot, ok := s.slotFor(playerID)
	if !ok {
		s.mu.Unlock()
		return MoveExecuted{}, fmt.Errorf("%w: %s", gungi.ErrUnauthorizedPlayer, playerID)
	}

	switch s.status {
	case StatusMigrating:
		if len(s.pending) >= m.cfg.MaxQueueDepth {
			s.mu.Unlock()
			return MoveExecuted{}, ErrSessionBusy
		}
		s.pending = append(s.pending, pendingMove{
			playerID:    playerID,
			move:        move,
			token:       token,
			submittedAt: submittedAt,
		})
		queued := MoveExecuted{SessionID: sessionID, MoveCount: len(s.moveLog), Status: s.status, Queued: true}
		s.mu.Unlock()
		return queued, nil
	case StatusActive:
		// proceed
	default:
		status := s.status
		s.mu.Unlock()
		return MoveExecuted{}, fmt.Errorf("%w: status %s", ErrSessionNotActive, status)
	}

	result, err := m.applyLocked(s, slot.Side, move, submittedAt)
	metrics := s.recorder.Metrics()
	region := s.region
	s.mu.Unlock()
	if err != nil {
		return MoveExecuted{}, err
	}

	m.publisher.Publish(Event{
		Type:      EventMoveExecuted,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Attributes: map[string]string{
			"move_count": strconv.Itoa(result.MoveCount),
			"is_capture": strconv.FormatBool(result.IsCapture),
			"latency_ms": strconv.FormatInt(result.Latency.Milliseconds(), 10),
		},
	})

	if result.Status != StatusCompleted {
		if target, migrate := m.controller.Observe(sessionID, region, metrics); migrate {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := m.MigrateSession(ctx, sessionID, target, "latency"); err != nil {
					m.logger.Warn("automatic migration failed",
						zap.String("session_id", sessionID),
						zap.Error(err),
					)
				}
			}()
		}
	}
	return result, nil
}

// applyLocked validates and applies one move, appends the record, records
// latency, and completes the session on a terminal condition. Callers hold
// s.mu.
func (m *Manager) applyLocked(s *Session, side gungi.Owner, move gungi.Move, submittedAt time.Time) (MoveExecuted, error) {
	effect, err := m.rules.ValidateMove(s.board, move.From, move.To, side)
	if err != nil {
		return MoveExecuted{}, err
	}

	marshalCaptured := false
	if effect.IsCapture {
		if piece, ok := s.board.Store().Piece(effect.Captured); ok {
			marshalCaptured = piece.Type == gungi.Marshal
		}
	}

	m.rules.ApplyMove(s.board, effect)
	now := time.Now()
	s.moveLog = append(s.moveLog, gungi.MoveRecord{
		From:      effect.From,
		To:        effect.To,
		PieceType: effect.PieceType,
		Mover:     side,
		IsCapture: effect.IsCapture,
		Timestamp: now,
	})

	latency := now.Sub(submittedAt)
	s.recorder.RecordMove(latency)

	if marshalCaptured || len(s.moveLog) >= m.cfg.MoveLimit {
		m.completeLocked(s)
	}

	return MoveExecuted{
		SessionID: s.id,
		MoveCount: len(s.moveLog),
		IsCapture: effect.IsCapture,
		Latency:   latency,
		BoardHash: s.board.Hash(),
		Status:    s.status,
	}, nil
}

// completeLocked transitions to Completed and hands the session to the
// settlement finalizer. Callers hold s.mu.
func (m *Manager) completeLocked(s *Session) {
	s.status = StatusCompleted
	s.completedAt = time.Now()
	result, err := m.finalizer.Finalize(s.id, s.board, s.moveLog)
	if err != nil {
		m.logger.Error("finalization failed", zap.String("session_id", s.id), zap.Error(err))
		return
	}
	m.controller.Release(s.id)
	m.publisher.Publish(Event{
		Type:      EventSettlementResult,
		SessionID: s.id,
		Timestamp: time.Now(),
		Attributes: map[string]string{
			"winner":     string(result.Winner),
			"final_hash": result.FinalHash,
			"move_count": strconv.Itoa(result.MoveCount),
		},
	})
}

// PlayAITurn selects and applies a move for the AI agent whose turn it is.
// The generator's anytime contract keeps this within the configured budget.
func (m *Manager) PlayAITurn(sessionID string) (MoveExecuted, error) {
	s, err := m.Session(sessionID)
	if err != nil {
		return MoveExecuted{}, err
	}
	started := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return MoveExecuted{}, fmt.Errorf("%w: status %s", ErrSessionNotActive, s.status)
	}
	side := s.board.SideToMove()
	slot := s.slotForSide(side)
	if !slot.IsAI {
		return MoveExecuted{}, fmt.Errorf("side %s is not AI controlled", side)
	}

	move, ok := s.generator.SelectMove(s.board, side, slot.Agent, started.Add(m.cfg.AIMoveBudget))
	if !ok {
		// No legal move left; settle on material.
		m.completeLocked(s)
		return MoveExecuted{SessionID: s.id, MoveCount: len(s.moveLog), Status: s.status}, nil
	}
	return m.applyLocked(s, side, move, started)
}

// MigrateSession relocates a session's authoritative state to the target
// region. Submissions arriving during the transfer are queued and replayed
// in order afterwards. If the target is unreachable the migration aborts and
// the session stays active in its original region.
func (m *Manager) MigrateSession(ctx context.Context, sessionID string, target placement.Region, reason string) error {
	s, err := m.Session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.status != StatusActive {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrSessionNotActive, status)
	}
	from := s.region
	s.status = StatusMigrating
	transfer := placement.StateTransfer{
		SessionID:  s.id,
		FromRegion: from,
		ToRegion:   target,
		MoveCount:  len(s.moveLog),
		Board:      s.board.Snapshot(),
		MoveLog:    append([]gungi.MoveRecord(nil), s.moveLog...),
		Metrics:    s.recorder.Metrics(),
	}
	s.mu.Unlock()

	transferErr := placement.TransferWithRetry(ctx, m.transport, transfer, m.cfg.TransferRetries, m.logger)

	s.mu.Lock()
	if transferErr != nil {
		// Abort: stay active in the original region, then drain whatever
		// queued while we tried.
		s.status = StatusActive
		replayed := m.replayPendingLocked(s)
		s.mu.Unlock()
		m.publishReplayed(sessionID, replayed)
		m.logger.Warn("migration aborted",
			zap.String("session_id", sessionID),
			zap.String("from_region", string(from)),
			zap.String("to_region", string(target)),
			zap.Error(transferErr),
		)
		return fmt.Errorf("%w: %v", ErrMigrationFailed, transferErr)
	}

	s.region = target
	s.status = StatusActive
	replayed := m.replayPendingLocked(s)
	s.mu.Unlock()
	m.publishReplayed(sessionID, replayed)

	m.logger.Info("session migrated",
		zap.String("session_id", sessionID),
		zap.String("from_region", string(from)),
		zap.String("to_region", string(target)),
		zap.String("reason", reason),
	)
	m.publisher.Publish(Event{
		Type:      EventSessionMigrated,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Attributes: map[string]string{
			"from_region": string(from),
			"to_region":   string(target),
			"reason":      reason,
		},
	})
	return nil
}

// replayPendingLocked applies queued submissions in FIFO order and returns
// the results of the moves that applied, so the caller can publish their
// events once the lock is released. Entries that fail validation (stale by
// the time they run, or simply illegal) are dropped with a log line; their
// submitters already received a queued acknowledgment, and the move log is
// the source of truth. Callers hold s.mu.
func (m *Manager) replayPendingLocked(s *Session) []MoveExecuted {
	pending := s.pending
	s.pending = nil
	var applied []MoveExecuted
	for _, p := range pending {
		if s.status != StatusActive {
			break
		}
		slot, ok := s.slotFor(p.playerID)
		if !ok {
			continue
		}
		result, err := m.applyLocked(s, slot.Side, p.move, p.submittedAt)
		if err != nil {
			m.logger.Warn("queued move dropped on replay",
				zap.String("session_id", s.id),
				zap.String("player_id", p.playerID),
				zap.Error(err),
			)
			continue
		}
		applied = append(applied, result)
	}
	return applied
}

// publishReplayed emits the move events for submissions that were drained
// from the migration queue. Subscribers see replayed moves the same way they
// see directly applied ones.
func (m *Manager) publishReplayed(sessionID string, replayed []MoveExecuted) {
	for _, result := range replayed {
		m.publisher.Publish(Event{
			Type:      EventMoveExecuted,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Attributes: map[string]string{
				"move_count": strconv.Itoa(result.MoveCount),
				"is_capture": strconv.FormatBool(result.IsCapture),
				"latency_ms": strconv.FormatInt(result.Latency.Milliseconds(), 10),
			},
		})
	}
}

// Resign completes the session in favor of the opponent.
func (m *Manager) Resign(sessionID, playerID string) (settlement.Result, error) {
	s, err := m.Session(sessionID)
	if err != nil {
		return settlement.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slotFor(playerID)
	if !ok {
		return settlement.Result{}, fmt.Errorf("%w: %s", gungi.ErrUnauthorizedPlayer, playerID)
	}
	if s.status == StatusCompleted {
		return settlement.Result{}, fmt.Errorf("%w: status %s", ErrSessionNotActive, s.status)
	}

	winner := settlement.OutcomePlayer1
	if slot.Side == gungi.Player1 {
		winner = settlement.OutcomePlayer2
	}
	result, err := m.finalizer.FinalizeWith(s.id, winner, s.board, s.moveLog)
	if err != nil {
		return result, err
	}
	s.status = StatusCompleted
	s.completedAt = time.Now()
	m.controller.Release(s.id)
	m.publisher.Publish(Event{
		Type:      EventSettlementResult,
		SessionID: s.id,
		Timestamp: time.Now(),
		Attributes: map[string]string{
			"winner":     string(result.Winner),
			"final_hash": result.FinalHash,
			"move_count": strconv.Itoa(result.MoveCount),
		},
	})
	return result, nil
}

// FinalizeSession returns the settlement of a completed session. Repeated
// calls return the identical stored result.
func (m *Manager) FinalizeSession(sessionID string) (settlement.Result, error) {
	s, err := m.Session(sessionID)
	if err != nil {
		return settlement.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCompleted {
		return settlement.Result{}, fmt.Errorf("%w: status %s", ErrSessionNotActive, s.status)
	}
	return m.finalizer.Finalize(s.id, s.board, s.moveLog)
}

// VerifySession replays the session's move log on a fresh initial board and
// checks the resulting digest against the live board. A mismatch means the
// log and the board have diverged and the session cannot be trusted for
// settlement.
func (m *Manager) VerifySession(sessionID string) error {
	s, err := m.Session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	log := append([]gungi.MoveRecord(nil), s.moveLog...)
	liveHash := s.board.Hash()
	s.mu.Unlock()

	replayed := gungi.NewInitialBoard()
	if err := m.rules.Replay(replayed, log); err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	if replayed.Hash() != liveHash {
		return fmt.Errorf("replay hash mismatch for session %s", sessionID)
	}
	return nil
}

// CleanupCompletedSessions periodically retires completed sessions whose
// retention window has passed, freeing their capacity slots. It runs until
// the context is cancelled.
func (m *Manager) CleanupCompletedSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if retired := m.sweepCompleted(time.Now()); retired > 0 {
				m.logger.Info("retired completed sessions", zap.Int("count", retired))
			}
		}
	}
}

// sweepCompleted removes completed sessions that finished before the
// retention cutoff and returns how many were retired. The finalizer keeps the
// settlement result; only the live session record is dropped.
func (m *Manager) sweepCompleted(now time.Time) int {
	cutoff := now.Add(-m.cfg.CompletedRetention)

	m.mu.Lock()
	defer m.mu.Unlock()
	retired := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		done := s.status == StatusCompleted && !s.completedAt.IsZero() && s.completedAt.Before(cutoff)
		s.mu.Unlock()
		if done {
			delete(m.sessions, id)
			retired++
		}
	}
	return retired
}

// tokenFresh checks presence and freshness of the anti-fraud token. The
// token is opaque; cryptographic validity is the upstream collaborator's
// problem.
func tokenFresh(token MoveToken, now time.Time, maxAge time.Duration) bool {
	if token.Value == "" {
		return false
	}
	age := now.Sub(token.IssuedAt)
	return age >= 0 && age <= maxAge
}

// seedFromID derives a stable per-session rand seed so AI tie breaks replay
// identically for the same session id.
func seedFromID(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}
