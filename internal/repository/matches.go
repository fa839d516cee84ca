package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"github.com/gungiarena/gungi-server-go/internal/settlement"
)

// MatchRecord is one archived match row.
type MatchRecord struct {
	SessionID  string
	Winner     string
	FinalHash  string
	MoveCount  int
	MoveLog    []gungi.MoveRecord
	ArchivedAt time.Time
}

// MatchRepository archives settled matches.
type MatchRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewMatchRepository creates a match repository over the shared pool.
func NewMatchRepository(db *DB, logger *zap.Logger) *MatchRepository {
	return &MatchRepository{db: db, logger: logger}
}

// Archive stores a finalized match and its full move log. The insert is
// idempotent on session id; a re-archive of the same session is a no-op.
func (r *MatchRepository) Archive(ctx context.Context, result settlement.Result, log []gungi.MoveRecord) error {
	logJSON, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal move log: %w", err)
	}

	tag, err := r.db.Pool().Exec(ctx, `
		INSERT INTO matches (session_id, winner, final_hash, move_count, move_log, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO NOTHING`,
		result.SessionID,
		string(result.Winner),
		result.FinalHash,
		result.MoveCount,
		logJSON,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive match %s: %w", result.SessionID, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("match already archived", zap.String("session_id", result.SessionID))
	}
	return nil
}

// Get loads one archived match by session id.
func (r *MatchRepository) Get(ctx context.Context, sessionID string) (*MatchRecord, error) {
	var rec MatchRecord
	var logJSON []byte
	err := r.db.Pool().QueryRow(ctx, `
		SELECT session_id, winner, final_hash, move_count, move_log, archived_at
		FROM matches WHERE session_id = $1`,
		sessionID,
	).Scan(&rec.SessionID, &rec.Winner, &rec.FinalHash, &rec.MoveCount, &logJSON, &rec.ArchivedAt)
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(logJSON, &rec.MoveLog); err != nil {
		return nil, fmt.Errorf("decode move log for %s: %w", sessionID, err)
	}
	return &rec, nil
}

// Recent lists the most recently archived matches, newest first.
func (r *MatchRepository) Recent(ctx context.Context, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Pool().Query(ctx, `
		SELECT session_id, winner, final_hash, move_count, archived_at
		FROM matches ORDER BY archived_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var rec MatchRecord
		if err := rows.Scan(&rec.SessionID, &rec.Winner, &rec.FinalHash, &rec.MoveCount, &rec.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ArchivingNotifier adapts the repository to the settlement notifier
// interface so finalized results flow straight into the archive.
type ArchivingNotifier struct {
	repo    *MatchRepository
	timeout time.Duration
}

// NewArchivingNotifier creates a notifier that archives each settlement.
func NewArchivingNotifier(repo *MatchRepository) *ArchivingNotifier {
	return &ArchivingNotifier{repo: repo, timeout: 5 * time.Second}
}

// NotifySettlement archives the result with the move log the finalizer
// snapshotted. It deliberately does not reach back into the session layer,
// which may be holding its locks while settling.
func (n *ArchivingNotifier) NotifySettlement(result settlement.Result, log []gungi.MoveRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	return n.repo.Archive(ctx, result, log)
}
