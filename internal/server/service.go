// Package server exposes the game core to the external gateway: a request
// facade with input validation, and a websocket broadcaster for boundary
// events.
package server

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"github.com/gungiarena/gungi-server-go/internal/placement"
	"github.com/gungiarena/gungi-server-go/internal/session"
)

// CreateSessionRequest starts a new match.
type CreateSessionRequest struct {
	Players [2]PlayerRequest `json:"players"`
}

// PlayerRequest describes one participant.
type PlayerRequest struct {
	PlayerID    string `json:"player_id"`
	IsAI        bool   `json:"is_ai"`
	Personality string `json:"personality,omitempty"`
	SkillLevel  uint16 `json:"skill_level,omitempty"`
	RegionHint  string `json:"region_hint,omitempty"`
}

// CreateSessionResponse reports the created session.
type CreateSessionResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Region    string `json:"region,omitempty"`
}

// SubmitMoveRequest submits one move.
type SubmitMoveRequest struct {
	SessionID   string `json:"session_id"`
	PlayerID    string `json:"player_id"`
	FromX       int    `json:"from_x"`
	FromY       int    `json:"from_y"`
	FromLevel   int    `json:"from_level"`
	ToX         int    `json:"to_x"`
	ToY         int    `json:"to_y"`
	ToLevel     int    `json:"to_level"`
	Token       string `json:"token"`
	TokenIssued int64  `json:"token_issued_unix_ms"`
}

// SubmitMoveResponse reports the move result.
type SubmitMoveResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
	MoveCount int    `json:"move_count,omitempty"`
	IsCapture bool   `json:"is_capture,omitempty"`
	BoardHash string `json:"board_hash,omitempty"`
	Status    string `json:"status,omitempty"`
}

// MigrateSessionRequest relocates a session.
type MigrateSessionRequest struct {
	SessionID    string `json:"session_id"`
	TargetRegion string `json:"target_region"`
	Reason       string `json:"reason,omitempty"`
}

// MigrateSessionResponse reports the migration outcome.
type MigrateSessionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Region  string `json:"region,omitempty"`
}

// FinalizeSessionResponse reports the settlement of a completed session.
type FinalizeSessionResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Winner    string `json:"winner,omitempty"`
	FinalHash string `json:"final_hash,omitempty"`
	MoveCount int    `json:"move_count,omitempty"`
}

// Service validates gateway requests and forwards them to the session
// manager. The gateway authenticated the caller already; the service trusts
// the supplied identity.
type Service struct {
	manager *session.Manager
	logger  *zap.Logger
}

// NewService creates the request facade.
func NewService(manager *session.Manager, logger *zap.Logger) *Service {
	return &Service{manager: manager, logger: logger}
}

// CreateSession validates and creates a match.
func (s *Service) CreateSession(req CreateSessionRequest) CreateSessionResponse {
	var specs [2]session.PlayerSpec
	for i, p := range req.Players {
		playerID := strings.TrimSpace(p.PlayerID)
		if playerID == "" {
			return CreateSessionResponse{Error: "player_id is required"}
		}
		spec := session.PlayerSpec{
			PlayerID:   playerID,
			IsAI:       p.IsAI,
			SkillLevel: p.SkillLevel,
			RegionHint: placement.Region(p.RegionHint),
		}
		if p.IsAI {
			personality, err := gungi.ParsePersonality(strings.ToUpper(strings.TrimSpace(p.Personality)))
			if err != nil {
				return CreateSessionResponse{Error: err.Error()}
			}
			spec.Personality = personality
		}
		specs[i] = spec
	}
	if specs[0].PlayerID == specs[1].PlayerID {
		return CreateSessionResponse{Error: "players must be distinct"}
	}

	sess, err := s.manager.CreateSession(specs)
	if err != nil {
		return CreateSessionResponse{Error: err.Error()}
	}
	return CreateSessionResponse{
		Success:   true,
		SessionID: sess.ID(),
		Region:    string(sess.Region()),
	}
}

// SubmitMove validates and submits a move.
func (s *Service) SubmitMove(req SubmitMoveRequest) SubmitMoveResponse {
	if strings.TrimSpace(req.SessionID) == "" {
		return SubmitMoveResponse{Error: "session_id is required"}
	}
	if strings.TrimSpace(req.PlayerID) == "" {
		return SubmitMoveResponse{Error: "player_id is required"}
	}

	move := gungi.Move{
		From: gungi.PositionComponent{X: req.FromX, Y: req.FromY, Level: req.FromLevel},
		To:   gungi.PositionComponent{X: req.ToX, Y: req.ToY, Level: req.ToLevel},
	}
	token := session.MoveToken{
		Value:    req.Token,
		IssuedAt: time.UnixMilli(req.TokenIssued),
	}

	result, err := s.manager.SubmitMove(req.SessionID, req.PlayerID, move, token)
	if err != nil {
		return SubmitMoveResponse{Error: err.Error()}
	}
	return SubmitMoveResponse{
		Success:   true,
		Queued:    result.Queued,
		MoveCount: result.MoveCount,
		IsCapture: result.IsCapture,
		BoardHash: result.BoardHash,
		Status:    result.Status.String(),
	}
}

// MigrateSession validates and triggers an externally requested migration.
func (s *Service) MigrateSession(ctx context.Context, req MigrateSessionRequest) MigrateSessionResponse {
	if strings.TrimSpace(req.SessionID) == "" {
		return MigrateSessionResponse{Error: "session_id is required"}
	}
	target := placement.Region(strings.TrimSpace(req.TargetRegion))
	if target == "" {
		return MigrateSessionResponse{Error: "target_region is required"}
	}
	reason := req.Reason
	if reason == "" {
		reason = "requested"
	}

	if err := s.manager.MigrateSession(ctx, req.SessionID, target, reason); err != nil {
		return MigrateSessionResponse{Error: err.Error()}
	}
	sess, err := s.manager.Session(req.SessionID)
	if err != nil {
		return MigrateSessionResponse{Error: err.Error()}
	}
	return MigrateSessionResponse{Success: true, Region: string(sess.Region())}
}

// FinalizeSession returns the settlement of a completed session.
func (s *Service) FinalizeSession(sessionID string) FinalizeSessionResponse {
	if strings.TrimSpace(sessionID) == "" {
		return FinalizeSessionResponse{Error: "session_id is required"}
	}
	result, err := s.manager.FinalizeSession(sessionID)
	if err != nil {
		return FinalizeSessionResponse{Error: err.Error()}
	}
	return FinalizeSessionResponse{
		Success:   true,
		Winner:    string(result.Winner),
		FinalHash: result.FinalHash,
		MoveCount: result.MoveCount,
	}
}

// VerifyResponse reports the replay-determinism check.
type VerifyResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// VerifySession replays the session's move log and checks it reproduces the
// live board digest.
func (s *Service) VerifySession(sessionID string) VerifyResponse {
	if strings.TrimSpace(sessionID) == "" {
		return VerifyResponse{Error: "session_id is required"}
	}
	if err := s.manager.VerifySession(sessionID); err != nil {
		return VerifyResponse{Error: err.Error()}
	}
	return VerifyResponse{Success: true}
}

// Resign forfeits the match for the given player.
func (s *Service) Resign(sessionID, playerID string) FinalizeSessionResponse {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(playerID) == "" {
		return FinalizeSessionResponse{Error: "session_id and player_id are required"}
	}
	result, err := s.manager.Resign(sessionID, playerID)
	if err != nil {
		return FinalizeSessionResponse{Error: err.Error()}
	}
	return FinalizeSessionResponse{
		Success:   true,
		Winner:    string(result.Winner),
		FinalHash: result.FinalHash,
		MoveCount: result.MoveCount,
	}
}
