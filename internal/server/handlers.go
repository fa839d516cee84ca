package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// RegisterRoutes mounts the JSON endpoints the external gateway forwards to.
func RegisterRoutes(mux *http.ServeMux, svc *Service, logger *zap.Logger) {
	mux.HandleFunc("/v1/sessions", jsonHandler(logger, func(r *http.Request) any {
		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return CreateSessionResponse{Error: "invalid request body"}
		}
		return svc.CreateSession(req)
	}))

	mux.HandleFunc("/v1/sessions/move", jsonHandler(logger, func(r *http.Request) any {
		var req SubmitMoveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return SubmitMoveResponse{Error: "invalid request body"}
		}
		return svc.SubmitMove(req)
	}))

	mux.HandleFunc("/v1/sessions/migrate", jsonHandler(logger, func(r *http.Request) any {
		var req MigrateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return MigrateSessionResponse{Error: "invalid request body"}
		}
		return svc.MigrateSession(r.Context(), req)
	}))

	mux.HandleFunc("/v1/sessions/finalize", jsonHandler(logger, func(r *http.Request) any {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return FinalizeSessionResponse{Error: "invalid request body"}
		}
		return svc.FinalizeSession(req.SessionID)
	}))

	mux.HandleFunc("/v1/sessions/verify", jsonHandler(logger, func(r *http.Request) any {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return VerifyResponse{Error: "invalid request body"}
		}
		return svc.VerifySession(req.SessionID)
	}))

	mux.HandleFunc("/v1/sessions/resign", jsonHandler(logger, func(r *http.Request) any {
		var req struct {
			SessionID string `json:"session_id"`
			PlayerID  string `json:"player_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return FinalizeSessionResponse{Error: "invalid request body"}
		}
		return svc.Resign(req.SessionID, req.PlayerID)
	}))
}

func jsonHandler(logger *zap.Logger, handle func(r *http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := handle(r)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("response encode failed", zap.Error(err))
		}
	}
}
