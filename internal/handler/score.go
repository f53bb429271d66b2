// Package handler contains the HTTP layer: request parsing, response
// writing, and the mapping from domain errors to status codes.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bbmw0/stack-server/internal/apperror"
	"github.com/bbmw0/stack-server/internal/auth"
	"github.com/bbmw0/stack-server/internal/live"
	"github.com/bbmw0/stack-server/internal/model"
	"github.com/bbmw0/stack-server/internal/service"
)

// sessionPayload is the wire shape of one game session. Score is a
// pointer so a missing field can be told apart from an explicit zero.
type sessionPayload struct {
	Score        *int64   `json:"score"`
	MaxCombo     int64    `json:"maxCombo"`
	Perfects     int64    `json:"perfects"`
	Zone         string   `json:"zone"`
	XPEarned     int64    `json:"xpEarned"`
	Achievements []string `json:"achievements"`
	SessionKey   string   `json:"sessionKey"`
}

// scoreRequest is the body of POST /api/score: one session plus the
// identity fields an anonymous client sends.
type scoreRequest struct {
	sessionPayload
	DeviceID   string `json:"deviceId"`
	PlayerName string `json:"playerName"`
}

// syncRequest is the body of POST /api/sync.
type syncRequest struct {
	Scores     []sessionPayload `json:"scores"`
	DeviceID   string           `json:"deviceId"`
	PlayerName string           `json:"playerName"`
}

// userStats is the trimmed user projection returned after a submission.
type userStats struct {
	BestScore   int64 `json:"bestScore"`
	GamesPlayed int64 `json:"gamesPlayed"`
	XP          int64 `json:"xp"`
}

// ScoreHandler serves score submission, batch sync, recent scores, and
// the leaderboard. hub may be nil; when present, every accepted
// submission pushes a fresh leaderboard to connected clients.
type ScoreHandler struct {
	svc    *service.ScoreService
	hub    *live.Hub
	logger *slog.Logger
}

// NewScoreHandler creates a ScoreHandler.
func NewScoreHandler(svc *service.ScoreService, hub *live.Hub, logger *slog.Logger) *ScoreHandler {
	return &ScoreHandler{
		svc:    svc,
		hub:    hub,
		logger: logger,
	}
}

// toResult validates presence of the score field and converts the wire
// payload into the typed session result.
func (p sessionPayload) toResult() (model.SessionResult, error) {
	if p.Score == nil {
		return model.SessionResult{}, apperror.ValidationFailed("score", "score is required")
	}
	return model.SessionResult{
		Score:        *p.Score,
		MaxCombo:     p.MaxCombo,
		Perfects:     p.Perfects,
		Zone:         p.Zone,
		XPEarned:     p.XPEarned,
		Achievements: p.Achievements,
		SessionKey:   p.SessionKey,
	}, nil
}

// HandleSubmit accepts one session result.
//
// HTTP: POST /api/score (OptionalAuth; a session cookie wins over a
// deviceId in the body)
func (h *ScoreHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	result, err := req.toResult()
	if err != nil {
		writeError(w, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	user, err := h.svc.Submit(r.Context(), service.Submission{
		UserID:     userID,
		DeviceID:   req.DeviceID,
		PlayerName: req.PlayerName,
		Result:     result,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.pushLeaderboard(r)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": userStats{
			BestScore:   user.BestScore,
			GamesPlayed: user.GamesPlayed,
			XP:          user.XP,
		},
	})
}

// HandleSync accepts a batch of sessions collected offline.
//
// HTTP: POST /api/sync
func (h *ScoreHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if req.Scores == nil {
		writeError(w, apperror.ValidationFailed("scores", "scores must be an array"))
		return
	}
	if req.DeviceID == "" {
		writeError(w, apperror.ValidationFailed("deviceId", "deviceId is required"))
		return
	}

	// Sessions with a missing score field are invalid individually; they
	// are skipped here the same way negative scores are skipped in the
	// service, without aborting the batch.
	results := make([]model.SessionResult, 0, len(req.Scores))
	for _, p := range req.Scores {
		res, err := p.toResult()
		if err != nil {
			continue
		}
		results = append(results, res)
	}

	synced, err := h.svc.Sync(r.Context(), req.DeviceID, req.PlayerName, results)
	if err != nil {
		writeError(w, err)
		return
	}

	if synced > 0 {
		h.pushLeaderboard(r)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"synced":  synced,
	})
}

// HandleLeaderboard returns the top players by best score.
//
// HTTP: GET /api/leaderboard
func (h *ScoreHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Leaderboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

// HandleRecent returns the authenticated user's most recent scores.
//
// HTTP: GET /api/scores?limit=N (RequireAuth)
func (h *ScoreHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	scores, err := h.svc.RecentScores(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

// HandleLive upgrades the connection to a websocket that receives a
// leaderboard push after every accepted submission.
//
// HTTP: GET /api/leaderboard/live
func (h *ScoreHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.NotFound(w, r)
		return
	}
	h.hub.HandleConnection(w, r)
}

// pushLeaderboard broadcasts the current leaderboard to live clients.
// Failures only cost the push, never the request that triggered it.
func (h *ScoreHandler) pushLeaderboard(r *http.Request) {
	if h.hub == nil || h.hub.ClientCount() == 0 {
		return
	}

	entries, err := h.svc.Leaderboard(r.Context())
	if err != nil {
		h.logger.Warn("skipping leaderboard push", slog.String("error", err.Error()))
		return
	}
	h.hub.Broadcast(map[string]any{"leaderboard": entries})
}
