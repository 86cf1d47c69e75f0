// Package session exposes the REST surface for chat sessions: transcript
// retrieval and late satisfaction ratings for widgets whose socket is gone.
package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/guiIerme/JobFinder-sub002/internal/security"
	sessionservice "github.com/guiIerme/JobFinder-sub002/internal/service/session"
	"github.com/guiIerme/JobFinder-sub002/pkg/utils"
)

// Handler serves session REST endpoints.
type Handler struct {
	sessions *sessionservice.Service
	limits   security.Limits
}

// New creates the session handler.
func New(sessions *sessionservice.Service, limits security.Limits) *Handler {
	return &Handler{sessions: sessions, limits: limits}
}

// RegisterRoutes registers the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/satisfaction", h.handleSatisfaction)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := security.ValidateSessionID(sessionID); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Reason)
		return
	}

	session, err := h.sessions.Get(r.Context(), sessionID)
	if errors.Is(err, sessionservice.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "could not load session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := security.ValidateSessionID(sessionID); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Reason)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, sessionservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "could not load session")
		return
	}

	messages, err := h.sessions.History(r.Context(), sessionID, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "could not load messages")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (h *Handler) handleSatisfaction(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := security.ValidateSessionID(sessionID); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Reason)
		return
	}

	var payload struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if verr := security.ValidateRating(payload.Rating); verr != nil {
		utils.RespondError(w, http.StatusBadRequest, verr.Reason)
		return
	}
	if verr := security.ValidateFeedback(payload.Feedback, h.limits); verr != nil {
		utils.RespondError(w, http.StatusBadRequest, verr.Reason)
		return
	}

	if err := h.sessions.SetSatisfaction(r.Context(), sessionID, payload.Rating); err != nil {
		if errors.Is(err, sessionservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "could not store rating")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
