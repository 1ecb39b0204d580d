package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/streambot/backend/store"
)

// HandleUsersList returns participants, most recently seen first.
func (h *Handlers) HandleUsersList(w http.ResponseWriter, r *http.Request) {
	skip := parseIntQuery(r, "skip", 0)
	limit := parseIntQuery(r, "limit", store.DefaultPageSize)
	if skip < 0 || limit < 1 || limit > store.MaxPageSize {
		writeError(w, http.StatusBadRequest, "skip must be >= 0 and limit between 1 and 500")
		return
	}
	users, err := h.participants.ListParticipants(r.Context(), skip, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleUserStats returns totals across all participants. "Active today"
// counts participants seen since 00:00 UTC.
func (h *Handlers) HandleUserStats(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := h.participants.ParticipantStats(r.Context(), midnight)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleTopChatters returns participants ordered by message count.
func (h *Handlers) HandleTopChatters(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 10)
	if limit < 1 || limit > store.MaxPageSize {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	users, err := h.participants.TopChatters(r.Context(), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handlers) HandleUserGet(w http.ResponseWriter, r *http.Request) {
	login := strings.ToLower(strings.TrimSpace(r.PathValue("username")))
	u, err := h.participants.ParticipantByLogin(r.Context(), login)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
