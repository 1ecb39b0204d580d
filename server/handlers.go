package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/telemetry"
)

// ParticipantStore is the read side of participant persistence.
type ParticipantStore interface {
	Ping(ctx context.Context) error
	ParticipantByLogin(ctx context.Context, login string) (*model.Participant, error)
	ListParticipants(ctx context.Context, skip, limit int) ([]model.Participant, error)
	TopChatters(ctx context.Context, limit int) ([]model.Participant, error)
	ParticipantStats(ctx context.Context, activeSince time.Time) (model.ParticipantStats, error)
}

// CommandService manages command definitions.
type CommandService interface {
	Get(ctx context.Context, name string) (*model.Command, error)
	List(ctx context.Context, enabledOnly bool) ([]model.Command, error)
	Create(ctx context.Context, def model.Command) (*model.Command, error)
	Update(ctx context.Context, name string, patch model.CommandPatch) (*model.Command, error)
	Remove(ctx context.Context, name string) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	participants ParticipantStore
	commands     CommandService
	now          func() time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(participants ParticipantStore, commands CommandService) *Handlers {
	return &Handlers{
		participants: participants,
		commands:     commands,
		now:          time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps the model error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrDuplicateName), errors.Is(err, model.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged
// and their details withheld from the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		telemetry.LoggerWithCorr(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("err", err), slog.String("component", "http"))
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}
