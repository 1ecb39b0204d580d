// Package store persists participants and commands.
//
// Two implementations share the same contract: Postgres, backed by the two
// tables created in db/migrations, and Memory, used for local runs without a
// database and for tests. All methods return errors wrapping the sentinels
// in the model package so callers can branch with errors.Is.
package store

import (
	"context"
	"time"

	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
)

// Store is the full persistence surface. Consumers usually depend on a
// narrower interface of their own.
type Store interface {
	Ping(ctx context.Context) error

	GetParticipant(ctx context.Context, twitchID string) (*model.Participant, error)
	ParticipantByLogin(ctx context.Context, login string) (*model.Participant, error)
	CreateParticipant(ctx context.Context, p *model.Participant) error
	TouchParticipant(ctx context.Context, t Touch) error
	IncrementCommandCount(ctx context.Context, twitchID string) error
	ListParticipants(ctx context.Context, skip, limit int) ([]model.Participant, error)
	TopChatters(ctx context.Context, limit int) ([]model.Participant, error)
	ParticipantStats(ctx context.Context, activeSince time.Time) (model.ParticipantStats, error)

	GetCommand(ctx context.Context, name string) (*model.Command, error)
	ListCommands(ctx context.Context, enabledOnly bool) ([]model.Command, error)
	InsertCommand(ctx context.Context, c *model.Command) error
	UpsertBuiltin(ctx context.Context, c *model.Command) error
	UpdateCommand(ctx context.Context, name string, c *model.Command) error
	DeleteCommand(ctx context.Context, name string) error
	RecordCommandUsage(ctx context.Context, name string, at time.Time) error
}

// Touch is the per-message refresh applied to an existing participant.
type Touch struct {
	TwitchID    string
	Login       string
	DisplayName string
	Flags       role.Flags
	Role        role.Role
	At          time.Time
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
