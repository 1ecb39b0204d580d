package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/streambot/backend/channel"
	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
	"github.com/onnwee/streambot/backend/store"
)

// ParticipantStore is the participant persistence the tracker needs.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, twitchID string) (*model.Participant, error)
	CreateParticipant(ctx context.Context, p *model.Participant) error
	TouchParticipant(ctx context.Context, t store.Touch) error
	IncrementCommandCount(ctx context.Context, twitchID string) error
}

// Enricher looks up follow and subscription data for a new participant.
type Enricher interface {
	Relationship(ctx context.Context, userID string) (channel.Relationship, error)
}

// Tracker keeps participant records current with every chat message.
type Tracker struct {
	store    ParticipantStore
	enricher Enricher
	timeout  time.Duration
	log      *slog.Logger
}

// NewTracker returns a tracker. enricher may be nil, in which case new
// participants are stored without follow or subscription data.
func NewTracker(s ParticipantStore, enricher Enricher, lookupTimeout time.Duration) *Tracker {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &Tracker{
		store:    s,
		enricher: enricher,
		timeout:  lookupTimeout,
		log:      slog.Default().With(slog.String("component", "tracker")),
	}
}

// Observe records msg against its author and returns the participant as it
// stands after the update.
func (t *Tracker) Observe(ctx context.Context, msg model.ChatMessage, now time.Time) (*model.Participant, error) {
	flags := msg.Flags()
	r := role.FromFlags(flags)

	p, err := t.store.GetParticipant(ctx, msg.UserID)
	if errors.Is(err, model.ErrNotFound) {
		p = t.newParticipant(ctx, msg, r, now)
		err = t.store.CreateParticipant(ctx, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, model.ErrDuplicateName) {
			return nil, err
		}
		// Created concurrently by another writer; fall back to a touch.
		p, err = t.store.GetParticipant(ctx, msg.UserID)
	}
	if err != nil {
		return nil, err
	}

	touch := store.Touch{
		TwitchID:    msg.UserID,
		Login:       msg.Username,
		DisplayName: msg.DisplayName,
		Flags:       flags,
		Role:        r,
		At:          now,
	}
	if err := t.store.TouchParticipant(ctx, touch); err != nil {
		return nil, err
	}
	p.Login = touch.Login
	p.DisplayName = touch.DisplayName
	p.Role = r
	p.IsBroadcaster = flags.Broadcaster
	p.IsModerator = flags.Moderator
	p.IsSubscriber = flags.Subscriber
	p.IsVIP = flags.VIP
	p.MessageCount++
	p.LastSeen = now
	return p, nil
}

// CommandUsed bumps the participant's command counter.
func (t *Tracker) CommandUsed(ctx context.Context, twitchID string) error {
	return t.store.IncrementCommandCount(ctx, twitchID)
}

func (t *Tracker) newParticipant(ctx context.Context, msg model.ChatMessage, r role.Role, now time.Time) *model.Participant {
	p := &model.Participant{
		TwitchID:      msg.UserID,
		Login:         msg.Username,
		DisplayName:   msg.DisplayName,
		Role:          r,
		IsBroadcaster: msg.IsBroadcaster,
		IsModerator:   msg.IsModerator,
		IsSubscriber:  msg.IsSubscriber,
		IsVIP:         msg.IsVIP,
		MessageCount:  1,
		FirstSeen:     now,
		LastSeen:      now,
	}
	if t.enricher == nil {
		return p
	}

	lctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	rel, err := t.enricher.Relationship(lctx, msg.UserID)
	if err != nil {
		t.log.Warn("participant enrichment incomplete", slog.String("user", msg.Username), slog.Any("err", err))
	}
	p.FollowedAt = rel.FollowedAt
	if rel.SubTier != "" {
		p.SubTier = rel.SubTier
		subscribed := now
		p.SubscribedAt = &subscribed
	}
	return p
}
