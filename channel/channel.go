// Package channel scopes Helix calls to the single channel the bot serves.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/twitchapi"
)

const lookupTimeout = 10 * time.Second

// Helix is the subset of the Helix client the channel needs.
type Helix interface {
	GetUser(ctx context.Context, login string) (*twitchapi.User, error)
	GetChannelInfo(ctx context.Context, broadcasterID string) (*twitchapi.ChannelInfo, error)
	UpdateChannelInfo(ctx context.Context, broadcasterID string, upd twitchapi.ChannelUpdate) error
	GetStream(ctx context.Context, login string) (*twitchapi.Stream, error)
	GetFollower(ctx context.Context, broadcasterID, userID string) (*twitchapi.Follow, error)
	GetSubscription(ctx context.Context, broadcasterID, userID string) (*twitchapi.Subscription, error)
	SearchCategory(ctx context.Context, name string) (*twitchapi.Category, error)
}

// Service resolves and caches the broadcaster id for one channel login.
type Service struct {
	api   Helix
	login string

	mu            sync.Mutex
	broadcasterID string
	lookups       singleflight.Group
}

// New returns a Service for login. broadcasterID may be empty; it is then
// resolved on first use.
func New(api Helix, login, broadcasterID string) *Service {
	return &Service{
		api:           api,
		login:         strings.ToLower(strings.TrimPrefix(login, "#")),
		broadcasterID: broadcasterID,
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrUnavailable, op, err)
}

// BroadcasterID returns the channel's user id, looking it up once.
// Concurrent callers share a single in-flight lookup, which runs detached
// from any one caller's cancellation and is bounded by lookupTimeout.
func (s *Service) BroadcasterID(ctx context.Context) (string, error) {
	s.mu.Lock()
	id := s.broadcasterID
	s.mu.Unlock()
	if id != "" {
		return id, nil
	}
	v, err, _ := s.lookups.Do("broadcaster", func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		u, err := s.api.GetUser(lctx, s.login)
		if err != nil {
			return "", unavailable("resolve broadcaster", err)
		}
		if u == nil {
			return "", fmt.Errorf("channel %s: %w", s.login, model.ErrNotFound)
		}
		s.mu.Lock()
		s.broadcasterID = u.ID
		s.mu.Unlock()
		return u.ID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Info returns the channel's title and category.
func (s *Service) Info(ctx context.Context) (*twitchapi.ChannelInfo, error) {
	id, err := s.BroadcasterID(ctx)
	if err != nil {
		return nil, err
	}
	info, err := s.api.GetChannelInfo(ctx, id)
	if err != nil {
		return nil, unavailable("channel info", err)
	}
	if info == nil {
		return nil, fmt.Errorf("channel info %s: %w", s.login, model.ErrNotFound)
	}
	return info, nil
}

// SetTitle changes the stream title.
func (s *Service) SetTitle(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Invalidf("title is empty")
	}
	id, err := s.BroadcasterID(ctx)
	if err != nil {
		return err
	}
	if err := s.api.UpdateChannelInfo(ctx, id, twitchapi.ChannelUpdate{Title: title}); err != nil {
		return unavailable("set title", err)
	}
	return nil
}

// SetGame looks up the category by name and switches the channel to it.
func (s *Service) SetGame(ctx context.Context, name string) (*twitchapi.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Invalidf("category is empty")
	}
	id, err := s.BroadcasterID(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := s.api.SearchCategory(ctx, name)
	if err != nil {
		return nil, unavailable("search category", err)
	}
	if cat == nil {
		return nil, fmt.Errorf("category %q: %w", name, model.ErrNotFound)
	}
	if err := s.api.UpdateChannelInfo(ctx, id, twitchapi.ChannelUpdate{GameID: cat.ID}); err != nil {
		return nil, unavailable("set game", err)
	}
	return cat, nil
}

// Stream returns the live stream, or nil when the channel is offline.
func (s *Service) Stream(ctx context.Context) (*twitchapi.Stream, error) {
	st, err := s.api.GetStream(ctx, s.login)
	if err != nil {
		return nil, unavailable("stream", err)
	}
	return st, nil
}

// Relationship is what the platform knows about a viewer's follow and
// subscription to the channel.
type Relationship struct {
	FollowedAt *time.Time
	SubTier    string
}

// Relationship looks up follow and subscription state for userID. Each
// lookup is independent; a failed one leaves its fields empty and its error
// is joined into the returned error.
func (s *Service) Relationship(ctx context.Context, userID string) (Relationship, error) {
	var rel Relationship
	id, err := s.BroadcasterID(ctx)
	if err != nil {
		return rel, err
	}
	var errs []error
	if f, err := s.api.GetFollower(ctx, id, userID); err != nil {
		errs = append(errs, unavailable("follower", err))
	} else if f != nil {
		t := f.FollowedAt
		rel.FollowedAt = &t
	}
	if sub, err := s.api.GetSubscription(ctx, id, userID); err != nil {
		errs = append(errs, unavailable("subscription", err))
	} else if sub != nil {
		rel.SubTier = sub.Tier
	}
	return rel, errors.Join(errs...)
}
