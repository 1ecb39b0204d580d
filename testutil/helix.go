package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/onnwee/streambot/backend/twitchapi"
)

// FakeHelix is an in-memory stand-in for the Helix client. Set Err to make
// every call fail; set BlockUntil to hold channel info lookups until it closes.
type FakeHelix struct {
	mu sync.Mutex

	Users       map[string]twitchapi.User
	Info        *twitchapi.ChannelInfo
	LiveStream  *twitchapi.Stream
	Followers   map[string]twitchapi.Follow
	Subs        map[string]twitchapi.Subscription
	Categories  []twitchapi.Category
	Updates     []twitchapi.ChannelUpdate
	Err         error
	UserLookups int
	BlockUntil  chan struct{}
}

func (f *FakeHelix) wait(ctx context.Context) error {
	if f.BlockUntil == nil {
		return nil
	}
	select {
	case <-f.BlockUntil:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeHelix) GetUser(ctx context.Context, login string) (*twitchapi.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UserLookups++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	u, ok := f.Users[login]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *FakeHelix) GetChannelInfo(ctx context.Context, _ string) (*twitchapi.ChannelInfo, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Info == nil {
		return nil, nil
	}
	info := *f.Info
	return &info, nil
}

func (f *FakeHelix) UpdateChannelInfo(ctx context.Context, _ string, upd twitchapi.ChannelUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Updates = append(f.Updates, upd)
	if f.Info != nil {
		if upd.Title != "" {
			f.Info.Title = upd.Title
		}
		if upd.GameID != "" {
			f.Info.GameID = upd.GameID
			for _, c := range f.Categories {
				if c.ID == upd.GameID {
					f.Info.GameName = c.Name
				}
			}
		}
	}
	return nil
}

func (f *FakeHelix) GetStream(ctx context.Context, _ string) (*twitchapi.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.LiveStream == nil {
		return nil, nil
	}
	s := *f.LiveStream
	return &s, nil
}

func (f *FakeHelix) GetFollower(ctx context.Context, _, userID string) (*twitchapi.Follow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	fl, ok := f.Followers[userID]
	if !ok {
		return nil, nil
	}
	return &fl, nil
}

func (f *FakeHelix) GetSubscription(ctx context.Context, _, userID string) (*twitchapi.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.Subs[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *FakeHelix) SearchCategory(ctx context.Context, name string) (*twitchapi.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, c := range f.Categories {
		if strings.EqualFold(c.Name, name) {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}
