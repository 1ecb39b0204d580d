package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streambot/backend/model"
)

// Memory is an in-process Store. It is safe for concurrent use; every
// method holds the lock for its whole read-modify-write.
type Memory struct {
	mu           sync.RWMutex
	participants map[string]*model.Participant
	commands     map[string]*model.Command
}

func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]*model.Participant),
		commands:     make(map[string]*model.Command),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func copyParticipant(p *model.Participant) *model.Participant {
	c := *p
	if p.FollowedAt != nil {
		t := *p.FollowedAt
		c.FollowedAt = &t
	}
	if p.SubscribedAt != nil {
		t := *p.SubscribedAt
		c.SubscribedAt = &t
	}
	return &c
}

func copyCommand(c *model.Command) *model.Command {
	out := *c
	if c.LastUsed != nil {
		t := *c.LastUsed
		out.LastUsed = &t
	}
	return &out
}

func (m *Memory) GetParticipant(_ context.Context, twitchID string) (*model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[twitchID]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", twitchID, model.ErrNotFound)
	}
	return copyParticipant(p), nil
}

func (m *Memory) ParticipantByLogin(_ context.Context, login string) (*model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *model.Participant
	for _, p := range m.participants {
		if strings.EqualFold(p.Login, login) && (found == nil || p.LastSeen.After(found.LastSeen)) {
			found = p
		}
	}
	if found == nil {
		return nil, fmt.Errorf("participant %s: %w", login, model.ErrNotFound)
	}
	return copyParticipant(found), nil
}

func (m *Memory) CreateParticipant(_ context.Context, p *model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[p.TwitchID]; ok {
		return fmt.Errorf("participant %s: %w", p.TwitchID, model.ErrDuplicateName)
	}
	m.participants[p.TwitchID] = copyParticipant(p)
	return nil
}

func (m *Memory) TouchParticipant(_ context.Context, t Touch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[t.TwitchID]
	if !ok {
		return fmt.Errorf("participant %s: %w", t.TwitchID, model.ErrNotFound)
	}
	p.Login = t.Login
	p.DisplayName = t.DisplayName
	p.Role = t.Role
	p.IsSubscriber = t.Flags.Subscriber
	p.IsModerator = t.Flags.Moderator
	p.IsVIP = t.Flags.VIP
	p.IsBroadcaster = t.Flags.Broadcaster
	p.MessageCount++
	p.LastSeen = t.At
	return nil
}

func (m *Memory) IncrementCommandCount(_ context.Context, twitchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[twitchID]
	if !ok {
		return fmt.Errorf("participant %s: %w", twitchID, model.ErrNotFound)
	}
	p.CommandCount++
	return nil
}

func (m *Memory) sortedParticipants(less func(a, b *model.Participant) bool) []*model.Participant {
	all := make([]*model.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })
	return all
}

func (m *Memory) ListParticipants(_ context.Context, skip, limit int) ([]model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sortedParticipants(func(a, b *model.Participant) bool {
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.TwitchID < b.TwitchID
	})
	if skip < 0 {
		skip = 0
	}
	if skip > len(all) {
		skip = len(all)
	}
	all = all[skip:]
	if n := clampLimit(limit); len(all) > n {
		all = all[:n]
	}
	out := make([]model.Participant, 0, len(all))
	for _, p := range all {
		out = append(out, *copyParticipant(p))
	}
	return out, nil
}

func (m *Memory) TopChatters(_ context.Context, limit int) ([]model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sortedParticipants(func(a, b *model.Participant) bool {
		if a.MessageCount != b.MessageCount {
			return a.MessageCount > b.MessageCount
		}
		return a.TwitchID < b.TwitchID
	})
	if n := clampLimit(limit); len(all) > n {
		all = all[:n]
	}
	out := make([]model.Participant, 0, len(all))
	for _, p := range all {
		out = append(out, *copyParticipant(p))
	}
	return out, nil
}

func (m *Memory) ParticipantStats(_ context.Context, activeSince time.Time) (model.ParticipantStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st model.ParticipantStats
	for _, p := range m.participants {
		st.TotalUsers++
		st.TotalMessages += p.MessageCount
		st.TotalCommands += p.CommandCount
		if !p.LastSeen.Before(activeSince) {
			st.ActiveToday++
		}
	}
	return st, nil
}

func (m *Memory) GetCommand(_ context.Context, name string) (*model.Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commands[model.NormalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("command %s: %w", name, model.ErrNotFound)
	}
	return copyCommand(c), nil
}

func (m *Memory) ListCommands(_ context.Context, enabledOnly bool) ([]model.Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Command, 0, len(m.commands))
	for _, c := range m.commands {
		if enabledOnly && !c.Enabled {
			continue
		}
		out = append(out, *copyCommand(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) InsertCommand(_ context.Context, c *model.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[c.Name]; ok {
		return fmt.Errorf("command %s: %w", c.Name, model.ErrDuplicateName)
	}
	m.commands[c.Name] = copyCommand(c)
	return nil
}

func (m *Memory) UpsertBuiltin(_ context.Context, c *model.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := copyCommand(c)
	if prev, ok := m.commands[c.Name]; ok {
		next.UsageCount = prev.UsageCount
		next.LastUsed = prev.LastUsed
		next.CreatedAt = prev.CreatedAt
		next.CreatedBy = prev.CreatedBy
	} else {
		next.UsageCount = 0
		next.LastUsed = nil
		next.CreatedAt = c.UpdatedAt
	}
	m.commands[c.Name] = next
	return nil
}

func (m *Memory) UpdateCommand(_ context.Context, name string, c *model.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = model.NormalizeName(name)
	prev, ok := m.commands[name]
	if !ok {
		return fmt.Errorf("command %s: %w", name, model.ErrNotFound)
	}
	if c.Name != name {
		if _, taken := m.commands[c.Name]; taken {
			return fmt.Errorf("command %s: %w", c.Name, model.ErrDuplicateName)
		}
	}
	next := copyCommand(prev)
	next.Name = c.Name
	next.Response = c.Response
	next.Enabled = c.Enabled
	next.MinRole = c.MinRole
	next.GlobalCooldown = c.GlobalCooldown
	next.UserCooldown = c.UserCooldown
	next.Description = c.Description
	next.UpdatedAt = c.UpdatedAt
	delete(m.commands, name)
	m.commands[next.Name] = next
	return nil
}

func (m *Memory) DeleteCommand(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = model.NormalizeName(name)
	if _, ok := m.commands[name]; !ok {
		return fmt.Errorf("command %s: %w", name, model.ErrNotFound)
	}
	delete(m.commands, name)
	return nil
}

func (m *Memory) RecordCommandUsage(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commands[model.NormalizeName(name)]
	if !ok {
		return fmt.Errorf("command %s: %w", name, model.ErrNotFound)
	}
	c.UsageCount++
	t := at
	c.LastUsed = &t
	return nil
}
