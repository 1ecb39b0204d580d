// Package command keeps the catalogue of chat commands: persisted metadata
// for every command plus the in-process handlers for built-in ones.
package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
)

// Cooldowns applied to custom commands created without explicit values.
const (
	DefaultGlobalCooldown = 5
	DefaultUserCooldown   = 10
)

// Store is the command persistence the registry needs.
type Store interface {
	GetCommand(ctx context.Context, name string) (*model.Command, error)
	ListCommands(ctx context.Context, enabledOnly bool) ([]model.Command, error)
	InsertCommand(ctx context.Context, c *model.Command) error
	UpsertBuiltin(ctx context.Context, c *model.Command) error
	UpdateCommand(ctx context.Context, name string, c *model.Command) error
	DeleteCommand(ctx context.Context, name string) error
	RecordCommandUsage(ctx context.Context, name string, at time.Time) error
}

// Invocation is everything a handler learns about one admitted command.
type Invocation struct {
	Command     *model.Command
	Message     model.ChatMessage
	Participant *model.Participant
	Role        role.Role
	// Args is the message text following the command name, trimmed.
	Args string
	Now  time.Time
}

// Handler produces the reply for an invocation. An empty reply sends nothing.
type Handler func(ctx context.Context, inv *Invocation) (string, error)

// Registry resolves command names to metadata and handlers.
type Registry struct {
	store Store
	now   func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store:    store,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
}

// Register installs a built-in command at startup. An existing command with
// the same name has its metadata overwritten; its usage counters survive.
func (r *Registry) Register(ctx context.Context, def model.Command, h Handler) error {
	if h == nil {
		return model.Invalidf("builtin %q has no handler", def.Name)
	}
	def.Name = model.NormalizeName(def.Name)
	def.Type = model.Builtin
	if err := def.Validate(); err != nil {
		return err
	}
	now := r.now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	if def.CreatedBy == "" {
		def.CreatedBy = "system"
	}
	if err := r.store.UpsertBuiltin(ctx, &def); err != nil {
		return err
	}
	r.mu.Lock()
	r.handlers[def.Name] = h
	r.mu.Unlock()
	return nil
}

// Create adds a custom command. A name already taken, in any letter case,
// fails with model.ErrDuplicateName.
func (r *Registry) Create(ctx context.Context, def model.Command) (*model.Command, error) {
	def.Name = model.NormalizeName(strings.TrimPrefix(strings.TrimSpace(def.Name), "!"))
	def.Type = model.Custom
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(def.Response) == "" {
		return nil, model.Invalidf("custom command %q needs a response", def.Name)
	}
	if r.isBuiltinName(def.Name) {
		return nil, fmt.Errorf("command %s: %w", def.Name, model.ErrDuplicateName)
	}
	now := r.now().UTC()
	def.UsageCount = 0
	def.LastUsed = nil
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := r.store.InsertCommand(ctx, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Resolve looks a command up by name, ignoring case, and returns it with the
// handler that runs it.
func (r *Registry) Resolve(ctx context.Context, name string) (*model.Command, Handler, error) {
	cmd, err := r.store.GetCommand(ctx, model.NormalizeName(name))
	if err != nil {
		return nil, nil, err
	}
	if cmd.Type == model.Custom {
		return cmd, staticResponse, nil
	}
	r.mu.RLock()
	h, ok := r.handlers[cmd.Name]
	r.mu.RUnlock()
	if !ok {
		// A builtin row left behind by a build that had a handler this one lacks.
		return nil, nil, fmt.Errorf("builtin %s has no handler: %w", cmd.Name, model.ErrNotFound)
	}
	return cmd, h, nil
}

// Get returns a command's metadata.
func (r *Registry) Get(ctx context.Context, name string) (*model.Command, error) {
	return r.store.GetCommand(ctx, model.NormalizeName(name))
}

// List returns commands ordered by name.
func (r *Registry) List(ctx context.Context, enabledOnly bool) ([]model.Command, error) {
	return r.store.ListCommands(ctx, enabledOnly)
}

// Update applies patch to a custom command. Built-ins are refused with
// model.ErrForbidden.
func (r *Registry) Update(ctx context.Context, name string, patch model.CommandPatch) (*model.Command, error) {
	cur, err := r.store.GetCommand(ctx, model.NormalizeName(name))
	if err != nil {
		return nil, err
	}
	if cur.Type == model.Builtin {
		return nil, fmt.Errorf("command %s is builtin: %w", cur.Name, model.ErrForbidden)
	}
	oldName := cur.Name
	patch.Apply(cur)
	if err := cur.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cur.Response) == "" {
		return nil, model.Invalidf("custom command %q needs a response", cur.Name)
	}
	if cur.Name != oldName && r.isBuiltinName(cur.Name) {
		return nil, fmt.Errorf("command %s: %w", cur.Name, model.ErrDuplicateName)
	}
	cur.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateCommand(ctx, oldName, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// Remove deletes a custom command. Built-ins are refused with
// model.ErrForbidden.
func (r *Registry) Remove(ctx context.Context, name string) error {
	cur, err := r.store.GetCommand(ctx, model.NormalizeName(name))
	if err != nil {
		return err
	}
	if cur.Type == model.Builtin {
		return fmt.Errorf("command %s is builtin: %w", cur.Name, model.ErrForbidden)
	}
	return r.store.DeleteCommand(ctx, cur.Name)
}

// RecordUsage bumps the usage counter and last-used time.
func (r *Registry) RecordUsage(ctx context.Context, name string, at time.Time) error {
	return r.store.RecordCommandUsage(ctx, model.NormalizeName(name), at)
}

func (r *Registry) isBuiltinName(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// staticResponse replies with a custom command's response as stored.
func staticResponse(_ context.Context, inv *Invocation) (string, error) {
	return inv.Command.Response, nil
}
