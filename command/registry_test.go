package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
	"github.com/onnwee/streambot/backend/store"
)

var fixed = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(store.NewMemory())
	r.now = func() time.Time { return fixed }
	return r
}

func echo(reply string) Handler {
	return func(context.Context, *Invocation) (string, error) { return reply, nil }
}

func TestRegisterAndResolveBuiltin(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, model.Command{Name: "Uptime", MinRole: role.Viewer, GlobalCooldown: 10, UserCooldown: 20, Enabled: true}, echo("up")))

	cmd, h, err := r.Resolve(ctx, "UPTIME")
	require.NoError(t, err)
	assert.Equal(t, "uptime", cmd.Name)
	assert.Equal(t, model.Builtin, cmd.Type)
	assert.Equal(t, "system", cmd.CreatedBy)
	reply, err := h(ctx, &Invocation{Command: cmd})
	require.NoError(t, err)
	assert.Equal(t, "up", reply)

	// Re-registering overwrites metadata without losing usage.
	require.NoError(t, r.RecordUsage(ctx, "uptime", fixed))
	require.NoError(t, r.Register(ctx, model.Command{Name: "uptime", MinRole: role.Viewer, GlobalCooldown: 60, Enabled: true}, echo("up2")))
	cmd, h, err = r.Resolve(ctx, "uptime")
	require.NoError(t, err)
	assert.Equal(t, 60, cmd.GlobalCooldown)
	assert.EqualValues(t, 1, cmd.UsageCount)
	reply, _ = h(ctx, &Invocation{Command: cmd})
	assert.Equal(t, "up2", reply)

	assert.Error(t, r.Register(ctx, model.Command{Name: "nohandler"}, nil))
}

func TestCreateRejectsDuplicatesCaseInsensitively(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, model.Command{Name: "perfil", Enabled: true}, echo("p")))

	created, err := r.Create(ctx, model.Command{Name: "!Discord", Response: "discord.gg/x", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "discord", created.Name)
	assert.Equal(t, model.Custom, created.Type)
	assert.True(t, created.CreatedAt.Equal(fixed))

	_, err = r.Create(ctx, model.Command{Name: "DISCORD", Response: "other"})
	assert.True(t, errors.Is(err, model.ErrDuplicateName), "got %v", err)
	_, err = r.Create(ctx, model.Command{Name: "Perfil", Response: "shadow"})
	assert.True(t, errors.Is(err, model.ErrDuplicateName), "got %v", err)

	_, err = r.Create(ctx, model.Command{Name: "empty"})
	assert.True(t, errors.Is(err, model.ErrInvalid))
	_, err = r.Create(ctx, model.Command{Name: "neg", Response: "x", GlobalCooldown: -1})
	assert.True(t, errors.Is(err, model.ErrInvalid))
}

func TestBuiltinsAreImmutable(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, model.Command{Name: "settitulo", MinRole: role.Moderator, Enabled: true}, echo("ok")))

	off := false
	_, err := r.Update(ctx, "settitulo", model.CommandPatch{Enabled: &off})
	assert.True(t, errors.Is(err, model.ErrForbidden))
	assert.True(t, errors.Is(r.Remove(ctx, "SetTitulo"), model.ErrForbidden))

	cmd, err := r.Get(ctx, "settitulo")
	require.NoError(t, err)
	assert.True(t, cmd.Enabled)
	assert.Equal(t, role.Moderator, cmd.MinRole)
}

func TestUpdateAndRemoveCustom(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, model.Command{Name: "jogo", Enabled: true}, echo("j")))
	_, err := r.Create(ctx, model.Command{Name: "discord", Response: "a", Enabled: true, GlobalCooldown: 5, UserCooldown: 10})
	require.NoError(t, err)
	_, err = r.Create(ctx, model.Command{Name: "twitter", Response: "b", Enabled: true})
	require.NoError(t, err)

	resp := "discord.gg/new"
	cd := 30
	r.now = func() time.Time { return fixed.Add(time.Hour) }
	updated, err := r.Update(ctx, "Discord", model.CommandPatch{Response: &resp, UserCooldown: &cd})
	require.NoError(t, err)
	assert.Equal(t, "discord.gg/new", updated.Response)
	assert.Equal(t, 30, updated.UserCooldown)
	assert.Equal(t, 5, updated.GlobalCooldown)
	assert.True(t, updated.UpdatedAt.Equal(fixed.Add(time.Hour)))
	assert.True(t, updated.CreatedAt.Equal(fixed))

	clash := "TWITTER"
	_, err = r.Update(ctx, "discord", model.CommandPatch{Name: &clash})
	assert.True(t, errors.Is(err, model.ErrDuplicateName))
	builtin := "jogo"
	_, err = r.Update(ctx, "discord", model.CommandPatch{Name: &builtin})
	assert.True(t, errors.Is(err, model.ErrDuplicateName))
	empty := ""
	_, err = r.Update(ctx, "discord", model.CommandPatch{Response: &empty})
	assert.True(t, errors.Is(err, model.ErrInvalid))

	_, err = r.Update(ctx, "missing", model.CommandPatch{Response: &resp})
	assert.True(t, errors.Is(err, model.ErrNotFound))

	require.NoError(t, r.Remove(ctx, "twitter"))
	_, _, err = r.Resolve(ctx, "twitter")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.True(t, errors.Is(r.Remove(ctx, "twitter"), model.ErrNotFound))
}

func TestResolveBuiltinWithoutHandler(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertBuiltin(context.Background(), &model.Command{Name: "legacy", Type: model.Builtin, Enabled: true}))
	_, _, err := NewRegistry(mem).Resolve(context.Background(), "legacy")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestStaticResponseIsVerbatim(t *testing.T) {
	inv := &Invocation{
		Command: &model.Command{Response: "Write {user} and {count} literally", UsageCount: 4},
		Message: model.ChatMessage{Username: "alice", Channel: "somechannel"},
		Args:    "hello",
	}
	got, err := staticResponse(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "Write {user} and {count} literally", got)
}
