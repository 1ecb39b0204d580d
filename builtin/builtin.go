// Package builtin implements the commands that ship with the bot and the
// metadata they are seeded with.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
	"github.com/onnwee/streambot/backend/twitchapi"
)

// Command names.
const (
	Profile      = "perfil"
	Title        = "titulo"
	Game         = "jogo"
	SetTitle     = "settitulo"
	SetGame      = "setjogo"
	ListCommands = "comandos"
	Uptime       = "uptime"
)

// Definitions returns the seed metadata for every built-in command.
func Definitions() []model.Command {
	def := func(name, desc string, min role.Role, global, user int) model.Command {
		return model.Command{
			Name:           name,
			Type:           model.Builtin,
			Enabled:        true,
			MinRole:        min,
			GlobalCooldown: global,
			UserCooldown:   user,
			Description:    desc,
			CreatedBy:      "system",
		}
	}
	return []model.Command{
		def(Profile, "Shows your profile in this channel", role.Viewer, 5, 30),
		def(Title, "Shows the current stream title", role.Viewer, 10, 20),
		def(Game, "Shows the current category", role.Viewer, 10, 20),
		def(SetTitle, "Changes the stream title", role.Moderator, 0, 0),
		def(SetGame, "Changes the stream category", role.Moderator, 0, 0),
		def(ListCommands, "Lists the commands you can use", role.Viewer, 15, 30),
		def(Uptime, "Shows how long the stream has been live", role.Viewer, 10, 20),
	}
}

// Channel is the channel access the handlers need.
type Channel interface {
	Info(ctx context.Context) (*twitchapi.ChannelInfo, error)
	SetTitle(ctx context.Context, title string) error
	SetGame(ctx context.Context, name string) (*twitchapi.Category, error)
	Stream(ctx context.Context) (*twitchapi.Stream, error)
}

// Lister lists registered commands.
type Lister interface {
	List(ctx context.Context, enabledOnly bool) ([]model.Command, error)
}

// Deps wires the handlers to their collaborators.
type Deps struct {
	Channel  Channel
	Commands Lister
	Prefix   string
}

// Handlers returns the handler for each built-in command name.
func Handlers(d Deps) map[string]command.Handler {
	if d.Prefix == "" {
		d.Prefix = "!"
	}
	return map[string]command.Handler{
		Profile:      profile,
		Title:        d.title,
		Game:         d.game,
		SetTitle:     d.setTitle,
		SetGame:      d.setGame,
		ListCommands: d.listCommands,
		Uptime:       d.uptime,
	}
}

// RegisterAll seeds every built-in into reg.
func RegisterAll(ctx context.Context, reg *command.Registry, d Deps) error {
	hs := Handlers(d)
	for _, def := range Definitions() {
		if err := reg.Register(ctx, def, hs[def.Name]); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}

func mention(inv *command.Invocation) string {
	return "@" + inv.Message.Author()
}

func profile(_ context.Context, inv *command.Invocation) (string, error) {
	p := inv.Participant
	if p == nil {
		return mention(inv) + ", I couldn't find your profile yet!", nil
	}

	var status []string
	if p.IsBroadcaster {
		status = append(status, "Broadcaster")
	}
	if p.IsModerator {
		status = append(status, "Moderator")
	}
	if p.IsSubscriber {
		status = append(status, "Subscriber")
	}
	if p.IsVIP {
		status = append(status, "VIP")
	}
	if len(status) == 0 {
		status = append(status, "Viewer")
	}

	following := "not following"
	if p.FollowedAt != nil {
		following = fmt.Sprintf("%d days", int(inv.Now.Sub(*p.FollowedAt).Hours()/24))
	}
	sub := "not subscribed"
	if p.SubscribedAt != nil {
		months := int(inv.Now.Sub(*p.SubscribedAt).Hours()/24) / 30
		sub = fmt.Sprintf("%d months (Tier %s)", months, tierLabel(p.SubTier))
	}

	return fmt.Sprintf("%s | %s | Following: %s | Sub: %s | Messages: %d | Commands: %d",
		mention(inv), strings.Join(status, " | "), following, sub, p.MessageCount, p.CommandCount), nil
}

func tierLabel(tier string) string {
	switch tier {
	case "2000":
		return "2"
	case "3000":
		return "3"
	default:
		return "1"
	}
}

func (d Deps) title(ctx context.Context, _ *command.Invocation) (string, error) {
	info, err := d.Channel.Info(ctx)
	if err != nil {
		return "", err
	}
	if info.Title == "" {
		return "The stream has no title.", nil
	}
	return "Current title: " + info.Title, nil
}

func (d Deps) game(ctx context.Context, _ *command.Invocation) (string, error) {
	info, err := d.Channel.Info(ctx)
	if err != nil {
		return "", err
	}
	if info.GameName == "" {
		return "No category set.", nil
	}
	return "Playing: " + info.GameName, nil
}

func (d Deps) setTitle(ctx context.Context, inv *command.Invocation) (string, error) {
	if inv.Args == "" {
		return fmt.Sprintf("%s, usage: %s%s <new title>", mention(inv), d.Prefix, SetTitle), nil
	}
	if err := d.Channel.SetTitle(ctx, inv.Args); err != nil {
		return "", err
	}
	return "Title changed to: " + inv.Args, nil
}

func (d Deps) setGame(ctx context.Context, inv *command.Invocation) (string, error) {
	if inv.Args == "" {
		return fmt.Sprintf("%s, usage: %s%s <category>", mention(inv), d.Prefix, SetGame), nil
	}
	cat, err := d.Channel.SetGame(ctx, inv.Args)
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Sprintf("%s, no category matches %q.", mention(inv), inv.Args), nil
	}
	if err != nil {
		return "", err
	}
	return "Category changed to: " + cat.Name, nil
}

func (d Deps) listCommands(ctx context.Context, inv *command.Invocation) (string, error) {
	cmds, err := d.Commands.List(ctx, true)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if role.MeetsMinimum(inv.Role, c.MinRole) {
			names = append(names, d.Prefix+c.Name)
		}
	}
	if len(names) == 0 {
		return "No commands available.", nil
	}
	return "Available commands: " + strings.Join(names, ", "), nil
}

func (d Deps) uptime(ctx context.Context, inv *command.Invocation) (string, error) {
	st, err := d.Channel.Stream(ctx)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "The channel is offline right now!", nil
	}
	up := inv.Now.Sub(st.StartedAt)
	if up < 0 {
		up = 0
	}
	hours := int(up / time.Hour)
	minutes := int((up % time.Hour) / time.Minute)
	return fmt.Sprintf("Live for %dh %dmin | Viewers: %d", hours, minutes, st.ViewerCount), nil
}
