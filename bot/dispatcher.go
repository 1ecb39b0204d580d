// Package bot turns inbound chat messages into participant updates and
// command executions.
//
// Every message goes through the Tracker first, then the Dispatcher decides
// whether it is a command and whether it may run:
//
//	echo          -> Ignored
//	no prefix     -> NotCommand
//	unknown name  -> Unknown (silent)
//	role too low  -> RoleDenied (reply names the required role)
//	cooling down  -> CooldownDenied (silent)
//	otherwise     -> handler runs; Executed or Failed
//
// Cooldowns are armed before the handler runs and stay armed when it fails.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/onnwee/streambot/backend/command"
	"github.com/onnwee/streambot/backend/cooldown"
	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/role"
	"github.com/onnwee/streambot/backend/telemetry"
)

// Outcome is the terminal state of dispatching one message.
type Outcome int

const (
	Ignored Outcome = iota
	NotCommand
	Unknown
	RoleDenied
	CooldownDenied
	Executed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case NotCommand:
		return "not_command"
	case Unknown:
		return "unknown"
	case RoleDenied:
		return "role_denied"
	case CooldownDenied:
		return "cooldown_denied"
	case Executed:
		return "executed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Registry resolves commands and records their use.
type Registry interface {
	Resolve(ctx context.Context, name string) (*model.Command, command.Handler, error)
	RecordUsage(ctx context.Context, name string, at time.Time) error
}

// Replier sends a line to a chat channel.
type Replier interface {
	Say(channel, text string) error
}

// Options configures a Dispatcher.
type Options struct {
	Prefix         string
	BotUsername    string
	HandlerTimeout time.Duration
}

// Dispatcher runs the per-message pipeline.
type Dispatcher struct {
	registry  Registry
	cooldowns *cooldown.Tracker
	tracker   *Tracker
	replier   Replier
	prefix    string
	botLogin  string
	timeout   time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewDispatcher(reg Registry, cooldowns *cooldown.Tracker, tracker *Tracker, replier Replier, opts Options) *Dispatcher {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 5 * time.Second
	}
	return &Dispatcher{
		registry:  reg,
		cooldowns: cooldowns,
		tracker:   tracker,
		replier:   replier,
		prefix:    opts.Prefix,
		botLogin:  strings.ToLower(opts.BotUsername),
		timeout:   opts.HandlerTimeout,
		now:       time.Now,
		log:       slog.Default().With(slog.String("component", "dispatch")),
	}
}

// Handle processes one inbound message and reports what happened to it.
func (d *Dispatcher) Handle(ctx context.Context, msg model.ChatMessage) Outcome {
	if msg.Echo || (d.botLogin != "" && strings.EqualFold(msg.Username, d.botLogin)) {
		return Ignored
	}
	telemetry.RecordMessage()
	now := d.now().UTC()

	p, err := d.tracker.Observe(ctx, msg, now)
	if err != nil {
		d.log.Error("participant update failed", slog.String("user", msg.Username), slog.Any("err", err))
	}

	name, args, ok := d.parse(msg.Text)
	if !ok {
		return d.finish(NotCommand)
	}

	ctx, span := telemetry.StartSpan(ctx, "streambot/bot", "dispatch",
		telemetry.CommandAttr(name),
		telemetry.ParticipantAttr(msg.UserID),
		telemetry.ChannelAttr(msg.Channel),
	)
	defer span.End()

	outcome := d.dispatch(ctx, msg, p, name, args, now)
	span.SetAttributes(telemetry.OutcomeAttr(outcome.String()))
	if outcome == Failed {
		span.SetStatus(telemetry.ErrorStatus("command failed"))
	} else {
		telemetry.SetSpanSuccess(span)
	}
	return d.finish(outcome)
}

func (d *Dispatcher) dispatch(ctx context.Context, msg model.ChatMessage, p *model.Participant, name, args string, now time.Time) Outcome {
	cmd, h, err := d.registry.Resolve(ctx, name)
	if errors.Is(err, model.ErrNotFound) {
		return Unknown
	}
	if err != nil {
		// No reply: the name may not even be a command.
		d.log.Error("command lookup failed", slog.String("command", name), slog.Any("err", err))
		return Failed
	}
	if !cmd.Enabled {
		return Unknown
	}

	r := role.FromFlags(msg.Flags())
	if !role.MeetsMinimum(r, cmd.MinRole) {
		d.say(msg.Channel, fmt.Sprintf("@%s, %s%s requires the %s role.", msg.Author(), d.prefix, cmd.Name, cmd.MinRole))
		return RoleDenied
	}

	if dec := d.cooldowns.CheckAndArm(cmd.Name, msg.UserID, cmd.GlobalWindow(), cmd.UserWindow(), now); dec != cooldown.Admit {
		global, user := d.cooldowns.Remaining(cmd.Name, msg.UserID, now)
		d.log.Debug("command on cooldown", slog.String("command", cmd.Name), slog.String("user", msg.Username),
			slog.String("scope", dec.String()), slog.Duration("global_left", global), slog.Duration("user_left", user))
		return CooldownDenied
	}

	inv := &command.Invocation{
		Command:     cmd,
		Message:     msg,
		Participant: p,
		Role:        r,
		Args:        args,
		Now:         now,
	}
	hctx, cancel := context.WithTimeout(ctx, d.timeout)
	start := time.Now()
	reply, err := h(hctx, inv)
	cancel()
	telemetry.ObserveHandler(cmd.Name, time.Since(start))
	if err != nil {
		d.log.Warn("command handler failed", slog.String("command", cmd.Name), slog.String("user", msg.Username), slog.Any("err", err))
		d.say(msg.Channel, fmt.Sprintf("@%s, something went wrong running %s%s. Try again later!", msg.Author(), d.prefix, cmd.Name))
		return Failed
	}

	if err := d.registry.RecordUsage(ctx, cmd.Name, now); err != nil {
		d.log.Error("record command usage", slog.String("command", cmd.Name), slog.Any("err", err))
	}
	if p != nil {
		if err := d.tracker.CommandUsed(ctx, msg.UserID); err != nil {
			d.log.Error("record participant command", slog.String("user", msg.Username), slog.Any("err", err))
		}
	}
	telemetry.RecordCommand(cmd.Name)
	if reply != "" {
		d.say(msg.Channel, reply)
	}
	return Executed
}

// parse splits "!name rest of line" into a lower-cased name and its args.
func (d *Dispatcher) parse(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, d.prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(text, d.prefix)
	name = rest
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, args = rest[:i], rest[i:]
	}
	name = model.NormalizeName(name)
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

func (d *Dispatcher) say(channel, text string) {
	if d.replier == nil {
		return
	}
	if err := d.replier.Say(channel, text); err != nil {
		telemetry.RecordReplyFailure()
		d.log.Warn("reply failed", slog.String("channel", channel), slog.Any("err", err))
	}
}

func (d *Dispatcher) finish(o Outcome) Outcome {
	telemetry.RecordOutcome(o.String())
	return o
}

// RunPruner drops expired cooldown entries every interval until ctx ends.
func (d *Dispatcher) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.cooldowns.Prune(d.now()); n > 0 {
				d.log.Debug("pruned cooldowns", slog.Int("removed", n))
			}
			telemetry.SetCooldownEntries(d.cooldowns.Len())
		}
	}
}
