package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/streambot/backend/model"
	"github.com/onnwee/streambot/backend/telemetry"
)

// ErrNotConnected is returned by Say before the client has joined.
var ErrNotConnected = errors.New("chat: not connected")

// Handler receives converted chat messages.
type Handler func(ctx context.Context, msg model.ChatMessage)

// Config holds the IRC identity and the channel to join.
type Config struct {
	Username   string
	OAuthToken string
	Channel    string
}

// Client wraps go-twitch-irc for a single channel.
type Client struct {
	irc       *twitch.Client
	handler   Handler
	channel   string
	botLogin  string
	connected atomic.Bool
	baseCtx   context.Context
	log       *slog.Logger
}

func NewClient(cfg Config, handler Handler) *Client {
	token := cfg.OAuthToken
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	irc := twitch.NewClient(cfg.Username, token)
	c := &Client{
		irc:      irc,
		handler:  handler,
		channel:  normalizeChannel(cfg.Channel),
		botLogin: strings.ToLower(cfg.Username),
		log:      slog.Default().With(slog.String("component", "chat")),
	}

	irc.OnConnect(func() {
		c.connected.Store(true)
		telemetry.UpdateChatConnected(true)
		c.log.Info("connected to twitch chat", slog.String("channel", c.channel))
		irc.Join(c.channel)
	})
	irc.OnReconnectMessage(func(twitch.ReconnectMessage) {
		c.connected.Store(false)
		telemetry.UpdateChatConnected(false)
		c.log.Warn("twitch requested reconnect")
	})
	irc.OnNoticeMessage(func(m twitch.NoticeMessage) {
		c.log.Info("twitch notice", slog.String("msg_id", m.MsgID), slog.String("message", m.Message))
	})
	irc.OnPrivateMessage(func(m twitch.PrivateMessage) {
		c.handler(c.context(), toChatMessage(m, c.botLogin))
	})
	return c
}

// Run connects and blocks until ctx ends or the connection fails for good.
func (c *Client) Run(ctx context.Context) error {
	c.baseCtx = ctx
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.irc.Connect()
	}()

	defer func() {
		c.connected.Store(false)
		telemetry.UpdateChatConnected(false)
	}()

	select {
	case <-ctx.Done():
		c.irc.Disconnect()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Say sends text to channel.
func (c *Client) Say(channel, text string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.irc.Say(normalizeChannel(channel), text)
	return nil
}

func (c *Client) context() context.Context {
	if c.baseCtx != nil {
		return c.baseCtx
	}
	return context.Background()
}

func toChatMessage(m twitch.PrivateMessage, botLogin string) model.ChatMessage {
	badges := make(map[string]int, len(m.User.Badges))
	for k, v := range m.User.Badges {
		badges[k] = v
	}
	sentAt := m.Time
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	ch := normalizeChannel(m.Channel)
	login := strings.ToLower(m.User.Name)

	return model.ChatMessage{
		ID:            m.ID,
		Channel:       ch,
		UserID:        m.User.ID,
		Username:      login,
		DisplayName:   m.User.DisplayName,
		Text:          m.Message,
		Badges:        badges,
		IsBroadcaster: has(badges, "broadcaster") || login == ch,
		IsModerator:   has(badges, "moderator") || m.Tags["mod"] == "1",
		IsSubscriber:  has(badges, "subscriber") || has(badges, "founder"),
		IsVIP:         has(badges, "vip"),
		Echo:          botLogin != "" && login == botLogin,
		SentAt:        sentAt,
	}
}

// Badge versions start at 0 (subscriber/0, founder/0), so presence is what
// counts.
func has(badges map[string]int, name string) bool {
	_, ok := badges[name]
	return ok
}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}
