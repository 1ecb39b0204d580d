// Package model holds the records shared by the chat bot, the store and the
// HTTP API.
package model

import (
	"strings"
	"time"

	"github.com/onnwee/streambot/backend/role"
)

// Participant is a chat user observed in the channel.
type Participant struct {
	TwitchID      string     `json:"twitch_id"`
	Login         string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	Role          role.Role  `json:"role"`
	IsSubscriber  bool       `json:"is_subscriber"`
	IsModerator   bool       `json:"is_moderator"`
	IsVIP         bool       `json:"is_vip"`
	IsBroadcaster bool       `json:"is_broadcaster"`
	MessageCount  int64      `json:"message_count"`
	CommandCount  int64      `json:"command_count"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	FollowedAt    *time.Time `json:"followed_at,omitempty"`
	SubTier       string     `json:"subscription_tier,omitempty"`
	SubscribedAt  *time.Time `json:"subscribed_at,omitempty"`
}

// ParticipantStats is the aggregate view returned by /users/stats.
type ParticipantStats struct {
	TotalUsers    int64 `json:"total_users"`
	TotalMessages int64 `json:"total_messages"`
	TotalCommands int64 `json:"total_commands"`
	ActiveToday   int64 `json:"active_today"`
}

// CommandType distinguishes code-backed commands from user-defined ones.
type CommandType string

const (
	Builtin CommandType = "builtin"
	Custom  CommandType = "custom"
)

// Command is a registered chat command.
type Command struct {
	Name           string      `json:"name"`
	Response       string      `json:"response,omitempty"`
	Type           CommandType `json:"command_type"`
	Enabled        bool        `json:"enabled"`
	MinRole        role.Role   `json:"min_role"`
	GlobalCooldown int         `json:"global_cooldown"`
	UserCooldown   int         `json:"user_cooldown"`
	UsageCount     int64       `json:"usage_count"`
	LastUsed       *time.Time  `json:"last_used,omitempty"`
	Description    string      `json:"description,omitempty"`
	CreatedBy      string      `json:"created_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// GlobalWindow returns the global cooldown as a duration.
func (c *Command) GlobalWindow() time.Duration {
	return time.Duration(c.GlobalCooldown) * time.Second
}

// UserWindow returns the per-user cooldown as a duration.
func (c *Command) UserWindow() time.Duration {
	return time.Duration(c.UserCooldown) * time.Second
}

// Validate checks the fields a caller controls.
func (c *Command) Validate() error {
	if c.Name == "" || strings.ContainsAny(c.Name, " \t\r\n") {
		return Invalidf("command name %q must be a single non-empty word", c.Name)
	}
	if c.GlobalCooldown < 0 || c.UserCooldown < 0 {
		return Invalidf("cooldowns must not be negative")
	}
	if !c.MinRole.Valid() {
		return Invalidf("invalid minimum role")
	}
	if c.Type != Builtin && c.Type != Custom {
		return Invalidf("invalid command type %q", c.Type)
	}
	return nil
}

// CommandPatch carries a partial update. Nil fields are left unchanged.
type CommandPatch struct {
	Name           *string    `json:"name,omitempty"`
	Response       *string    `json:"response,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
	MinRole        *role.Role `json:"min_role,omitempty"`
	GlobalCooldown *int       `json:"global_cooldown,omitempty"`
	UserCooldown   *int       `json:"user_cooldown,omitempty"`
	Description    *string    `json:"description,omitempty"`
}

// Apply writes the supplied fields onto c.
func (p CommandPatch) Apply(c *Command) {
	if p.Name != nil {
		c.Name = NormalizeName(*p.Name)
	}
	if p.Response != nil {
		c.Response = *p.Response
	}
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.MinRole != nil {
		c.MinRole = *p.MinRole
	}
	if p.GlobalCooldown != nil {
		c.GlobalCooldown = *p.GlobalCooldown
	}
	if p.UserCooldown != nil {
		c.UserCooldown = *p.UserCooldown
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
}

// NormalizeName lower-cases and trims a command name.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ChatMessage is an inbound chat line with the author metadata the bot needs.
type ChatMessage struct {
	ID            string
	Channel       string
	UserID        string
	Username      string
	DisplayName   string
	Text          string
	Badges        map[string]int
	IsBroadcaster bool
	IsModerator   bool
	IsSubscriber  bool
	IsVIP         bool
	// Echo is set when the message was authored by the bot itself.
	Echo   bool
	SentAt time.Time
}

// Flags returns the role markers carried by the message.
func (m ChatMessage) Flags() role.Flags {
	return role.Flags{
		Broadcaster: m.IsBroadcaster,
		Moderator:   m.IsModerator,
		Subscriber:  m.IsSubscriber,
		VIP:         m.IsVIP,
	}
}

// Author returns the display name, falling back to the login.
func (m ChatMessage) Author() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}
