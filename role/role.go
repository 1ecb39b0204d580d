// Package role models chat participant roles and the ordering used to gate
// commands.
package role

import (
	"fmt"
	"strings"
)

// Role is a participant's standing in the channel. Values are ordered so a
// higher value always carries every permission of a lower one.
type Role int

const (
	Viewer Role = iota
	Subscriber
	VIP
	Moderator
	Broadcaster
)

var names = [...]string{
	Viewer:      "viewer",
	Subscriber:  "subscriber",
	VIP:         "vip",
	Moderator:   "moderator",
	Broadcaster: "broadcaster",
}

func (r Role) String() string {
	if r < Viewer || r > Broadcaster {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return names[r]
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool { return r >= Viewer && r <= Broadcaster }

// Parse converts a role name (case-insensitive) to a Role.
func Parse(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return Role(i), nil
		}
	}
	return Viewer, fmt.Errorf("unknown role %q", s)
}

// MarshalText encodes the role by name so JSON bodies and database columns
// carry "moderator" rather than an ordinal.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(names[r]), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Flags are the role markers carried by a single chat message.
type Flags struct {
	Broadcaster bool
	Moderator   bool
	Subscriber  bool
	VIP         bool
}

// FromFlags derives a role from message flags. Precedence is
// Broadcaster > Moderator > Subscriber > Viewer; the VIP flag is recorded on
// the participant but never promotes the derived role.
func FromFlags(f Flags) Role {
	switch {
	case f.Broadcaster:
		return Broadcaster
	case f.Moderator:
		return Moderator
	case f.Subscriber:
		return Subscriber
	default:
		return Viewer
	}
}

// MeetsMinimum reports whether actual is at or above required.
func MeetsMinimum(actual, required Role) bool { return actual >= required }
