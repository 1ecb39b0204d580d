// Package cooldown tracks per-command global and per-participant cooldown
// windows in process memory.
package cooldown

import (
	"sync"
	"time"
)

// Decision is the outcome of a CheckAndArm call.
type Decision int

const (
	Admit Decision = iota
	DenyGlobal
	DenyUser
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case DenyGlobal:
		return "global"
	case DenyUser:
		return "user"
	default:
		return "unknown"
	}
}

// Tracker holds cooldown expiries. The zero value is not usable; call New.
type Tracker struct {
	mu     sync.Mutex
	global map[string]time.Time
	user   map[string]map[string]time.Time
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		global: make(map[string]time.Time),
		user:   make(map[string]map[string]time.Time),
	}
}

// CheckAndArm evaluates the global window for command and then the user
// window for (participant, command). If either is still open the call denies
// without touching state. Otherwise both windows are armed from now and the
// call admits. The check and the arm happen under one lock acquisition, so of
// two concurrent attempts against the same window exactly one is admitted.
func (t *Tracker) CheckAndArm(command, participant string, global, user time.Duration, now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if exp, ok := t.global[command]; ok && now.Before(exp) {
		return DenyGlobal
	}
	if exp, ok := t.user[participant][command]; ok && now.Before(exp) {
		return DenyUser
	}

	if global > 0 {
		t.global[command] = now.Add(global)
	}
	if user > 0 {
		m := t.user[participant]
		if m == nil {
			m = make(map[string]time.Time)
			t.user[participant] = m
		}
		m[command] = now.Add(user)
	}
	return Admit
}

// Remaining returns how long the global and user windows for the pair stay
// open after now. Closed windows report zero.
func (t *Tracker) Remaining(command, participant string, now time.Time) (global, user time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if exp, ok := t.global[command]; ok && now.Before(exp) {
		global = exp.Sub(now)
	}
	if exp, ok := t.user[participant][command]; ok && now.Before(exp) {
		user = exp.Sub(now)
	}
	return global, user
}

// Prune drops every expired entry and returns how many were removed.
func (t *Tracker) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for cmd, exp := range t.global {
		if !now.Before(exp) {
			delete(t.global, cmd)
			n++
		}
	}
	for p, m := range t.user {
		for cmd, exp := range m {
			if !now.Before(exp) {
				delete(m, cmd)
				n++
			}
		}
		if len(m) == 0 {
			delete(t.user, p)
		}
	}
	return n
}

// Len returns the number of live entries (global plus per-user).
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.global)
	for _, m := range t.user {
		n += len(m)
	}
	return n
}
