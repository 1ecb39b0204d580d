package main

import (
	"testing"
	"time"
)

func TestNextBackoffCapped(t *testing.T) {
	d := time.Second
	var seen []time.Duration
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
		seen = append(seen, d)
		if d > maxChatBackoff {
			t.Fatalf("backoff %v exceeds cap %v", d, maxChatBackoff)
		}
	}
	if seen[0] != 2*time.Second {
		t.Errorf("first backoff = %v, want 2s", seen[0])
	}
	if last := seen[len(seen)-1]; last != maxChatBackoff {
		t.Errorf("backoff settled at %v, want %v", last, maxChatBackoff)
	}
}
