package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"COMMAND_PREFIX", "HANDLER_TIMEOUT", "COOLDOWN_PRUNE_INTERVAL", "HTTP_ADDR", "STORE_BACKEND", "RATE_LIMIT_BACKEND", "ENV", "CORS_PERMISSIVE"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CommandPrefix != "!" {
		t.Errorf("CommandPrefix = %q, want !", cfg.CommandPrefix)
	}
	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want :8000", cfg.HTTPAddr)
	}
	if cfg.HandlerTimeout != 5*time.Second {
		t.Errorf("HandlerTimeout = %v, want 5s", cfg.HandlerTimeout)
	}
	if cfg.CooldownPruneInterval != 10*time.Minute {
		t.Errorf("CooldownPruneInterval = %v, want 10m", cfg.CooldownPruneInterval)
	}
	if cfg.StoreBackend != "postgres" || cfg.RateLimitBackend != "memory" {
		t.Errorf("backends = %q/%q", cfg.StoreBackend, cfg.RateLimitBackend)
	}
	if !cfg.CORSPermissive {
		t.Error("empty ENV should be permissive")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "#SomeChannel")
	t.Setenv("HANDLER_TIMEOUT", "2500ms")
	t.Setenv("COOLDOWN_PRUNE_INTERVAL", "30")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TwitchChannel != "somechannel" {
		t.Errorf("TwitchChannel = %q", cfg.TwitchChannel)
	}
	if cfg.HandlerTimeout != 2500*time.Millisecond {
		t.Errorf("HandlerTimeout = %v", cfg.HandlerTimeout)
	}
	if cfg.CooldownPruneInterval != 30*time.Second {
		t.Errorf("CooldownPruneInterval = %v", cfg.CooldownPruneInterval)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.CORSPermissive {
		t.Error("production should not be permissive")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitBackend != "redis" || cfg.RedisDB != 2 {
		t.Errorf("redis config = %q db %d", cfg.RateLimitBackend, cfg.RedisDB)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"HANDLER_TIMEOUT", "soon"},
		{"COOLDOWN_PRUNE_INTERVAL", "-5s"},
		{"STORE_BACKEND", "sqlite"},
		{"RATE_LIMIT_REQUESTS_PER_IP", "many"},
		{"RATE_LIMIT_BACKEND", "postgres"},
		{"REDIS_DB", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q succeeded", tt.key, tt.value)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CHANNEL"); err != nil {
		t.Fatalf("failed to unset TWITCH_CHANNEL: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestHelixEnabled(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	cfg, _ := Load()
	if cfg.HelixEnabled() {
		t.Error("helix should need both id and secret")
	}
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	cfg, _ = Load()
	if !cfg.HelixEnabled() {
		t.Error("helix should be enabled")
	}
}
