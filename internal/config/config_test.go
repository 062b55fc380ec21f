package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "SESSION_TTL", "EMAIL_PROVIDER", "CARE_TEAM_EMAILS", "TEMPLATE_VARIATIONS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected default session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.EmailProvider != "stub" {
		t.Fatalf("expected stub email provider, got %s", cfg.EmailProvider)
	}
	if !cfg.TemplateVariations {
		t.Fatalf("expected template variations enabled by default")
	}
	if cfg.CareTeamEmails != nil {
		t.Fatalf("expected no care team emails, got %v", cfg.CareTeamEmails)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("SESSION_LOCK_TTL", "3s")
	t.Setenv("USE_MEMORY_STORES", "true")
	t.Setenv("TEMPLATE_VARIATIONS", "false")
	t.Setenv("EMAIL_PROVIDER", "SES")
	t.Setenv("CARE_TEAM_EMAILS", "nurse@example.com, ,lead@example.com")
	t.Setenv("PUBLIC_BASE_URL", "https://voice.example.com/")
	t.Setenv("TRANSCRIPT_LIMIT", "not-a-number")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if !cfg.UsesPostgres() {
		t.Fatalf("expected postgres to be configured")
	}
	if cfg.SessionLockTTL != 3*time.Second {
		t.Fatalf("expected lock ttl override, got %s", cfg.SessionLockTTL)
	}
	if !cfg.UseMemoryStores || cfg.TemplateVariations {
		t.Fatalf("expected bool overrides to apply")
	}
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected lower-cased provider, got %s", cfg.EmailProvider)
	}
	if len(cfg.CareTeamEmails) != 2 || cfg.CareTeamEmails[1] != "lead@example.com" {
		t.Fatalf("unexpected care team emails: %v", cfg.CareTeamEmails)
	}
	if cfg.PublicBaseURL != "https://voice.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.PublicBaseURL)
	}
	if cfg.TranscriptLimit != 250 {
		t.Fatalf("expected invalid int to fall back, got %d", cfg.TranscriptLimit)
	}
}

func TestGetEnvAsDurationInvalid(t *testing.T) {
	t.Setenv("REPLAY_INTERVAL", "soon")
	if got := getEnvAsDuration("REPLAY_INTERVAL", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback duration, got %s", got)
	}
}

func TestUsesPostgresNil(t *testing.T) {
	var cfg *Config
	if cfg.UsesPostgres() {
		t.Fatalf("nil config must not report postgres")
	}
}

func TestChatRateLimitParsesFloat(t *testing.T) {
	t.Setenv("CHAT_RATE_LIMIT", "0.5")
	t.Setenv("CHAT_RATE_BURST", "")
	cfg := Load()
	if cfg.ChatRateLimit != 0.5 {
		t.Fatalf("expected fractional rate, got %v", cfg.ChatRateLimit)
	}
	if cfg.ChatRateBurst != 20 {
		t.Fatalf("expected default burst, got %d", cfg.ChatRateBurst)
	}
}
