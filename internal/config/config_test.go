package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"SHAREDVIEW_HOST", "SHAREDVIEW_PORT", "SHAREDVIEW_EDITION",
		"SHAREDVIEW_DEBUG", "SHAREDVIEW_PG_DSN", "SHAREDVIEW_RATE_BURST",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.App.Addr(); got != "0.0.0.0:8080" {
		t.Fatalf("addr = %q", got)
	}
	if cfg.App.Edition != EditionCommunity {
		t.Fatalf("edition = %q", cfg.App.Edition)
	}
	if cfg.Postgres.DSN != "" {
		t.Fatalf("dsn = %q", cfg.Postgres.DSN)
	}
	if cfg.Auth.SessionTTLMinutes != 15 {
		t.Fatalf("session ttl = %d", cfg.Auth.SessionTTLMinutes)
	}
	if cfg.Rate.Burst != 20 || cfg.Rate.PerSec != 10 {
		t.Fatalf("rate = %+v", cfg.Rate)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SHAREDVIEW_HOST", "127.0.0.1")
	t.Setenv("SHAREDVIEW_PORT", "9000")
	t.Setenv("SHAREDVIEW_EDITION", "Commercial")
	t.Setenv("SHAREDVIEW_DEBUG", "true")
	t.Setenv("SHAREDVIEW_RATE_BURST", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.App.Addr(); got != "127.0.0.1:9000" {
		t.Fatalf("addr = %q", got)
	}
	if cfg.App.Edition != EditionCommercial {
		t.Fatalf("edition = %q", cfg.App.Edition)
	}
	if !cfg.App.Debug {
		t.Fatal("debug should be on")
	}
	// Unparseable numbers fall back to the default.
	if cfg.Rate.Burst != 20 {
		t.Fatalf("burst = %d", cfg.Rate.Burst)
	}
}

func TestLoadRejectsUnknownEdition(t *testing.T) {
	t.Setenv("SHAREDVIEW_EDITION", "enterprise")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown edition")
	}
}
