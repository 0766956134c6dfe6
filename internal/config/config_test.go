package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Game.Zone != "EmpireEx_2" || cfg.Game.Version != "166" || cfg.Game.Lang != "de" {
		t.Errorf("unexpected game defaults: %+v", cfg.Game)
	}
	if cfg.Game.ActionTimeout != 15*time.Second || cfg.Game.ActionDelay != 300*time.Millisecond {
		t.Errorf("unexpected timing defaults: %+v", cfg.Game)
	}
	if cfg.DBPath != ":memory:" || cfg.MaxActions != 1000 || cfg.Cooldown != time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.IsDevelopment() {
		t.Error("default environment should not be development")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ACTION_TIMEOUT", "2s")
	t.Setenv("AUTH_TIMEOUT", "7")
	t.Setenv("CORS_ORIGINS", "https://a.test, https://b.test,")
	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_COMMAND", "fetch-token --headless")
	t.Setenv("MAX_ACTIONS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Game.ActionTimeout != 2*time.Second {
		t.Errorf("ActionTimeout = %s", cfg.Game.ActionTimeout)
	}
	if cfg.Game.AuthTimeout != 7*time.Second {
		t.Errorf("bare integers are seconds, got %s", cfg.Game.AuthTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.test" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if !cfg.IsDevelopment() {
		t.Error("APP_ENV=development not honoured")
	}
	if cfg.Token.Command != "fetch-token --headless" {
		t.Errorf("Token.Command = %q", cfg.Token.Command)
	}
	if cfg.MaxActions != 1000 {
		t.Errorf("invalid MAX_ACTIONS should fall back, got %d", cfg.MaxActions)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero action timeout", map[string]string{"ACTION_TIMEOUT": "0s"}},
		{"negative delay", map[string]string{"ACTION_DELAY": "-1s"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "chatty"}},
		{"empty endpoint", map[string]string{"GAME_ENDPOINT": ""}},
		{"zero max actions", map[string]string{"MAX_ACTIONS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected Load to fail")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	if err != nil || level != slog.LevelDebug {
		t.Errorf("ParseLevel(debug) = %v, %v", level, err)
	}
}
