// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	AppEnv       string
	DBPath       string
	LogLevel     string
	CORSOrigins  []string
	Cooldown     time.Duration
	RunRetention time.Duration
	MaxActions   int
	Game         GameConfig
	Token        TokenConfig
}

// GameConfig describes the game server and the session timing budgets.
type GameConfig struct {
	Endpoint string
	Origin   string
	Zone     string
	Version  string
	Lang     string

	ConnectTimeout     time.Duration
	SendTimeout        time.Duration
	AuthTimeout        time.Duration
	AuthPollInterval   time.Duration
	DrainWindow        time.Duration
	ActionTimeout      time.Duration
	ActionDelay        time.Duration
	HandshakeStepDelay time.Duration
	MaxFrameBytes      int64
}

// TokenConfig selects the anti-automation token source. Command wins over a
// static Value; neither means no token.
type TokenConfig struct {
	Value   string
	Command string
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		AppEnv:       getEnv("APP_ENV", "production"),
		DBPath:       getEnv("DB_PATH", ":memory:"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "*")),
		Cooldown:     getEnvDuration("COOLDOWN", 60*time.Second),
		RunRetention: getEnvDuration("RUN_RETENTION", 24*time.Hour),
		MaxActions:   getEnvInt("MAX_ACTIONS", 1000),
		Game: GameConfig{
			Endpoint:           getEnv("GAME_ENDPOINT", "wss://ep-live-de1-game.goodgamestudios.com/"),
			Origin:             getEnv("GAME_ORIGIN", "https://empire-html5.goodgamestudios.com"),
			Zone:               getEnv("GAME_ZONE", "EmpireEx_2"),
			Version:            getEnv("GAME_VERSION", "166"),
			Lang:               getEnv("GAME_LANG", "de"),
			ConnectTimeout:     getEnvDuration("CONNECT_TIMEOUT", 20*time.Second),
			SendTimeout:        getEnvDuration("SEND_TIMEOUT", 10*time.Second),
			AuthTimeout:        getEnvDuration("AUTH_TIMEOUT", 15*time.Second),
			AuthPollInterval:   getEnvDuration("AUTH_POLL_INTERVAL", 500*time.Millisecond),
			DrainWindow:        getEnvDuration("DRAIN_WINDOW", time.Second),
			ActionTimeout:      getEnvDuration("ACTION_TIMEOUT", 15*time.Second),
			ActionDelay:        getEnvDuration("ACTION_DELAY", 300*time.Millisecond),
			HandshakeStepDelay: getEnvDuration("HANDSHAKE_STEP_DELAY", 100*time.Millisecond),
			MaxFrameBytes:      int64(getEnvInt("MAX_FRAME_BYTES", 16<<20)),
		},
		Token: TokenConfig{
			Value:   getEnv("TOKEN", ""),
			Command: getEnv("TOKEN_COMMAND", ""),
			Timeout: getEnvDuration("TOKEN_TIMEOUT", 60*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxActions < 1 {
		return fmt.Errorf("MAX_ACTIONS must be > 0")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Game.Endpoint == "" {
		return fmt.Errorf("GAME_ENDPOINT cannot be empty")
	}
	if c.Game.Zone == "" || c.Game.Version == "" {
		return fmt.Errorf("GAME_ZONE and GAME_VERSION cannot be empty")
	}

	budgets := []struct {
		name string
		d    time.Duration
	}{
		{"CONNECT_TIMEOUT", c.Game.ConnectTimeout},
		{"SEND_TIMEOUT", c.Game.SendTimeout},
		{"AUTH_TIMEOUT", c.Game.AuthTimeout},
		{"AUTH_POLL_INTERVAL", c.Game.AuthPollInterval},
		{"ACTION_TIMEOUT", c.Game.ActionTimeout},
		{"TOKEN_TIMEOUT", c.Token.Timeout},
	}
	for _, b := range budgets {
		if b.d <= 0 {
			return fmt.Errorf("%s must be > 0", b.name)
		}
	}
	if c.Game.DrainWindow < 0 || c.Game.ActionDelay < 0 || c.Game.HandshakeStepDelay < 0 || c.Cooldown < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if c.Game.MaxFrameBytes <= 0 {
		return fmt.Errorf("MAX_FRAME_BYTES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("15s") and bare integers as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
