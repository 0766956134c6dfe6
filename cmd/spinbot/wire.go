package main

import (
	"fmt"
	"log/slog"

	"github.com/EmilLidir/spinbot-discord/internal/config"
	"github.com/EmilLidir/spinbot-discord/internal/session"
	"github.com/EmilLidir/spinbot-discord/internal/spin"
	"github.com/EmilLidir/spinbot-discord/internal/store"
	"github.com/EmilLidir/spinbot-discord/internal/token"
	"github.com/EmilLidir/spinbot-discord/internal/transport"
)

type app struct {
	repo    *store.SQLiteStore
	service *spin.Service
}

func sessionConfig(g config.GameConfig) session.Config {
	cfg := session.DefaultConfig()
	cfg.Zone = g.Zone
	cfg.Version = g.Version
	cfg.Lang = g.Lang
	cfg.HandshakeStepDelay = g.HandshakeStepDelay
	cfg.AuthTimeout = g.AuthTimeout
	cfg.AuthPollInterval = g.AuthPollInterval
	cfg.DrainWindow = g.DrainWindow
	cfg.ActionTimeout = g.ActionTimeout
	cfg.ActionDelay = g.ActionDelay
	return cfg
}

func transportOptions(g config.GameConfig, logger *slog.Logger) transport.Options {
	return transport.Options{
		ConnectTimeout: g.ConnectTimeout,
		SendTimeout:    g.SendTimeout,
		ReadLimit:      g.MaxFrameBytes,
		Origin:         g.Origin,
		Logger:         logger,
	}
}

// wireApp builds the service graph shared by the serve and spin commands.
func wireApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("wire run history: %w", err)
	}

	tokens, err := token.FromConfig(cfg.Token.Value, cfg.Token.Command, cfg.Token.Timeout)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("wire token provider: %w", err)
	}

	dial := session.WebsocketDialer(cfg.Game.Endpoint, transportOptions(cfg.Game, logger))
	engine := session.NewEngine(sessionConfig(cfg.Game), dial, logger)

	svc := spin.NewService(engine, tokens, repo, spin.Options{
		MaxActions: cfg.MaxActions,
		Cooldown:   cfg.Cooldown,
		Logger:     logger,
	})
	return &app{repo: repo, service: svc}, nil
}

func (a *app) close() {
	if err := a.repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}
