package main

import (
	"io"
	"log/slog"

	"github.com/EmilLidir/spinbot-discord/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "spinbot",
		Short:         "Spin the lucky wheel of a game account and collect the rewards",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSpinCmd(),
		newPreviewCmd(),
	)
	return rootCmd
}

// loadConfig reads .env and the environment and installs the JSON logger on
// w as the default.
func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}
	return cfg, logger, nil
}
