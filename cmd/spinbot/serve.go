package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/EmilLidir/spinbot-discord/internal/api"
	"github.com/EmilLidir/spinbot-discord/internal/config"
	"github.com/EmilLidir/spinbot-discord/internal/identity"
	"github.com/EmilLidir/spinbot-discord/internal/middleware"
	"github.com/EmilLidir/spinbot-discord/internal/store"
	"github.com/EmilLidir/spinbot-discord/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web front end and the run API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			a, err := wireApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.repo.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("database health check: %w", err)
			}
			slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db", cfg.DBPath)

			return serve(cmd.Context(), cfg, a)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func newRouter(cfg *config.Config, a *app) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	api.NewHealthHandler(a.repo).RegisterHealth(r)
	api.NewRunHandler(a.service).RegisterRoutes(r)

	r.Handle("/*", web.SPAHandler())
	return r
}

// serve runs the HTTP server and the history retention sweep until ctx ends,
// then drains both.
func serve(ctx context.Context, cfg *config.Config, a *app) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, a),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		slog.Info("Retention worker started", "retention", cfg.RunRetention)
		return store.RunRetention(egCtx, a.repo, cfg.RunRetention, 0, a.service.Forget)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := a.service.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("run shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := eg.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
