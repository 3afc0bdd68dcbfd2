package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiko-hq/kiko/internal/auth"
	"github.com/kiko-hq/kiko/internal/mcp"
	"github.com/kiko-hq/kiko/internal/ratelimit"
	"github.com/kiko-hq/kiko/internal/server"
	"github.com/kiko-hq/kiko/migrations"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), logger, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func serve(ctx context.Context, logger *slog.Logger, migrate bool) error {
	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	slog.Info("kiko starting", "version", version, "port", cfg.Port)

	if migrate {
		if err := a.db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	var verifier *auth.Verifier
	if cfg.JWTPublicKeyPath != "" {
		verifier, err = auth.LoadVerifier(cfg.JWTPublicKeyPath)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		logger.Info("auth: bearer tokens required")
	} else {
		logger.Warn("auth: disabled (no KIKO_JWT_PUBLIC_KEY)")
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitPerMinute > 0 {
		ml := ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
		defer func() { _ = ml.Close() }()
		limiter = ml
		logger.Info("rate limiting: enabled", "per_minute", cfg.RateLimitPerMinute, "burst", cfg.RateLimitBurst)
	}

	mcpSrv := mcp.New(a.pipeline, a.gateway, logger, version)

	srv := server.New(server.ServerConfig{
		Pipeline:            a.pipeline,
		Runs:                a.gateway,
		DB:                  a.db,
		Verifier:            verifier,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSOrigins:         cfg.CORSOrigins,
		RateLimiter:         limiter,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// In-flight pipeline runs get the write timeout to finish.
	slog.Info("kiko shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("kiko stopped")
	return nil
}
