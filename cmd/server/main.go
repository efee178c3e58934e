package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/damacus/iron-objects/internal/config"
	"github.com/damacus/iron-objects/internal/handlers"
	"github.com/damacus/iron-objects/internal/logging"
	customMiddleware "github.com/damacus/iron-objects/internal/middleware"
	"github.com/damacus/iron-objects/internal/obs/metrics"
	"github.com/damacus/iron-objects/internal/obs/tracing"
	"github.com/damacus/iron-objects/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "iron-objects",
		Short:         "Object browser API for S3-compatible storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("IRON_CONFIG"), "path to YAML config file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("tracing init failed")
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	if os.Getenv(services.SessionKeyEnv) == "" {
		logger.Warn().Msgf("%s not set: session cookies will not survive a restart", services.SessionKeyEnv)
	}

	e, sessions := newServer(serverDeps{
		cfg:     cfg,
		logger:  logger,
		auth:    services.NewAuthService(),
		metrics: metrics.New(),
	})
	defer sessions.Purge()

	logger.Info().
		Str("listen", cfg.Server.ListenAddress).
		Str("endpoint", cfg.S3.Endpoint).
		Str("region", cfg.S3.Region).
		Msg("starting server")

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Server.ListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}

type serverDeps struct {
	cfg     config.Config
	logger  zerolog.Logger
	auth    *services.AuthService
	metrics *metrics.Metrics
	// doer replaces the HTTP client of every session's S3 client.
	doer services.HTTPDoer
}

func newServer(d serverDeps) (*echo.Echo, *services.SessionStore) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Services
	sessions := services.NewSessionStore(d.cfg.Server.MaxSessions, d.cfg.Server.SessionTTL)
	base := d.cfg.BaseCredentials()
	// Session clients never persist anything: the key pair lives only in
	// the session's memory.
	newClient := func() *services.Client {
		opts := []services.Option{
			services.WithLogger(d.logger),
			services.WithRetry(d.cfg.RetryPolicy()),
			services.WithMetrics(d.metrics),
		}
		if d.doer != nil {
			opts = append(opts, services.WithHTTPClient(d.doer))
		}
		return services.NewClient(base, opts...)
	}

	sessionHandler := handlers.NewSessionHandler(d.auth, sessions, newClient, d.cfg.Server.SessionTTL)
	filesHandler := handlers.NewFilesHandler(d.cfg.Server.MaxUploadBytes)

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(customMiddleware.RequestLogger(d.logger))
	e.Use(middleware.Recover())
	e.Use(d.metrics.Middleware())
	e.Use(tracing.Middleware())
	e.Use(customMiddleware.SecurityHeaders())
	e.Use(customMiddleware.CSRF())
	// Applied globally; public routes are let through inside
	e.Use(customMiddleware.SessionMiddleware(d.auth, sessions))

	// Public Routes
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))
	e.POST("/connect", sessionHandler.Connect)
	e.POST("/disconnect", sessionHandler.Disconnect)

	// Session Routes
	e.GET("/api/state", sessionHandler.State)
	e.GET("/api/config", sessionHandler.Settings)
	e.GET("/api/files", filesHandler.List)
	e.POST("/api/files/upload", filesHandler.Upload)
	e.GET("/api/files/download", filesHandler.Download)
	e.POST("/api/files/delete", filesHandler.Delete)

	return e, sessions
}
