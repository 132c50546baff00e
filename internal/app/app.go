// Package app assembles the hermes server: configuration, logging,
// the dispatch core, the automation runner and the demo API wired on
// top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hermes/internal/automation"
	"hermes/internal/config"
	"hermes/internal/dispatch"
	"hermes/internal/infrastructure"
	"hermes/internal/middleware"
)

const Version = "0.3.0"

// Application is the top-level container owning every long-lived
// component.
type Application struct {
	Config *config.Config
	Logger *slog.Logger
	Server *dispatch.Server
	Runner *automation.Runner

	logCloser io.Closer
	startedAt time.Time
}

// New loads configuration from path (falling back to built-in
// defaults when the file does not exist), initializes logging, and
// builds a fully configured server ready to Start.
func New(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = config.Default()
	}

	logger, closer, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("version", Version),
		slog.Int("port", cfg.Server.Port))

	srv, err := dispatch.NewServer(serverOptions(cfg), logger)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	a := &Application{
		Config:    cfg,
		Logger:    logger,
		Server:    srv,
		Runner:    automation.NewRunner(logger),
		logCloser: closer,
		startedAt: time.Now(),
	}

	if err := a.configure(); err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to configure server: %w", err)
	}
	return a, nil
}

func serverOptions(cfg *config.Config) dispatch.Options {
	opts := dispatch.Options{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		BasePath: cfg.Server.BasePath,
		CertFile: cfg.Server.CertFile,
		KeyFile:  cfg.Server.KeyFile,
	}
	if cfg.CORS.Enabled {
		opts.CORS = &dispatch.CORSConfig{
			Origins:     cfg.CORS.Origins,
			Methods:     cfg.CORS.Methods,
			Headers:     cfg.CORS.Headers,
			Credentials: cfg.CORS.Credentials,
		}
	}
	return opts
}

// configure registers middleware, routes and the WebSocket handler.
// Ordering matters: RequestID first so logging and responses carry
// the ID.
func (a *Application) configure() error {
	if err := a.Server.Use(middleware.RequestID()); err != nil {
		return err
	}
	if err := a.Server.Use(middleware.RequestLogger(a.Logger)); err != nil {
		return err
	}
	if err := a.Server.Use(middleware.Metrics(middleware.MetricsConfig{})); err != nil {
		return err
	}
	if a.Config.RateLimit.Enabled {
		rl := middleware.RateLimit(a.Config.RateLimit.RPS, a.Config.RateLimit.Burst, a.Logger)
		if err := a.Server.Use(rl); err != nil {
			return err
		}
	}

	if err := a.registerRoutes(); err != nil {
		return err
	}
	return a.Server.SetWebSocketHandler(a.socketHandler())
}

// Run starts the server and blocks until an interrupt, then shuts
// down gracefully.
func (a *Application) Run() error {
	if err := a.Server.Start(); err != nil {
		return err
	}
	a.Logger.Info("application started", slog.String("addr", a.Server.Addr()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	a.Logger.Info("received interrupt signal")

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	return a.Stop(ctx)
}

// Stop shuts the server down, kills tracked processes and releases
// the log file.
func (a *Application) Stop(ctx context.Context) error {
	err := a.Server.Stop(ctx)

	if cleanupErr := a.Runner.Registry().Cleanup(); cleanupErr != nil {
		a.Logger.Error("process cleanup failed", slog.String("error", cleanupErr.Error()))
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	a.Logger.Info("application shutdown complete")
	return err
}

// Uptime reports how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startedAt)
}
