package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/service"
	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/store"
	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/store/drivers/sqlite"
	"github.com/adimov-eth/vibecheck-sub001/pkg/slogx"
	"github.com/adimov-eth/vibecheck-sub001/pkg/wsx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the realtime client core with all its
// dependencies. Construction order follows the dependency graph: store,
// then credential service and outbox, then the connection holding references
// to both. Nothing references a component before it exists.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         store.Store
	creds      *service.CredentialService
	queue      *service.OutboundQueue
	registry   *service.Registry
	dispatcher *service.Dispatcher
	conn       *service.Connection
}

// New creates an Application with all dependencies initialized.
func New(cfg Config, provider service.TokenProvider) (*Application, error) {
	if cfg.RealtimeURL == "" {
		return nil, errors.New("REALTIME_URL is required")
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "realtime-core",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	db, err := sqlite.NewStore(cfg.DatabaseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	app.db = db

	app.creds = service.NewCredentialService(provider, db.Credentials(), service.CredentialConfig{
		ExpiryLookahead:    cfg.ExpiryLookahead,
		MinRefreshInterval: cfg.MinRefreshInterval,
	}, app.logger)

	app.queue = service.NewOutboundQueue(db.Outbox(), cfg.QueueCap, app.logger)
	app.registry = service.NewRegistry()
	app.dispatcher = service.NewDispatcher(app.logger)

	app.conn = service.NewConnection(service.ConnConfig{
		URL:                  cfg.RealtimeURL,
		BackoffBase:          cfg.BackoffBase,
		BackoffCap:           cfg.BackoffCap,
		NetworkRetryInterval: cfg.NetworkRetryInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		KeepAliveInterval:    cfg.KeepAliveInterval,
		InactivityThreshold:  cfg.InactivityThreshold,
	}, &wsx.WebsocketDialer{}, app.creds, app.queue, app.registry, app.dispatcher, app.logger)

	return app, nil
}

// Connection exposes the shared connection for consumers (UI hooks and the
// poll-fallback logic live outside this module).
func (app *Application) Connection() *service.Connection { return app.conn }

// Credentials exposes the credential cache (sign-out flows call Clear).
func (app *Application) Credentials() *service.CredentialService { return app.creds }

// Dispatcher exposes handler registration for inbound event frames.
func (app *Application) Dispatcher() *service.Dispatcher { return app.dispatcher }

// Run connects and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("realtime core starting", "url", app.cfg.RealtimeURL, "version", BuildVersion)

	if err := app.conn.Connect(context.Background()); err != nil {
		// The state machine keeps retrying on its own; the first failure is
		// informational, not fatal.
		app.logger.Warn("initial connect failed", "error", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown closes the connection and releases durable resources.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down realtime core...")

	if err := app.conn.Close(); err != nil {
		app.logger.Error("error closing connection", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("realtime core stopped")
	return nil
}
