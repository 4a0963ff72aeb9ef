// Package app is the composition root: it builds every service from
// configuration and runs the localhost HTTP server until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"lpvault/internal/config"
	"lpvault/internal/infrastructure"
	"lpvault/internal/license"
	"lpvault/internal/security"
	"lpvault/internal/storage"
	transporthttp "lpvault/internal/transport/http"
	"lpvault/internal/vault"
)

// Version is stamped at build time.
var Version = "dev"

// Application owns the daemon's services and its HTTP server.
type Application struct {
	cfg       *config.Config
	logger    *slog.Logger
	logClose  func() error
	telemetry *infrastructure.Telemetry
	backend   storage.Backend
	store     *vault.Store
	licenses  *license.Service
	server    *http.Server
}

// New builds the full service graph from configuration. Everything is
// constructed and injected here; no package holds global state.
func New(cfg *config.Config) (*Application, error) {
	logger, logClose, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.SetDefault(logger)

	telemetry, err := infrastructure.NewTelemetry(Version, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	backend, err := storage.OpenBolt(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.StorePath(), err)
	}

	vaultMetrics, err := vault.NewMetrics(telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register vault metrics: %w", err)
	}
	licenseMetrics, err := license.NewMetrics(telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register license metrics: %w", err)
	}

	crypto := vault.NewCrypto(backend, logger)
	limiter := vault.NewAttemptLimiter(backend, cfg.Vault.MaxAttempts, cfg.Vault.LockoutDuration)
	store := vault.NewStore(crypto, backend, limiter, vault.Options{
		BackupKeep: cfg.Vault.BackupKeep,
		Metrics:    vaultMetrics,
		Logger:     logger,
	})

	fingerprint := security.NewDeviceFingerprint()
	validator := license.NewValidator(cfg.Licensing.SharedSecret, cfg.Licensing.AllowUnsigned, fingerprint)
	client := license.NewClient(cfg.Licensing.APIBaseURL, cfg.Licensing.RequestTimeout, logger)
	licenses := license.NewService(backend, validator, client, fingerprint, cfg.Licensing.SharedSecret, license.ServiceOptions{
		Metrics:       licenseMetrics,
		Logger:        logger,
		TrialDays:     cfg.Licensing.TrialDays,
		AllowUnsigned: cfg.Licensing.AllowUnsigned,
	})

	router := transporthttp.NewRouter(cfg, transporthttp.RouterOptions{
		Store:    store,
		Licenses: licenses,
		Metrics:  telemetry.Handler,
		Logger:   logger,
		Version:  Version,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		cfg:       cfg,
		logger:    logger,
		logClose:  logClose,
		telemetry: telemetry,
		backend:   backend,
		store:     store,
		licenses:  licenses,
		server:    server,
	}, nil
}

// Run serves until the context is cancelled or a signal arrives, then
// shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("daemon listening",
			slog.String("addr", a.server.Addr),
			slog.String("environment", a.cfg.Environment),
			slog.String("version", Version))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx)
	})

	return g.Wait()
}

// shutdown stops the server and releases every resource. The vault is
// locked first so the key never outlives the listener.
func (a *Application) shutdown(ctx context.Context) error {
	var errs []error

	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	a.store.Lock()

	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if err := a.logClose(); err != nil {
		errs = append(errs, fmt.Errorf("log close: %w", err))
	}

	return errors.Join(errs...)
}
