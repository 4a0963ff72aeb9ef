// Package http exposes the vault and licensing operations as a JSON API on
// the localhost listener the desktop UI talks to.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"lpvault/internal/config"
	"lpvault/internal/license"
	"lpvault/internal/middleware"
	"lpvault/internal/vault"
)

// RouterOptions carries the collaborators the router mounts.
type RouterOptions struct {
	Store    *vault.Store
	Licenses *license.Service
	Metrics  http.Handler
	Logger   *slog.Logger
	Version  string
}

// NewRouter assembles the daemon's HTTP surface. Vault routes sit behind
// the entitlement gate; the unlock endpoint is additionally rate limited.
// License and health routes stay reachable without entitlement so the UI
// can drive activation and trial start.
func NewRouter(cfg *config.Config, opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.TraceID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	vaultHandler := NewVaultHandler(opts.Store, logger)
	licenseHandler := NewLicenseHandler(opts.Licenses, logger)
	healthHandler := NewHealthHandler(opts.Store, opts.Licenses, opts.Version, logger)

	unlockLimiter := middleware.NewRateLimiter(cfg.Server.UnlockRPS, cfg.Server.UnlockBurst, logger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/vault", func(r chi.Router) {
			// Reachable while unentitled: the UI needs these to render the
			// setup, unlock and hint screens.
			r.Get("/exists", vaultHandler.Exists)
			r.Get("/status", vaultHandler.Status)
			r.Get("/hint", vaultHandler.GetHint)

			r.Group(func(r chi.Router) {
				r.Use(middleware.EntitlementGate(opts.Licenses, logger))

				r.With(unlockLimiter.Handler).Post("/unlock", vaultHandler.Unlock)
				r.Post("/setup", vaultHandler.Setup)
				r.Post("/lock", vaultHandler.Lock)
				r.Get("/entries", vaultHandler.GetEntries)
				r.Put("/entries", vaultHandler.PutEntries)
				r.Put("/hint", vaultHandler.SetHint)
				r.Get("/export/csv", vaultHandler.ExportCSV)
				r.Post("/export/encrypted", vaultHandler.ExportEncrypted)
				r.Post("/import/encrypted", vaultHandler.ImportEncrypted)
				r.Post("/import/plain", vaultHandler.ImportPlain)
			})
		})

		r.Route("/license", func(r chi.Router) {
			r.Get("/status", licenseHandler.Status)
			r.Post("/activate", licenseHandler.Activate)
			r.Post("/transfer", licenseHandler.Transfer)
			r.Get("/trial", licenseHandler.TrialStatus)
			r.Post("/trial", licenseHandler.StartTrial)
		})

		r.Get("/health", healthHandler.Health)
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}
