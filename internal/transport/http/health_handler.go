package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"lpvault/internal/license"
	"lpvault/internal/vault"
)

// HealthHandler serves the liveness endpoint the UI polls on startup.
type HealthHandler struct {
	store    *vault.Store
	licenses *license.Service
	version  string
	started  time.Time
	logger   *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(store *vault.Store, licenses *license.Service, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:    store,
		licenses: licenses,
		version:  version,
		started:  time.Now(),
		logger:   logger.With(slog.String("handler", "health")),
	}
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	exists, err := h.store.VaultExists()
	storageOK := err == nil

	status := "healthy"
	code := http.StatusOK
	if !storageOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
		h.logger.ErrorContext(r.Context(), "storage health check failed",
			slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":        status,
		"version":       h.version,
		"uptimeSeconds": int(time.Since(h.started).Seconds()),
		"vaultExists":   exists,
		"canUseApp":     h.licenses.CanUseApp(r.Context()),
	})
}
