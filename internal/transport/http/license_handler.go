package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "lpvault/internal/errors"
	"lpvault/internal/license"
)

// LicenseHandler serves the entitlement endpoints: status, activation,
// transfer and trial management.
type LicenseHandler struct {
	service *license.Service
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(service *license.Service, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

type keyRequest struct {
	Key string `json:"key"`
}

func (k *keyRequest) Bind(r *http.Request) error {
	if k.Key == "" {
		return errors.New("key is required")
	}
	return nil
}

// Status handles GET /api/license/status.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	respond(w, r, h.service.Status(r.Context()))
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	req := &keyRequest{}
	if err := render.Bind(r, req); err != nil {
		respondError(w, r, apperrors.Validation(err.Error()))
		return
	}
	result, err := h.service.Activate(r.Context(), req.Key)
	if err != nil {
		// A device mismatch still tells the UI to offer the transfer flow.
		if result != nil && result.RequiresTransfer {
			render.Render(w, r, apperrors.Renderer(err))
			return
		}
		respondError(w, r, err)
		return
	}
	respond(w, r, result)
}

// Transfer handles POST /api/license/transfer.
func (h *LicenseHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	req := &keyRequest{}
	if err := render.Bind(r, req); err != nil {
		respondError(w, r, apperrors.Validation(err.Error()))
		return
	}
	result, err := h.service.Transfer(r.Context(), req.Key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, result)
}

// StartTrial handles POST /api/license/trial.
func (h *LicenseHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.StartTrial(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, info)
}

// TrialStatus handles GET /api/license/trial.
func (h *LicenseHandler) TrialStatus(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.TrialStatus(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, info)
}
