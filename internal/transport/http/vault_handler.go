package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "lpvault/internal/errors"
	"lpvault/internal/vault"
)

// VaultHandler serves the vault lifecycle, entry CRUD and export/import
// endpoints.
type VaultHandler struct {
	store  *vault.Store
	logger *slog.Logger
}

// NewVaultHandler creates a vault handler.
func NewVaultHandler(store *vault.Store, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		store:  store,
		logger: logger.With(slog.String("handler", "vault")),
	}
}

// passwordRequest carries a master or export password. Passwords travel in
// the body only, never in URLs, so they stay out of access logs.
type passwordRequest struct {
	Password string `json:"password"`
}

func (p *passwordRequest) Bind(r *http.Request) error {
	if p.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

type entriesRequest struct {
	Entries []vault.CredentialRecord `json:"entries"`
}

func (e *entriesRequest) Bind(r *http.Request) error {
	if e.Entries == nil {
		return errors.New("entries array is required")
	}
	return nil
}

type hintRequest struct {
	Hint string `json:"hint"`
}

func (h *hintRequest) Bind(r *http.Request) error { return nil }

type importEncryptedRequest struct {
	Password string `json:"password"`
	Data     string `json:"data"`
}

func (i *importEncryptedRequest) Bind(r *http.Request) error {
	if i.Password == "" {
		return errors.New("password is required")
	}
	if i.Data == "" {
		return errors.New("data is required")
	}
	return nil
}

// successResponse is the uniform success envelope.
type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, data any) {
	render.JSON(w, r, successResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	render.Render(w, r, apperrors.Renderer(err))
}

// Exists handles GET /api/vault/exists.
func (h *VaultHandler) Exists(w http.ResponseWriter, r *http.Request) {
	exists, err := h.store.VaultExists()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, map[string]bool{"exists": exists})
}

// Status handles GET /api/vault/status.
func (h *VaultHandler) Status(w http.ResponseWriter, r *http.Request) {
	exists, err := h.store.VaultExists()
	if err != nil {
		respondError(w, r, err)
		return
	}
	locked, remaining, err := h.store.LockoutStatus()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, map[string]any{
		"exists":   exists,
		"unlocked": h.store.IsUnlocked(),
		"lockout": map[string]any{
			"active":           locked,
			"remainingSeconds": remaining,
		},
	})
}

// Setup handles POST /api/vault/setup, creating a new vault.
func (h *VaultHandler) Setup(w http.ResponseWriter, r *http.Request) {
	req := &passwordRequest{}
	if err := render.Bind(r, req); err != nil {
		respondError(w, r, apperrors.Validation(err.Error()))
		return
	}
	if err := h.store.Initialize(r.Context(), req.Password); err != nil {
		respondError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "vault created")
	respond(w, r, nil)
}

// Unlock handles POST /api/vault/unlock.
func (h *VaultHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	req := &passwordRequest{}
	if err := render.Bind(r, req); err != nil {
		respondError(w, r, apperrors.Validation(err.Error()))
		return
	}
	if err := h.store.Unlock(r.Context(), req.Password); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, nil)
}

// Lock handles POST /api/vault/lock.
func (h *VaultHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.store.Lock()
	respond(w, r, nil)
}

// GetEntries handles GET /api/vault/entries.
func (h *VaultHandler) GetEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.LoadEntries(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, map[string]any{"entries": entries})
}

// PutEntries handles PUT /api/vault/entries, replacing the stored set.
func (h *VaultHandler) PutEntries(w http.ResponseWriter, r *http.Request) {
	req := &entriesRequest{}
	if err := render.Bind(r, req); err != nil {
		respondError(w, r, apperrors.Validation(err.Error()))
		return
	}
	if err := h.store.SaveEntries(r.Context(), req.Entries); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, map[string]int{"saved": len(req.Entries)})
}

// GetHint handles GET /api/vault/hint. The hint is stored in plaintext and
// readable before unlock.
func (h *VaultHandler) GetHint(w http.ResponseWriter, r *http.Request) {
	hint, err := h.store.Hint()
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, map[string]string{"hint": hint})
}

// SetHint handles PUT /api/vault/hint.
func (h *VaultHandler) SetHint(w http.ResponseWriter, r *http.Request) {
	req := &hintRequest{}
	if err := render.Bind(r, req); err != nil {
		respondError(w, r, apperrors.Validation(err.Error()))
		return
	}
	if err := h.store.SetHint(req.Hint); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, nil)
}

// ExportCSV handles GET /api/vault/export/csv, returning the CSV document
// as a download.
func (h *VaultHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	csvDoc, err := h.store.ExportCSV(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="vault-export.csv"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, csvDoc)
}

// ExportEncrypted handles POST /api/vault/export/encrypted.
func (h *VaultHandler) ExportEncrypted(w http.ResponseWriter, r *http.Request) {
	req := &passwordRequest{}
	if err := render.Bind(r, req); err != nil {
		respondError(w, r, apperrors.Validation(err.Error()))
		return
	}
	blob, err := h.store.ExportEncrypted(r.Context(), req.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, r, map[string]string{"blob": blob})
}

// ImportEncrypted handles POST /api/vault/import/encrypted.
func (h *VaultHandler) ImportEncrypted(w http.ResponseWriter, r *http.Request) {
	req := &importEncryptedRequest{}
	if err := render.Bind(r, req); err != nil {
		respondError(w, r, apperrors.Validation(err.Error()))
		return
	}
	n, err := h.store.ImportEncrypted(r.Context(), []byte(req.Data), req.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "encrypted import completed", slog.Int("entries", n))
	respond(w, r, map[string]int{"imported": n})
}

// ImportPlain handles POST /api/vault/import/plain. The body is the plain
// JSON envelope produced by other password managers' exports.
func (h *VaultHandler) ImportPlain(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		respondError(w, r, apperrors.Validation("failed to read import payload"))
		return
	}
	n, err := h.store.ImportPlain(r.Context(), payload)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "plain import completed", slog.Int("entries", n))
	respond(w, r, map[string]int{"imported": n})
}
