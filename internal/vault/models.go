// Package vault implements the encrypted credential vault: master-password
// key management, the unlock state machine with persisted lockout, entry
// persistence with rolling backup self-healing, and CSV / encrypted
// export and import.
package vault

import (
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Category is the fixed set of credential record categories.
type Category string

const (
	CategoryLogin      Category = "login"
	CategoryCard       Category = "card"
	CategoryIdentity   Category = "identity"
	CategorySecureNote Category = "secure-note"
	CategoryOther      Category = "other"
)

const (
	// maxPasswordHistory bounds the per-record history, most recent first.
	maxPasswordHistory = 10

	maxShortFieldLen = 500
	maxNotesLen      = 10000
)

// CustomField is a user-defined labeled value attached to a record.
type CustomField struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Value    string `json:"value"`
	IsSecret bool   `json:"isSecret"`
}

// HistoryEntry records a superseded password.
type HistoryEntry struct {
	Password  string    `json:"password"`
	ChangedAt time.Time `json:"changedAt"`
}

// CredentialRecord is one entry in the vault. Never persisted in
// plaintext; the whole collection is serialized and encrypted as a single
// blob.
type CredentialRecord struct {
	ID              string         `json:"id"`
	AccountName     string         `json:"accountName" validate:"required"`
	Username        string         `json:"username"`
	Password        string         `json:"password"`
	Website         string         `json:"website,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	Category        Category       `json:"category" validate:"omitempty,oneof=login card identity secure-note other"`
	IsFavorite      bool           `json:"isFavorite"`
	CustomFields    []CustomField  `json:"customFields,omitempty"`
	PasswordHistory []HistoryEntry `json:"passwordHistory,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// sanitizeRecord normalizes a record in place: trims and length-caps text
// fields, strips control characters from everything except the password
// fields, and clamps history length. Password content is preserved
// byte-for-byte apart from invalid UTF-8 replacement.
func sanitizeRecord(r *CredentialRecord) {
	r.AccountName = sanitizeText(r.AccountName, maxShortFieldLen)
	r.Username = sanitizeText(r.Username, maxShortFieldLen)
	r.Website = sanitizeText(r.Website, maxShortFieldLen)
	r.Notes = sanitizeMultiline(r.Notes, maxNotesLen)
	r.Password = strings.ToValidUTF8(r.Password, "�")

	for i := range r.CustomFields {
		r.CustomFields[i].Label = sanitizeText(r.CustomFields[i].Label, maxShortFieldLen)
		if !r.CustomFields[i].IsSecret {
			r.CustomFields[i].Value = sanitizeText(r.CustomFields[i].Value, maxNotesLen)
		} else {
			r.CustomFields[i].Value = strings.ToValidUTF8(r.CustomFields[i].Value, "�")
		}
	}

	if len(r.PasswordHistory) > maxPasswordHistory {
		r.PasswordHistory = r.PasswordHistory[:maxPasswordHistory]
	}
}

// sanitizeText strips control characters, collapses surrounding space and
// caps the rune length.
func sanitizeText(s string, max int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	return truncateRunes(s, max)
}

// sanitizeMultiline keeps newlines and tabs, strips the rest of the
// control range.
func sanitizeMultiline(s string, max int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return truncateRunes(s, max)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// normalizeRecord fills migration-safe defaults: a missing id gets a fresh
// uuid, an unknown category falls back to "other", zero timestamps are
// stamped now.
func normalizeRecord(r *CredentialRecord, now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	switch r.Category {
	case CategoryLogin, CategoryCard, CategoryIdentity, CategorySecureNote, CategoryOther:
	default:
		r.Category = CategoryOther
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if len(r.PasswordHistory) > maxPasswordHistory {
		r.PasswordHistory = r.PasswordHistory[:maxPasswordHistory]
	}
}

// validRecords validates, sanitizes and normalizes a collection, dropping
// invalid records with a warning instead of failing the whole save.
func validRecords(v *validator.Validate, logger *slog.Logger, records []CredentialRecord, now time.Time) []CredentialRecord {
	out := make([]CredentialRecord, 0, len(records))
	seen := make(map[string]bool, len(records))

	for i := range records {
		r := records[i]
		sanitizeRecord(&r)
		normalizeRecord(&r, now)

		if err := v.Struct(r); err != nil {
			logger.Warn("dropping invalid credential record",
				slog.Int("index", i),
				slog.String("record_id", r.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if seen[r.ID] {
			logger.Warn("dropping credential record with duplicate id",
				slog.Int("index", i),
				slog.String("record_id", r.ID),
			)
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

// mergePasswordHistory carries the persisted history forward when the
// incoming record omits it, and prepends the previous password when an
// edit changed it, keeping the newest maxPasswordHistory entries.
func mergePasswordHistory(updated *CredentialRecord, previous *CredentialRecord, now time.Time) {
	if previous == nil {
		return
	}
	if len(updated.PasswordHistory) == 0 {
		updated.PasswordHistory = previous.PasswordHistory
	}
	if previous.Password == updated.Password {
		return
	}
	history := append([]HistoryEntry{{Password: previous.Password, ChangedAt: now}}, updated.PasswordHistory...)
	if len(history) > maxPasswordHistory {
		history = history[:maxPasswordHistory]
	}
	updated.PasswordHistory = history
	updated.UpdatedAt = now
}
