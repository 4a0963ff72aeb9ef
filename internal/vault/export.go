package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"time"

	apperrors "lpvault/internal/errors"
	"lpvault/internal/security"
)

// ExportFormatTag identifies the encrypted export container so it can be
// told apart from a plain CSV export.
const ExportFormatTag = "LocalPasswordVault-Encrypted"

// ExportFormatVersion is the current encrypted export format version.
const ExportFormatVersion = 2

// csvHeader is the fixed plain-export header row, emitted even for an
// empty vault.
var csvHeader = []string{
	"Account Name", "Username", "Password", "Category",
	"Account Details", "Notes", "Created Date", "Updated Date",
}

// exportEnvelope is the plaintext payload inside an encrypted export.
type exportEnvelope struct {
	Version    int                `json:"version"`
	ExportDate time.Time          `json:"exportDate"`
	Entries    []CredentialRecord `json:"entries"`
}

// exportContainer is the self-describing outer wrapper of an encrypted
// export file.
type exportContainer struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
	// Data is base64(salt‖nonce‖ciphertext‖tag).
	Data string `json:"data"`
}

// ExportCSV renders all entries as RFC-4180 CSV. Requires an unlocked
// vault.
func (s *Store) ExportCSV(ctx context.Context) (string, error) {
	if !s.crypto.IsUnlocked() {
		return "", apperrors.VaultLocked("exportCsv")
	}

	entries, err := s.LoadEntries(ctx)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", apperrors.Internal(err)
	}
	for _, e := range entries {
		row := []string{
			e.AccountName,
			e.Username,
			e.Password,
			string(e.Category),
			e.Website,
			e.Notes,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", apperrors.Internal(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", apperrors.Internal(err)
	}

	s.metrics.countExport(ctx, "csv")
	return buf.String(), nil
}

// ExportEncrypted produces a password-protected export. The key is derived
// independently from the export password with a fresh salt, never from the
// vault's own key, so the file stands alone. Requires an unlocked vault.
func (s *Store) ExportEncrypted(ctx context.Context, exportPassword string) (string, error) {
	if !s.crypto.IsUnlocked() {
		return "", apperrors.VaultLocked("exportEncrypted")
	}
	if exportPassword == "" {
		return "", apperrors.Validation("export password must not be empty")
	}

	entries, err := s.LoadEntries(ctx)
	if err != nil {
		return "", err
	}

	envelope, err := json.Marshal(exportEnvelope{
		Version:    ExportFormatVersion,
		ExportDate: s.now().UTC(),
		Entries:    entries,
	})
	if err != nil {
		return "", apperrors.Internal(err)
	}

	salt, err := security.RandomBytes(security.SaltSize)
	if err != nil {
		return "", err
	}
	key, err := security.DeriveKey(exportPassword, salt)
	if err != nil {
		return "", err
	}
	defer security.NewSecret(key).Wipe()

	sealed, err := security.EncryptBytes(key, envelope)
	if err != nil {
		return "", err
	}

	container, err := json.Marshal(exportContainer{
		Format:  ExportFormatTag,
		Version: ExportFormatVersion,
		Data:    base64.StdEncoding.EncodeToString(append(salt, sealed...)),
	})
	if err != nil {
		return "", apperrors.Internal(err)
	}

	s.metrics.countExport(ctx, "encrypted")
	return string(container), nil
}

// ImportEncrypted decrypts an encrypted export and replaces the vault's
// entries with its contents. A wrong password and a corrupted file surface
// as the same generic decryption error. Requires an unlocked vault.
func (s *Store) ImportEncrypted(ctx context.Context, payload []byte, exportPassword string) (int, error) {
	if !s.crypto.IsUnlocked() {
		return 0, apperrors.VaultLocked("importEncrypted")
	}

	var container exportContainer
	if err := json.Unmarshal(payload, &container); err != nil {
		return 0, apperrors.Validation("import file is not a recognized export")
	}
	if container.Format != ExportFormatTag {
		return 0, apperrors.Validation("import file is not an encrypted vault export")
	}
	if container.Version != ExportFormatVersion {
		return 0, apperrors.Validation("unsupported export format version")
	}

	raw, err := base64.StdEncoding.DecodeString(container.Data)
	if err != nil {
		return 0, apperrors.Decryption(err)
	}
	if len(raw) <= security.SaltSize {
		return 0, apperrors.Decryption(nil)
	}

	salt, sealed := raw[:security.SaltSize], raw[security.SaltSize:]
	key, err := security.DeriveKey(exportPassword, salt)
	if err != nil {
		return 0, err
	}
	defer security.NewSecret(key).Wipe()

	envelopeJSON, err := security.DecryptBytes(key, sealed)
	if err != nil {
		return 0, apperrors.Decryption(err)
	}

	var envelope exportEnvelope
	if err := json.Unmarshal(envelopeJSON, &envelope); err != nil {
		return 0, apperrors.Decryption(err)
	}

	if err := s.SaveEntries(ctx, envelope.Entries); err != nil {
		return 0, err
	}
	return len(envelope.Entries), nil
}
