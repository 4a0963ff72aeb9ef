package vault

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"lpvault/internal/corruption"
	apperrors "lpvault/internal/errors"
	"lpvault/internal/storage"
)

// Store persists and loads the encrypted credential collection and owns
// the unlock flow, including attempt limiting and corruption self-healing.
type Store struct {
	crypto   *Crypto
	backend  storage.Backend
	limiter  *AttemptLimiter
	rotator  *storage.Rotator
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// Options configures optional Store collaborators.
type Options struct {
	// BackupKeep is the number of timestamped backup generations retained
	// in addition to the single rolling backup slot. Defaults to 3.
	BackupKeep int
	Metrics    *Metrics
	Logger     *slog.Logger
}

// NewStore wires a Store over the given crypto manager and backend.
func NewStore(crypto *Crypto, backend storage.Backend, limiter *AttemptLimiter, opts Options) *Store {
	if opts.BackupKeep == 0 {
		opts.BackupKeep = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		crypto:   crypto,
		backend:  backend,
		limiter:  limiter,
		rotator:  storage.NewRotator(backend, opts.BackupKeep),
		validate: newValidator(),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

// VaultExists reports whether a vault has been initialized.
func (s *Store) VaultExists() (bool, error) {
	return s.crypto.VaultExists()
}

// Initialize creates the vault and leaves it unlocked.
func (s *Store) Initialize(ctx context.Context, masterPassword string) error {
	return s.crypto.Initialize(masterPassword)
}

// Unlock attempts to unlock the vault. An active lockout rejects the
// attempt outright, even with the correct password. A wrong password
// surfaces as KindDecryption and increments the persisted attempt counter
// as a side effect; the lockout itself is only ever reported by the next
// call's pre-check.
func (s *Store) Unlock(ctx context.Context, masterPassword string) error {
	locked, remaining, err := s.limiter.Status()
	if err != nil {
		return err
	}
	if locked {
		s.metrics.countUnlock(ctx, "locked_out")
		return apperrors.Lockout(remaining)
	}

	ok, err := s.crypto.Unlock(masterPassword)
	if err != nil {
		s.metrics.countUnlock(ctx, "error")
		return err
	}
	if !ok {
		if armed, lerr := s.limiter.RecordFailedAttempt(); lerr != nil {
			return lerr
		} else if armed {
			s.logger.Warn("unlock attempt limit reached, lockout armed")
		}
		s.metrics.countUnlock(ctx, "wrong_password")
		return apperrors.Decryption(nil)
	}

	if err := s.limiter.Reset(); err != nil {
		return err
	}
	s.metrics.countUnlock(ctx, "ok")
	return nil
}

// Lock locks the vault. Idempotent.
func (s *Store) Lock() {
	s.crypto.Lock()
}

// IsUnlocked reports the unlock state.
func (s *Store) IsUnlocked() bool {
	return s.crypto.IsUnlocked()
}

// LockoutStatus exposes the persisted lockout state for the UI.
func (s *Store) LockoutStatus() (locked bool, remainingSeconds int, err error) {
	return s.limiter.Status()
}

// SaveEntries validates, sanitizes and persists the collection as one
// encrypted blob. Invalid records are dropped with a warning rather than
// aborting the save. The current primary blob is copied to the backup slot
// strictly before the primary is overwritten, and the new ciphertext is
// fully computed before any write happens.
func (s *Store) SaveEntries(ctx context.Context, records []CredentialRecord) error {
	if !s.crypto.IsUnlocked() {
		return apperrors.VaultLocked("saveEntries")
	}

	now := s.now()
	valid := validRecords(s.validate, s.logger, records, now)
	if dropped := len(records) - len(valid); dropped > 0 {
		s.logger.Warn("dropped invalid records at save", slog.Int("dropped", dropped))
	}

	// Merge password history against the previously persisted state.
	if previous, err := s.decryptPrimary(); err == nil {
		prevByID := make(map[string]*CredentialRecord, len(previous))
		for i := range previous {
			prevByID[previous[i].ID] = &previous[i]
		}
		for i := range valid {
			mergePasswordHistory(&valid[i], prevByID[valid[i].ID], now)
		}
	}

	plaintext, err := json.Marshal(valid)
	if err != nil {
		return apperrors.Internal(err)
	}
	blob, err := s.crypto.EncryptData(string(plaintext))
	if err != nil {
		return err
	}

	// Backup rotation before the write it protects.
	if current, found, err := s.backend.Get(storage.KeyVaultEntries); err != nil {
		return err
	} else if found {
		if err := s.backend.Set(storage.KeyVaultBackup, current); err != nil {
			return err
		}
		if err := s.rotator.Snapshot(storage.KeyVaultEntries); err != nil {
			return err
		}
	}

	if err := s.backend.Set(storage.KeyVaultEntries, blob); err != nil {
		return err
	}
	s.logger.Info("entries saved", slog.Int("count", len(valid)))
	return nil
}

// LoadEntries decrypts the primary blob. On decryption failure it falls
// back to the rolling backup slot and, when that succeeds, promotes the
// backup to primary (self-healing). When both blobs fail the store returns
// an empty collection: the data-loss-safe default, logged loudly and
// counted, preserved deliberately pending a product decision on surfacing
// a corruption error instead.
func (s *Store) LoadEntries(ctx context.Context) ([]CredentialRecord, error) {
	if !s.crypto.IsUnlocked() {
		return nil, apperrors.VaultLocked("loadEntries")
	}

	entries, err := s.decryptPrimary()
	if err == nil {
		return entries, nil
	}
	if !apperrors.IsKind(err, apperrors.KindDecryption) && !apperrors.IsKind(err, apperrors.KindCorruption) {
		return nil, err
	}

	s.logger.Warn("primary entries blob failed to decrypt, trying backup",
		slog.String("error", err.Error()),
	)

	backupBlob, found, berr := s.backend.Get(storage.KeyVaultBackup)
	if berr != nil {
		return nil, berr
	}
	if found {
		if entries, derr := s.decryptBlob(backupBlob); derr == nil {
			if perr := s.backend.Set(storage.KeyVaultEntries, backupBlob); perr != nil {
				return nil, perr
			}
			s.metrics.countRecovery(ctx, "backup_promoted")
			s.logger.Info("recovered entries from backup slot, backup promoted to primary",
				slog.Int("count", len(entries)),
			)
			return entries, nil
		}
	}

	s.metrics.countRecovery(ctx, "unrecoverable")
	s.logger.Error("both primary and backup entry blobs failed to decrypt, returning empty collection",
		slog.String("error", err.Error()),
	)
	return []CredentialRecord{}, nil
}

// ImportPlain saves entries from a plaintext JSON envelope
// {"entries": [...]}. Unlike LoadEntries' silent-empty fallback, a
// malformed envelope is rejected loudly: import is a deliberate user
// action whose failure must surface.
func (s *Store) ImportPlain(ctx context.Context, payload []byte) (int, error) {
	if !s.crypto.IsUnlocked() {
		return 0, apperrors.VaultLocked("importPlain")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return 0, apperrors.Validation("import payload is not valid JSON")
	}
	rawEntries, ok := probe["entries"]
	if !ok {
		return 0, apperrors.Validation("import payload is missing the entries array")
	}

	var entries []CredentialRecord
	if err := json.Unmarshal(rawEntries, &entries); err != nil {
		return 0, apperrors.Validation("entries array is malformed")
	}

	if err := s.SaveEntries(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Hint returns the stored password hint. Deliberately unencrypted: it must
// be readable before unlock.
func (s *Store) Hint() (string, error) {
	hint, _, err := s.backend.Get(storage.KeyVaultHint)
	return hint, err
}

// SetHint stores the password hint.
func (s *Store) SetHint(hint string) error {
	return s.backend.Set(storage.KeyVaultHint, sanitizeText(hint, maxShortFieldLen))
}

func (s *Store) decryptPrimary() ([]CredentialRecord, error) {
	blob, found, err := s.backend.Get(storage.KeyVaultEntries)
	if err != nil {
		return nil, err
	}
	if !found {
		return []CredentialRecord{}, nil
	}
	return s.decryptBlob(blob)
}

func (s *Store) decryptBlob(blob string) ([]CredentialRecord, error) {
	plaintext, err := s.crypto.DecryptData(blob)
	if err != nil {
		return nil, err
	}

	entries, err := decodeEntries([]byte(plaintext))
	if err != nil {
		// Decrypted fine but does not parse: salvage what the corruption
		// utility can.
		report := corruption.CheckEntries([]byte(plaintext))
		s.logger.Error("entries blob decrypted but failed to parse",
			slog.String("severity", string(report.Severity)),
			slog.Bool("recoverable", report.Recoverable),
		)
		recovered, ok := corruption.RecoverEntries([]byte(plaintext))
		if !ok {
			return nil, apperrors.Corruption("entries payload is corrupted", err)
		}
		if entries, err = decodeEntries(recovered); err != nil {
			return nil, apperrors.Corruption("entries payload is corrupted", err)
		}
	}

	now := s.now()
	for i := range entries {
		normalizeRecord(&entries[i], now)
	}
	return entries, nil
}

func decodeEntries(raw []byte) ([]CredentialRecord, error) {
	var entries []CredentialRecord
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []CredentialRecord{}
	}
	return entries, nil
}
