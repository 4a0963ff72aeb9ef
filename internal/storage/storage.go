// Package storage provides the key→value persistence backend used by the
// vault and licensing subsystems, plus timestamped backup rotation.
//
// Values are opaque strings: everything sensitive is already encrypted by
// the vault layer before it reaches a backend, so the backend needs no
// encryption of its own.
package storage

// Backend is the persistence contract. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys returns all keys with the given prefix, in unspecified order.
	Keys(prefix string) ([]string, error)

	// Close releases the backend.
	Close() error
}

// Well-known storage keys. The layout mirrors the persisted-state table in
// the product design: one flat namespace, prefixed per subsystem.
const (
	KeyVaultSalt       = "vault:salt"
	KeyVaultVerifyHash = "vault:verify_hash"
	KeyVaultCanary     = "vault:canary"
	KeyVaultEntries    = "vault:entries"
	KeyVaultBackup     = "vault:entries_backup"
	KeyVaultLockout    = "vault:lockout_until"
	KeyVaultAttempts   = "vault:attempts"
	KeyVaultHint       = "vault:hint"
	KeyLicenseRecord   = "license:record"
	KeyTrialRecord     = "trial:record"
	KeyTrialUsed       = "trial:used"
)
