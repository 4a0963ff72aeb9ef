package vault

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	apperrors "lpvault/internal/errors"
	"lpvault/internal/security"
	"lpvault/internal/storage"
)

// canarySentinel is a fixed plaintext encrypted at initialization and
// decrypted on unlock to prove a freshly derived key actually matches the
// vault, independently of the verification-hash check.
const canarySentinel = "lpvault-canary-v1"

// Crypto owns the live encryption key. The key exists only in memory while
// the vault is unlocked and is scrubbed on Lock. State machine:
// NoVault → Locked → Unlocked, with Unlocked → Locked the only way back.
//
// All key access is serialized by mu so Lock cannot race an in-flight
// EncryptData/DecryptData.
type Crypto struct {
	backend storage.Backend
	logger  *slog.Logger

	mu  sync.Mutex
	key *security.Secret
}

// NewCrypto creates the key manager over the given backend.
func NewCrypto(backend storage.Backend, logger *slog.Logger) *Crypto {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crypto{backend: backend, logger: logger}
}

// VaultExists reports whether a vault has been initialized, i.e. the
// persisted salt exists.
func (c *Crypto) VaultExists() (bool, error) {
	_, found, err := c.backend.Get(storage.KeyVaultSalt)
	if err != nil {
		return false, err
	}
	return found, nil
}

// Initialize creates a new vault: generates and persists the salt, derives
// and holds the key, persists the verification hash and the encrypted
// canary. Transition NoVault → Unlocked. Fails if a vault already exists.
func (c *Crypto) Initialize(masterPassword string) error {
	exists, err := c.VaultExists()
	if err != nil {
		return err
	}
	if exists {
		return apperrors.Validation("vault is already initialized")
	}
	if masterPassword == "" {
		return apperrors.Validation("master password must not be empty")
	}

	salt, err := security.RandomBytes(security.SaltSize)
	if err != nil {
		return err
	}
	key, err := security.DeriveKey(masterPassword, salt)
	if err != nil {
		return err
	}
	verifyHash, err := security.HashForVerification(masterPassword, salt)
	if err != nil {
		return err
	}
	canary, err := security.Encrypt(key, canarySentinel)
	if err != nil {
		return err
	}

	// Persist the salt last: its presence is what makes VaultExists true,
	// so a partially initialized vault is never observable.
	if err := c.backend.Set(storage.KeyVaultVerifyHash, base64.StdEncoding.EncodeToString(verifyHash)); err != nil {
		return err
	}
	if err := c.backend.Set(storage.KeyVaultCanary, canary); err != nil {
		return err
	}
	if err := c.backend.Set(storage.KeyVaultSalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return err
	}

	c.mu.Lock()
	c.holdKey(key)
	c.mu.Unlock()

	c.logger.Info("vault initialized")
	return nil
}

// Unlock verifies the master password and, on success, derives and holds
// the key. Returns false for a wrong password without holding any key; the
// caller owns the failed-attempt bookkeeping. Transition Locked → Unlocked
// only on full success, including the canary check.
func (c *Crypto) Unlock(masterPassword string) (bool, error) {
	exists, err := c.VaultExists()
	if err != nil {
		return false, err
	}
	if !exists {
		return false, apperrors.NotFound("vault")
	}

	salt, err := c.loadSalt()
	if err != nil {
		return false, err
	}
	storedHash, err := c.loadVerifyHash()
	if err != nil {
		return false, err
	}

	candidate, err := security.HashForVerification(masterPassword, salt)
	if err != nil {
		return false, err
	}
	if !security.ConstantTimeEqual(candidate, storedHash) {
		return false, nil
	}

	key, err := security.DeriveKey(masterPassword, salt)
	if err != nil {
		return false, err
	}

	// The hash matched, so the canary must decrypt to the sentinel.
	// Initialize always writes the canary, so a missing one means the same
	// thing as an undecryptable one: damaged vault state. Discard the key
	// and report failure rather than unlocking over it.
	canaryBlob, found, err := c.backend.Get(storage.KeyVaultCanary)
	if err != nil {
		return false, err
	}
	if !found {
		security.NewSecret(key).Wipe()
		c.logger.Error("vault canary is missing, vault state is corrupted")
		return false, apperrors.Corruption("vault key verification failed", nil)
	}
	plaintext, err := security.Decrypt(key, canaryBlob)
	if err != nil || plaintext != canarySentinel {
		security.NewSecret(key).Wipe()
		c.logger.Error("canary check failed after hash match, vault state is corrupted")
		return false, apperrors.Corruption("vault key verification failed", err)
	}

	c.mu.Lock()
	c.holdKey(key)
	c.mu.Unlock()

	c.logger.Info("vault unlocked")
	return true, nil
}

// Lock discards the in-memory key and scrubs its buffer. Transition
// Unlocked → Locked. Idempotent.
func (c *Crypto) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		c.key.Wipe()
		c.key = nil
		c.logger.Info("vault locked")
	}
}

// IsUnlocked reports whether a key is currently held.
func (c *Crypto) IsUnlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key != nil
}

// EncryptData encrypts an opaque string under the held key. Fails fast
// with KindVaultLocked when no key is held; there is no blocking wait.
func (c *Crypto) EncryptData(plaintext string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return "", apperrors.VaultLocked("encryptData")
	}
	return security.Encrypt(c.key.Bytes(), plaintext)
}

// DecryptData reverses EncryptData with the same locked-vault semantics.
func (c *Crypto) DecryptData(blob string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return "", apperrors.VaultLocked("decryptData")
	}
	return security.Decrypt(c.key.Bytes(), blob)
}

// holdKey replaces the held key. Caller must hold mu. Exactly one key is
// active at a time; a previous key is scrubbed first.
func (c *Crypto) holdKey(key []byte) {
	if c.key != nil {
		c.key.Wipe()
	}
	c.key = security.NewSecret(key)
}

func (c *Crypto) loadSalt() ([]byte, error) {
	encoded, found, err := c.backend.Get(storage.KeyVaultSalt)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("vault salt")
	}
	salt, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.Corruption("vault salt is unreadable", err)
	}
	if len(salt) != security.SaltSize {
		return nil, apperrors.Corruption(fmt.Sprintf("vault salt has wrong length %d", len(salt)), nil)
	}
	return salt, nil
}

func (c *Crypto) loadVerifyHash() ([]byte, error) {
	encoded, found, err := c.backend.Get(storage.KeyVaultVerifyHash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.Corruption("vault verification hash is missing", nil)
	}
	hash, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.Corruption("vault verification hash is unreadable", err)
	}
	return hash, nil
}
