// Package security implements the cryptographic primitives shared by the
// vault and licensing subsystems: PBKDF2 key derivation, AES-256-GCM
// authenticated encryption, HMAC record signatures, constant-time
// comparison and device fingerprinting.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	apperrors "lpvault/internal/errors"
)

const (
	// KDFIterations is the PBKDF2-HMAC-SHA256 iteration count. Fixed by the
	// on-disk format: existing vaults cannot be decrypted with a different
	// value.
	KDFIterations = 100000

	// KeySize is the AES-256 key size in bytes.
	KeySize = 32

	// SaltSize is the per-vault salt size in bytes.
	SaltSize = 32

	// NonceSize is the AES-GCM nonce size in bytes (96 bits).
	NonceSize = 12

	// kdf domain separators keep the encryption key and the password
	// verification hash independent even though both derive from the same
	// password and salt.
	kdfPurposeEncryption   = 0x00
	kdfPurposeVerification = 0x01
)

// DeriveKey derives the AES-256 encryption key from a master password and
// the vault salt. Deterministic for the same inputs.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	return pbkdf2.Key([]byte(password), append(salt[:len(salt):len(salt)], kdfPurposeEncryption), KDFIterations, KeySize, sha256.New), nil
}

// HashForVerification derives the password verification hash. It uses the
// same PBKDF2 parameters as DeriveKey but a separate derivation purpose, so
// knowing the hash reveals nothing about the encryption key.
func HashForVerification(password string, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	return pbkdf2.Key([]byte(password), append(salt[:len(salt):len(salt)], kdfPurposeVerification), KDFIterations, KeySize, sha256.New), nil
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under key, generating a fresh
// 96-bit nonce per call. The result is base64(nonce‖ciphertext‖tag) as one
// opaque string.
func Encrypt(key []byte, plaintext string) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure mode (malformed base64, short
// blob, authentication tag mismatch, wrong key) surfaces as the same
// KindDecryption error so callers cannot distinguish a wrong password from
// corrupted data.
func Decrypt(key []byte, blob string) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", apperrors.Decryption(err)
	}
	if len(raw) <= NonceSize {
		return "", apperrors.Decryption(fmt.Errorf("ciphertext too short: %d bytes", len(raw)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, ciphertext := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", apperrors.Decryption(err)
	}
	return string(plaintext), nil
}

// EncryptBytes is Encrypt for raw payloads, returning the binary
// nonce‖ciphertext‖tag without the base64 wrapping. Used by the export
// format, which carries its own encoding.
func EncryptBytes(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptBytes reverses EncryptBytes with the same failure semantics as
// Decrypt.
func DecryptBytes(key, raw []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(raw) <= NonceSize {
		return nil, apperrors.Decryption(fmt.Errorf("ciphertext too short: %d bytes", len(raw)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return nil, apperrors.Decryption(err)
	}
	return plaintext, nil
}
