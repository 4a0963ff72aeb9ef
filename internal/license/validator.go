package license

import (
	"fmt"
	"strings"

	apperrors "lpvault/internal/errors"
	"lpvault/internal/security"
)

// License key format: LPV-XXXX-XXXX-XXXX. Keys are compared and stored
// without dashes.
const (
	keyPrefix = "LPV"
	keyLength = 15 // LPV + 12 alphanumerics
)

// ValidateKeyFormat checks a license key's shape before any I/O happens.
func ValidateKeyFormat(key string) error {
	clean := NormalizeKey(key)
	if !strings.HasPrefix(clean, keyPrefix) {
		return apperrors.Validation(fmt.Sprintf("license key must start with '%s'", keyPrefix))
	}
	if len(clean) != keyLength {
		return apperrors.Validation(fmt.Sprintf("license key must be %d characters long (%s + 12 characters)", keyLength, keyPrefix))
	}
	for _, ch := range clean[len(keyPrefix):] {
		if !((ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')) {
			return apperrors.Validation("license key must contain only letters and numbers")
		}
	}
	return nil
}

// NormalizeKey strips dashes and spaces and uppercases the key.
func NormalizeKey(key string) string {
	clean := strings.ReplaceAll(strings.ReplaceAll(key, "-", ""), " ", "")
	return strings.ToUpper(clean)
}

// FormatKeyWithDashes renders a normalized key as LPV-XXXX-XXXX-XXXX for
// display. Keys of unexpected length pass through unchanged.
func FormatKeyWithDashes(key string) string {
	clean := NormalizeKey(key)
	if len(clean) != keyLength {
		return clean
	}
	return fmt.Sprintf("%s-%s-%s-%s", clean[:3], clean[3:7], clean[7:11], clean[11:])
}

// VerifyResult is the outcome of verifying a signed record against the
// current device.
type VerifyResult struct {
	// Valid means the signature checks out and the record is bound to this
	// device.
	Valid bool

	// RequiresTransfer means the signature checks out but the record is
	// bound to another device. Distinct from an invalid signature: the
	// record is genuine, the device changed.
	RequiresTransfer bool
}

// Validator verifies signed entitlement records against the shared secret
// and the local device fingerprint.
type Validator struct {
	secret        string
	allowUnsigned bool
	fingerprint   security.FingerprintProvider
}

// NewValidator builds a Validator. allowUnsigned is the development escape
// hatch; config.Load refuses it in production.
func NewValidator(secret string, allowUnsigned bool, fingerprint security.FingerprintProvider) *Validator {
	return &Validator{secret: secret, allowUnsigned: allowUnsigned, fingerprint: fingerprint}
}

// VerifyRecord checks the record's signature, then its device binding.
// A bad signature yields ErrSignature and no partial trust. A good
// signature bound to a foreign device yields RequiresTransfer with
// ErrDeviceMismatch so callers can offer the transfer flow.
func (v *Validator) VerifyRecord(rec *Record) (VerifyResult, error) {
	ok, err := rec.VerifySignature(v.secret, v.allowUnsigned)
	if err != nil {
		return VerifyResult{}, apperrors.Internal(err)
	}
	if !ok {
		return VerifyResult{}, apperrors.Signature("entitlement record failed verification")
	}

	current, err := v.fingerprint.Fingerprint()
	if err != nil {
		return VerifyResult{}, apperrors.Internal(err)
	}
	if !security.ConstantTimeEqualString(rec.DeviceID, current) {
		return VerifyResult{RequiresTransfer: true}, apperrors.DeviceMismatch()
	}
	return VerifyResult{Valid: true}, nil
}
