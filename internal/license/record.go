// Package license implements offline device-bound entitlement: HMAC-signed
// license and trial records verified against the local device fingerprint,
// with a thin client for the one-time activation, transfer and trial
// endpoints of the licensing API.
package license

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "lpvault/internal/errors"
	"lpvault/internal/security"
)

// Plan types carried in signed records.
const (
	PlanTrial    = "trial"
	PlanStandard = "standard"
	PlanPro      = "pro"
)

// Record is a signed entitlement record as issued by the licensing API.
// Typed fields cover what the validator needs; the raw map preserves every
// field the server signed, so verification never depends on this struct
// staying in sync with the server's schema.
type Record struct {
	Key            string    `json:"key"`
	DeviceID       string    `json:"device_id"`
	PlanType       string    `json:"plan_type"`
	MaxDevices     int       `json:"max_devices,omitempty"`
	ActivatedAt    time.Time `json:"activated_at,omitempty"`
	StartDate      time.Time `json:"start_date,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	TransferCount  int       `json:"transfer_count,omitempty"`
	LastTransferAt time.Time `json:"last_transfer_at,omitempty"`
	Signature      string    `json:"signature,omitempty"`
	SignedAt       time.Time `json:"signed_at,omitempty"`

	raw map[string]any
}

// ParseRecord decodes a persisted or API-supplied signed record. The raw
// JSON object is retained verbatim for signature verification.
func ParseRecord(data []byte) (*Record, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Corruption("entitlement record is not valid JSON", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.Corruption("entitlement record has an unexpected shape", err)
	}
	rec.raw = raw
	return &rec, nil
}

// ParseRecordMap builds a Record from an already-decoded JSON object, as
// returned inside API response bodies.
func ParseRecordMap(raw map[string]any) (*Record, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return ParseRecord(data)
}

// Raw returns the record's original JSON object.
func (r *Record) Raw() map[string]any {
	return r.raw
}

// Marshal serializes the record for persistence, preserving the raw form
// so the signature keeps verifying after a round trip.
func (r *Record) Marshal() ([]byte, error) {
	if r.raw != nil {
		return json.Marshal(r.raw)
	}
	return json.Marshal(r)
}

// IsTrial reports whether the record carries a trial plan.
func (r *Record) IsTrial() bool {
	return r.PlanType == PlanTrial
}

// VerifySignature checks the record's HMAC against its canonical form.
func (r *Record) VerifySignature(secret string, allowUnsigned bool) (bool, error) {
	if r.raw == nil {
		return false, nil
	}
	return security.VerifyRecordSignature(r.raw, secret, allowUnsigned)
}

// signRecord stamps a locally built record with signed_at and an HMAC over
// its canonical form. Used for dev-mode trials only; production records
// arrive pre-signed from the API.
func signRecord(raw map[string]any, secret string, now time.Time) error {
	sig, err := security.SignRecord(raw, secret)
	if err != nil {
		return err
	}
	raw["signature"] = sig
	raw["signed_at"] = now.UTC().Format(time.RFC3339)
	return nil
}

// MaskKey redacts a license key for logs, keeping the prefix and the last
// group: LPV-A1B2-C3D4-E5F6 becomes LPV-****-****-E5F6.
func MaskKey(key string) string {
	normalized := NormalizeKey(key)
	if len(normalized) != keyLength {
		if len(key) <= 4 {
			return "****"
		}
		return key[:2] + strings.Repeat("*", len(key)-4) + key[len(key)-2:]
	}
	return fmt.Sprintf("%s-****-****-%s", keyPrefix, normalized[11:])
}
