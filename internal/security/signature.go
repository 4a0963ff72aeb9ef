package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fields excluded from the canonical form: the signature itself and the
// signing timestamp recorded alongside it.
const (
	signatureField = "signature"
	signedAtField  = "signed_at"
)

// CanonicalizeRecord produces the canonical JSON of a signed record: the
// record serialized with lexicographically sorted keys, minus the
// signature and signed_at fields. encoding/json sorts map keys, which
// gives the sorted-key property for free once the record passes through a
// map.
func CanonicalizeRecord(record map[string]any) ([]byte, error) {
	canonical := make(map[string]any, len(record))
	for k, v := range record {
		if k == signatureField || k == signedAtField {
			continue
		}
		canonical[k] = v
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize record: %w", err)
	}
	return data, nil
}

// SignRecord computes the hex HMAC-SHA256 signature of the record's
// canonical form under secret.
func SignRecord(record map[string]any, secret string) (string, error) {
	canonical, err := CanonicalizeRecord(record)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyRecordSignature checks the record's embedded signature against its
// canonical form. The comparison is constant-time.
//
// When allowUnsigned is true, a record with no signature at all is
// accepted. This is the development escape hatch; config.Load refuses the
// flag in production builds.
func VerifyRecordSignature(record map[string]any, secret string, allowUnsigned bool) (bool, error) {
	stored, _ := record[signatureField].(string)
	if stored == "" {
		return allowUnsigned, nil
	}

	expected, err := SignRecord(record, secret)
	if err != nil {
		return false, err
	}
	return ConstantTimeEqualString(stored, expected), nil
}
