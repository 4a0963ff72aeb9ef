// Package corruption inspects persisted JSON payloads (credential entry
// arrays and signed license files) and attempts best-effort recovery of
// the structurally valid parts.
package corruption

import (
	"encoding/json"
	"fmt"
)

// Severity grades how damaged a payload is.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Report is the result of a corruption check.
type Report struct {
	IsCorrupted bool     `json:"is_corrupted"`
	Severity    Severity `json:"severity"`
	Errors      []string `json:"errors,omitempty"`
	Recoverable bool     `json:"recoverable"`
}

func cleanReport() Report {
	return Report{Severity: SeverityNone, Recoverable: true}
}

// CheckEntries inspects a decrypted credential entry array.
//
// Severity grading: unparsable JSON or a non-array root is critical; some
// invalid items among valid ones is major; only cosmetic issues (missing
// ids or dates, which migration defaults repair) is minor.
func CheckEntries(raw []byte) Report {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Report{
			IsCorrupted: true,
			Severity:    SeverityCritical,
			Errors:      []string{fmt.Sprintf("entries payload is not a JSON array: %v", err)},
			Recoverable: false,
		}
	}

	report := cleanReport()
	valid := 0
	for i, item := range items {
		obj, err := parseObject(item)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("entry %d: not an object", i))
			continue
		}
		if name, _ := obj["accountName"].(string); name == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("entry %d: missing accountName", i))
			continue
		}
		valid++
		if _, ok := obj["id"].(string); !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("entry %d: missing id", i))
			if report.Severity == SeverityNone {
				report.Severity = SeverityMinor
				report.IsCorrupted = true
			}
		}
	}

	if valid < len(items) {
		report.IsCorrupted = true
		report.Severity = SeverityMajor
		report.Recoverable = valid > 0 || len(items) == 0
	}
	return report
}

// RecoverEntries filters an entry array down to its structurally valid
// items and returns them re-marshaled. ok is false when nothing could be
// recovered.
func RecoverEntries(raw []byte) (recovered []byte, ok bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}

	kept := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		obj, err := parseObject(item)
		if err != nil {
			continue
		}
		if name, _ := obj["accountName"].(string); name == "" {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == 0 && len(items) > 0 {
		return nil, false
	}

	out, err := json.Marshal(kept)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Fields a license record must carry to be worth keeping at all. The
// signature is checked elsewhere; this is purely structural.
var licenseRequiredFields = []string{"key", "device_id", "plan_type"}

// CheckLicense inspects a persisted signed record (license or trial).
func CheckLicense(raw []byte) Report {
	obj, err := parseObject(raw)
	if err != nil {
		return Report{
			IsCorrupted: true,
			Severity:    SeverityCritical,
			Errors:      []string{fmt.Sprintf("license payload is not a JSON object: %v", err)},
			Recoverable: false,
		}
	}

	report := cleanReport()
	for _, field := range licenseRequiredFields {
		if v, _ := obj[field].(string); v == "" {
			report.IsCorrupted = true
			report.Errors = append(report.Errors, fmt.Sprintf("missing required field %q", field))
		}
	}
	if report.IsCorrupted {
		// A record without its key cannot be reconstructed; inventing one
		// would defeat the signature binding.
		if v, _ := obj["key"].(string); v == "" {
			report.Severity = SeverityCritical
			report.Recoverable = false
		} else {
			report.Severity = SeverityMajor
			report.Recoverable = false
		}
		return report
	}

	if sig, _ := obj["signature"].(string); sig == "" {
		report.IsCorrupted = true
		report.Severity = SeverityMajor
		report.Errors = append(report.Errors, "missing signature")
		report.Recoverable = false
	}
	return report
}

func parseObject(raw []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("null object")
	}
	return obj, nil
}
