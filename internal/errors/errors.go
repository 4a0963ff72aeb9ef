// Package errors defines the closed error taxonomy shared by the vault and
// licensing subsystems, plus the HTTP rendering glue for the local API.
//
// Every failure surfaced by the core is an *AppError carrying one of the
// Kind constants below. Call sites match on Kind (or use the Is* helpers)
// instead of inspecting ad hoc structural fields.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Kind identifies the category of an application error.
type Kind string

const (
	// KindVaultLocked is returned by any encrypt/decrypt/save/load attempted
	// while no key is held. Recoverable: prompt for unlock.
	KindVaultLocked Kind = "VAULT_LOCKED"

	// KindDecryption covers wrong password and corrupted ciphertext alike.
	// The ambiguity is deliberate: the two causes must not be
	// distinguishable from the error itself.
	KindDecryption Kind = "DECRYPTION_FAILED"

	// KindValidation covers malformed import payloads, invalid records and
	// bad license key formats, rejected before any I/O.
	KindValidation Kind = "VALIDATION_FAILED"

	// KindLockout is returned for unlock attempts during an active lockout
	// window. RetryAfterSeconds carries the remaining wait.
	KindLockout Kind = "LOCKED_OUT"

	// KindSignature marks a signed record that failed its HMAC check.
	// The record is treated as invalid in full, never partially trusted.
	KindSignature Kind = "SIGNATURE_INVALID"

	// KindDeviceMismatch marks a correctly signed record bound to a
	// different device. Distinct from KindSignature so the UI can offer a
	// transfer flow instead of reactivation.
	KindDeviceMismatch Kind = "DEVICE_MISMATCH"

	// KindEntitlement marks an operation refused because neither a valid
	// license nor an active trial covers this device.
	KindEntitlement Kind = "ENTITLEMENT_REQUIRED"

	// KindNetwork covers licensing API transport failures and non-2xx
	// responses. Retryable; never treated as a valid entitlement.
	KindNetwork Kind = "NETWORK_ERROR"

	// KindCorruption marks persisted state that could not be parsed or
	// authenticated, after backup recovery was attempted.
	KindCorruption Kind = "DATA_CORRUPTED"

	// KindNotFound marks missing resources (no vault, no license record).
	KindNotFound Kind = "NOT_FOUND"

	// KindInternal is the fallback for unexpected failures.
	KindInternal Kind = "INTERNAL_ERROR"
)

// AppError is the single error type surfaced by the core subsystems.
type AppError struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`

	// RetryAfterSeconds is set for KindLockout.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// RequiresTransfer is set for KindDeviceMismatch.
	RequiresTransfer bool `json:"requires_transfer,omitempty"`

	// Err holds the wrapped cause, if any. Never serialized.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *AppError) Unwrap() error { return e.Err }

// Is reports Kind equality so sentinel comparisons work:
// errors.Is(err, &AppError{Kind: KindVaultLocked}).
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an AppError with the given kind and message.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap creates an AppError wrapping a cause.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain, or KindInternal when the
// chain holds no AppError.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Constructors for the common cases. Messages are user-facing.

// VaultLocked reports an operation attempted while the vault key is not held.
func VaultLocked(op string) *AppError {
	return New(KindVaultLocked, fmt.Sprintf("vault is locked: %s requires an unlocked vault", op))
}

// Decryption reports a failed decrypt without distinguishing the cause.
func Decryption(err error) *AppError {
	return Wrap(KindDecryption, "invalid password or corrupted data", err)
}

// Validation reports a rejected payload or record.
func Validation(message string) *AppError {
	return New(KindValidation, message)
}

// Lockout reports an unlock attempt during an active lockout window.
func Lockout(remainingSeconds int) *AppError {
	return &AppError{
		Kind:              KindLockout,
		Message:           fmt.Sprintf("too many failed attempts, try again in %d seconds", remainingSeconds),
		RetryAfterSeconds: remainingSeconds,
	}
}

// Signature reports a record that failed its HMAC check.
func Signature(message string) *AppError {
	return New(KindSignature, message)
}

// DeviceMismatch reports a valid record bound to another device.
func DeviceMismatch() *AppError {
	return &AppError{
		Kind:             KindDeviceMismatch,
		Message:          "this record is registered to a different device",
		RequiresTransfer: true,
	}
}

// EntitlementRequired reports an operation refused for lack of a valid
// license or active trial.
func EntitlementRequired() *AppError {
	return New(KindEntitlement, "a valid license or active trial is required")
}

// Network reports a licensing API transport failure.
func Network(err error) *AppError {
	return Wrap(KindNetwork, "unable to reach the licensing service", err)
}

// Corruption reports unrecoverable persisted state.
func Corruption(message string, err error) *AppError {
	return Wrap(KindCorruption, message, err)
}

// NotFound reports a missing resource.
func NotFound(resource string) *AppError {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource))
}

// Internal reports an unexpected failure.
func Internal(err error) *AppError {
	return Wrap(KindInternal, "an unexpected error occurred", err)
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// httpStatus maps error kinds to HTTP status codes for the local API.
func httpStatus(kind Kind) int {
	switch kind {
	case KindVaultLocked:
		return http.StatusPreconditionRequired
	case KindDecryption:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindLockout:
		return http.StatusTooManyRequests
	case KindSignature:
		return http.StatusForbidden
	case KindDeviceMismatch:
		return http.StatusConflict
	case KindEntitlement:
		return http.StatusPaymentRequired
	case KindNetwork:
		return http.StatusServiceUnavailable
	case KindCorruption:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the envelope written for API errors.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *AppError `json:"error"`
}

// Render implements the render.Renderer interface for chi/render.
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, httpStatus(e.Error.Kind))
	return nil
}

// Renderer wraps any error into a renderable response, normalizing
// non-AppError values to KindInternal.
func Renderer(err error) *ErrorResponse {
	var ae *AppError
	if !errors.As(err, &ae) {
		ae = Internal(err)
	}
	return &ErrorResponse{Success: false, Error: ae}
}
