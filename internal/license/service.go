package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lpvault/internal/corruption"
	apperrors "lpvault/internal/errors"
	"lpvault/internal/security"
	"lpvault/internal/storage"
)

// Service combines the license and trial records into a single entitlement
// decision and drives the one-time activation, transfer and trial calls.
//
// The state machine per installation is NoEntitlement → TrialActive →
// TrialExpired, and independently NoEntitlement → Licensed. Licensing
// supersedes trial permanently: once a license record is persisted, the
// trial record and trial-used flag are cleared and never consulted again.
type Service struct {
	backend     storage.Backend
	validator   *Validator
	client      *Client
	fingerprint security.FingerprintProvider

	sharedSecret  string
	allowUnsigned bool
	trialDays     int

	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// ServiceOptions configures optional Service collaborators.
type ServiceOptions struct {
	Metrics   *Metrics
	Logger    *slog.Logger
	TrialDays int

	// AllowUnsigned mirrors the config flag: unsigned records verify, and
	// StartTrial falls back to a locally signed record when the API is
	// unreachable. Development only.
	AllowUnsigned bool
}

// NewService builds the entitlement service.
func NewService(backend storage.Backend, validator *Validator, client *Client, fingerprint security.FingerprintProvider, sharedSecret string, opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	trialDays := opts.TrialDays
	if trialDays <= 0 {
		trialDays = 7
	}
	return &Service{
		backend:       backend,
		validator:     validator,
		client:        client,
		fingerprint:   fingerprint,
		sharedSecret:  sharedSecret,
		allowUnsigned: opts.AllowUnsigned,
		trialDays:     trialDays,
		logger:        logger,
		metrics:       opts.Metrics,
		now:           time.Now,
	}
}

// Status describes the current entitlement for the UI.
type Status struct {
	Licensed         bool       `json:"licensed"`
	PlanType         string     `json:"planType,omitempty"`
	MaskedKey        string     `json:"maskedKey,omitempty"`
	RequiresTransfer bool       `json:"requiresTransfer,omitempty"`
	TransferCount    int        `json:"transferCount,omitempty"`
	Trial            *TrialInfo `json:"trial,omitempty"`
	CanUseApp        bool       `json:"canUseApp"`
}

// ActivationResult is the outcome of an activation or transfer call.
type ActivationResult struct {
	Success          bool   `json:"success"`
	RequiresTransfer bool   `json:"requiresTransfer,omitempty"`
	PlanType         string `json:"planType,omitempty"`
	TransferCount    int    `json:"transferCount,omitempty"`
}

// CanUseApp decides whether the application may run: a license valid for
// this device, or a trial valid for this device and not expired. Purely
// local; the network is never consulted.
func (s *Service) CanUseApp(ctx context.Context) bool {
	if rec := s.verifiedRecord(ctx, storage.KeyLicenseRecord); rec != nil {
		return true
	}
	if rec := s.verifiedRecord(ctx, storage.KeyTrialRecord); rec != nil {
		return !ComputeTrialInfo(rec, s.now()).IsExpired
	}
	return false
}

// Status reports the combined license/trial state.
func (s *Service) Status(ctx context.Context) *Status {
	st := &Status{}

	if rec, result := s.loadAndVerify(ctx, storage.KeyLicenseRecord); rec != nil {
		st.PlanType = rec.PlanType
		st.MaskedKey = MaskKey(rec.Key)
		st.TransferCount = rec.TransferCount
		st.Licensed = result.Valid
		st.RequiresTransfer = result.RequiresTransfer
	}
	if !st.Licensed {
		if rec := s.verifiedRecord(ctx, storage.KeyTrialRecord); rec != nil {
			info := ComputeTrialInfo(rec, s.now())
			st.Trial = &info
		}
	}

	st.CanUseApp = st.Licensed || (st.Trial != nil && !st.Trial.IsExpired)
	return st
}

// Activate validates the key format, calls the activation endpoint, and on
// success verifies and persists the returned signed record. A
// device_mismatch response surfaces the transfer flow without persisting
// anything.
func (s *Service) Activate(ctx context.Context, key string) (*ActivationResult, error) {
	if err := ValidateKeyFormat(key); err != nil {
		return nil, err
	}
	deviceID, err := s.fingerprint.Fingerprint()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	normalized := NormalizeKey(key)
	resp, err := s.client.Activate(ctx, normalized, deviceID)
	if err != nil {
		s.metrics.countAPICall(ctx, "activate", "error")
		return nil, err
	}
	s.metrics.countAPICall(ctx, "activate", resp.Status)

	switch resp.Status {
	case StatusOK:
		rec, err := s.acceptRecord(ctx, resp.SignedRecord, storage.KeyLicenseRecord)
		if err != nil {
			return nil, err
		}
		s.clearTrial(ctx)
		s.logger.Info("license activated",
			slog.String("key", MaskKey(rec.Key)),
			slog.String("plan", rec.PlanType))
		return &ActivationResult{Success: true, PlanType: rec.PlanType, TransferCount: rec.TransferCount}, nil
	case StatusDeviceMismatch:
		return &ActivationResult{RequiresTransfer: true}, apperrors.DeviceMismatch()
	case StatusRevoked:
		return nil, apperrors.Validation("this license key has been revoked")
	default:
		return nil, apperrors.Validation("this license key is not valid")
	}
}

// Transfer re-binds an activated key to this device via the transfer
// endpoint. The yearly transfer cap lives server-side; this side only
// surfaces the returned transfer_count or rejection.
func (s *Service) Transfer(ctx context.Context, key string) (*ActivationResult, error) {
	if err := ValidateKeyFormat(key); err != nil {
		return nil, err
	}
	deviceID, err := s.fingerprint.Fingerprint()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	normalized := NormalizeKey(key)
	resp, err := s.client.Transfer(ctx, normalized, deviceID)
	if err != nil {
		s.metrics.countAPICall(ctx, "transfer", "error")
		return nil, err
	}
	s.metrics.countAPICall(ctx, "transfer", resp.Status)

	switch resp.Status {
	case StatusOK:
		rec, err := s.acceptRecord(ctx, resp.SignedRecord, storage.KeyLicenseRecord)
		if err != nil {
			return nil, err
		}
		s.clearTrial(ctx)
		s.logger.Info("license transferred",
			slog.String("key", MaskKey(rec.Key)),
			slog.Int("transfer_count", rec.TransferCount))
		return &ActivationResult{Success: true, PlanType: rec.PlanType, TransferCount: rec.TransferCount}, nil
	case StatusRevoked:
		return nil, apperrors.Validation("this license key has been revoked")
	default:
		if resp.Error != "" {
			return nil, apperrors.Validation(resp.Error)
		}
		return nil, apperrors.Validation("transfer was not accepted")
	}
}

// StartTrial requests a signed trial record. The trial-used flag makes the
// trial single-shot per installation regardless of record deletion. When
// the API is unreachable and unsigned records are allowed, a locally
// signed record stands in.
func (s *Service) StartTrial(ctx context.Context) (*TrialInfo, error) {
	_, used, err := s.backend.Get(storage.KeyTrialUsed)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if used {
		return nil, apperrors.Validation("the trial period has already been used on this device")
	}
	if rec := s.verifiedRecord(ctx, storage.KeyLicenseRecord); rec != nil {
		return nil, apperrors.Validation("a license is already active on this device")
	}
	deviceID, err := s.fingerprint.Fingerprint()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var rec *Record
	resp, err := s.client.StartTrial(ctx, deviceID, s.trialDays)
	switch {
	case err == nil && resp.Status == StatusOK:
		s.metrics.countAPICall(ctx, "trial", resp.Status)
		rec, err = s.acceptRecord(ctx, resp.SignedRecord, storage.KeyTrialRecord)
		if err != nil {
			return nil, err
		}
	case err != nil && apperrors.IsKind(err, apperrors.KindNetwork) && s.allowUnsigned:
		s.metrics.countAPICall(ctx, "trial", "local_fallback")
		s.logger.Warn("licensing api unreachable, issuing locally signed trial")
		rec, err = s.localTrialRecord(deviceID)
		if err != nil {
			return nil, err
		}
		if err := s.persistRecord(rec, storage.KeyTrialRecord); err != nil {
			return nil, err
		}
	case err != nil:
		s.metrics.countAPICall(ctx, "trial", "error")
		return nil, err
	default:
		s.metrics.countAPICall(ctx, "trial", resp.Status)
		return nil, apperrors.Validation("trial was not granted for this device")
	}

	if err := s.backend.Set(storage.KeyTrialUsed, "true"); err != nil {
		return nil, apperrors.Internal(err)
	}

	info := ComputeTrialInfo(rec, s.now())
	s.logger.Info("trial started",
		slog.Time("expires_at", rec.ExpiresAt),
		slog.Int("days_remaining", info.DaysRemaining))
	return &info, nil
}

// TrialStatus reports the current trial window, or NotFound when no trial
// record exists.
func (s *Service) TrialStatus(ctx context.Context) (*TrialInfo, error) {
	rec, result := s.loadAndVerify(ctx, storage.KeyTrialRecord)
	if rec == nil || !result.Valid {
		return nil, apperrors.NotFound("trial record")
	}
	info := ComputeTrialInfo(rec, s.now())
	return &info, nil
}

// RemoveLicense deletes the persisted license record.
func (s *Service) RemoveLicense(ctx context.Context) error {
	if err := s.backend.Delete(storage.KeyLicenseRecord); err != nil {
		return apperrors.Internal(err)
	}
	s.logger.Info("license record removed")
	return nil
}

// acceptRecord verifies an API-returned signed record for this device and
// persists it. device_mismatch should have been reported by the API before
// a record is ever returned, so a mismatching record here is rejected.
func (s *Service) acceptRecord(ctx context.Context, raw map[string]any, key string) (*Record, error) {
	if raw == nil {
		return nil, apperrors.Signature("licensing api returned no signed record")
	}
	rec, err := ParseRecordMap(raw)
	if err != nil {
		return nil, err
	}
	result, err := s.validator.VerifyRecord(rec)
	if err != nil {
		s.metrics.countValidation(ctx, "rejected")
		return nil, err
	}
	if !result.Valid {
		s.metrics.countValidation(ctx, "rejected")
		return nil, apperrors.Signature("entitlement record failed verification")
	}
	s.metrics.countValidation(ctx, "accepted")
	if err := s.persistRecord(rec, key); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) persistRecord(rec *Record, key string) error {
	data, err := rec.Marshal()
	if err != nil {
		return apperrors.Internal(err)
	}
	if err := s.backend.Set(key, string(data)); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// loadAndVerify loads and verifies the record under key. A missing or
// unparsable record returns nil; verification failures return the record
// with result.Valid false so callers can distinguish transfer-needed.
func (s *Service) loadAndVerify(ctx context.Context, key string) (*Record, VerifyResult) {
	value, ok, err := s.backend.Get(key)
	if err != nil || !ok {
		return nil, VerifyResult{}
	}
	rec, err := ParseRecord([]byte(value))
	if err != nil {
		report := corruption.CheckLicense([]byte(value))
		s.logger.Warn("persisted entitlement record unreadable",
			slog.String("key", key),
			slog.String("severity", string(report.Severity)),
			slog.Any("problems", report.Errors),
			slog.String("error", err.Error()))
		s.metrics.countValidation(ctx, "unreadable")
		return nil, VerifyResult{}
	}
	result, err := s.validator.VerifyRecord(rec)
	if err != nil && !result.RequiresTransfer {
		s.metrics.countValidation(ctx, "rejected")
		return rec, VerifyResult{}
	}
	if result.Valid {
		s.metrics.countValidation(ctx, "accepted")
	} else {
		s.metrics.countValidation(ctx, "device_mismatch")
	}
	return rec, result
}

// verifiedRecord returns the record under key only when it verifies for
// this device.
func (s *Service) verifiedRecord(ctx context.Context, key string) *Record {
	rec, result := s.loadAndVerify(ctx, key)
	if rec == nil || !result.Valid {
		return nil
	}
	return rec
}

// clearTrial removes trial state once a license supersedes it.
func (s *Service) clearTrial(ctx context.Context) {
	if err := s.backend.Delete(storage.KeyTrialRecord); err != nil {
		s.logger.Warn("failed to clear trial record", slog.String("error", err.Error()))
	}
	if err := s.backend.Delete(storage.KeyTrialUsed); err != nil {
		s.logger.Warn("failed to clear trial-used flag", slog.String("error", err.Error()))
	}
}

// localTrialRecord builds and signs a trial record without the API.
// Development fallback only.
func (s *Service) localTrialRecord(deviceID string) (*Record, error) {
	now := s.now().UTC()
	raw := map[string]any{
		"key":        "TRIAL-" + uuid.NewString(),
		"device_id":  deviceID,
		"plan_type":  PlanTrial,
		"start_date": now.Format(time.RFC3339),
		"expires_at": now.AddDate(0, 0, s.trialDays).Format(time.RFC3339),
	}
	if err := signRecord(raw, s.sharedSecret, now); err != nil {
		return nil, apperrors.Internal(err)
	}
	return ParseRecordMap(raw)
}
