package license

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "lpvault/internal/errors"
	"lpvault/internal/security"
	"lpvault/internal/storage"
)

const testDevice = "test-device-fingerprint"

// fakeLicensingAPI signs records the way the real API would.
type fakeLicensingAPI struct {
	t      *testing.T
	secret string

	activateStatus string
	transferCount  int
	trialDays      int
}

func (f *fakeLicensingAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/activate", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		if f.activateStatus != StatusOK {
			json.NewEncoder(w).Encode(APIResponse{Status: f.activateStatus})
			return
		}
		json.NewEncoder(w).Encode(APIResponse{
			Status:       StatusOK,
			PlanType:     PlanStandard,
			SignedRecord: f.signedLicense(req["key"], req["device_id"], 0),
		})
	})
	mux.HandleFunc("/v1/transfer", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(APIResponse{
			Status:        StatusOK,
			PlanType:      PlanStandard,
			TransferCount: f.transferCount,
			SignedRecord:  f.signedLicense(req["key"], req["device_id"], f.transferCount),
		})
	})
	mux.HandleFunc("/v1/trial", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		now := time.Now().UTC()
		raw := map[string]any{
			"key":        "TRIAL-SERVER-ISSUED",
			"device_id":  req["device_id"],
			"plan_type":  PlanTrial,
			"start_date": now.Format(time.RFC3339),
			"expires_at": now.AddDate(0, 0, f.trialDays).Format(time.RFC3339),
		}
		f.sign(raw)
		json.NewEncoder(w).Encode(APIResponse{Status: StatusOK, SignedRecord: raw})
	})
	return mux
}

func (f *fakeLicensingAPI) signedLicense(key, deviceID string, transfers int) map[string]any {
	raw := map[string]any{
		"key":          key,
		"device_id":    deviceID,
		"plan_type":    PlanStandard,
		"activated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if transfers > 0 {
		raw["transfer_count"] = transfers
		raw["last_transfer_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	f.sign(raw)
	return raw
}

func (f *fakeLicensingAPI) sign(raw map[string]any) {
	sig, err := security.SignRecord(raw, f.secret)
	require.NoError(f.t, err)
	raw["signature"] = sig
	raw["signed_at"] = time.Now().UTC().Format(time.RFC3339)
}

func newTestService(t *testing.T, api *fakeLicensingAPI, opts ServiceOptions) (*Service, *storage.MemoryBackend) {
	t.Helper()
	backend := storage.NewMemory()
	t.Cleanup(func() { backend.Close() })

	var client *Client
	if api != nil {
		srv := httptest.NewServer(api.handler())
		t.Cleanup(srv.Close)
		client = NewClient(srv.URL, time.Second, nil)
	} else {
		// Unreachable endpoint: every call is a network error.
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()
		client = NewClient(srv.URL, time.Second, nil)
	}

	fingerprint := security.StaticFingerprint(testDevice)
	validator := NewValidator(testSecret, opts.AllowUnsigned, fingerprint)
	return NewService(backend, validator, client, fingerprint, testSecret, opts), backend
}

func TestActivatePersistsVerifiedRecord(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: testSecret, activateStatus: StatusOK}
	s, backend := newTestService(t, api, ServiceOptions{})

	assert.False(t, s.CanUseApp(ctx))

	result, err := s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, PlanStandard, result.PlanType)

	_, ok, err := backend.Get(storage.KeyLicenseRecord)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.CanUseApp(ctx))
}

func TestActivateRejectsBadKeyFormatBeforeAnyIO(t *testing.T) {
	ctx := context.Background()
	// nil API: any network call would fail, proving none happened.
	s, _ := newTestService(t, nil, ServiceOptions{})

	_, err := s.Activate(ctx, "NOT-A-KEY")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestActivateDeviceMismatchSurfacesTransferFlow(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: testSecret, activateStatus: StatusDeviceMismatch}
	s, backend := newTestService(t, api, ServiceOptions{})

	result, err := s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
	assert.True(t, apperrors.IsKind(err, apperrors.KindDeviceMismatch))
	require.NotNil(t, result)
	assert.True(t, result.RequiresTransfer)

	// Nothing persisted on mismatch.
	_, ok, err := backend.Get(storage.KeyLicenseRecord)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActivateInvalidAndRevokedStatuses(t *testing.T) {
	ctx := context.Background()
	for _, status := range []string{StatusInvalid, StatusRevoked} {
		api := &fakeLicensingAPI{t: t, secret: testSecret, activateStatus: status}
		s, _ := newTestService(t, api, ServiceOptions{})

		_, err := s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "status %s", status)
	}
}

func TestActivateRejectsRecordSignedWithWrongSecret(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: "some-other-secret", activateStatus: StatusOK}
	s, backend := newTestService(t, api, ServiceOptions{})

	_, err := s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
	assert.True(t, apperrors.IsKind(err, apperrors.KindSignature))

	_, ok, _ := backend.Get(storage.KeyLicenseRecord)
	assert.False(t, ok)
}

func TestActivateUnreachableAPIIsNetworkError(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t, nil, ServiceOptions{})

	_, err := s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork))
	assert.False(t, s.CanUseApp(ctx), "network failure must never grant entitlement")
}

func TestTransferUpdatesRecordAndCount(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: testSecret, activateStatus: StatusOK, transferCount: 2}
	s, _ := newTestService(t, api, ServiceOptions{})

	result, err := s.Transfer(ctx, "LPV-A1B2-C3D4-E5F6")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TransferCount)
	assert.True(t, s.CanUseApp(ctx))

	st := s.Status(ctx)
	assert.True(t, st.Licensed)
	assert.Equal(t, 2, st.TransferCount)
	assert.Equal(t, "LPV-****-****-E5F6", st.MaskedKey)
}

func TestStartTrialGrantsWindowAndSetsUsedFlag(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: testSecret, trialDays: 7}
	s, backend := newTestService(t, api, ServiceOptions{TrialDays: 7})

	info, err := s.StartTrial(ctx)
	require.NoError(t, err)
	assert.False(t, info.IsExpired)
	assert.GreaterOrEqual(t, info.DaysRemaining, 6)
	assert.True(t, s.CanUseApp(ctx))

	_, ok, err := backend.Get(storage.KeyTrialUsed)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second trial refused even after deleting the record itself.
	require.NoError(t, backend.Delete(storage.KeyTrialRecord))
	_, err = s.StartTrial(ctx)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

// flakyReadBackend fails Get for one configured key.
type flakyReadBackend struct {
	*storage.MemoryBackend
	failKey string
}

func (b *flakyReadBackend) Get(key string) (string, bool, error) {
	if key == b.failKey {
		return "", false, fmt.Errorf("read failed for %s", key)
	}
	return b.MemoryBackend.Get(key)
}

func TestStartTrialSurfacesUsedFlagReadError(t *testing.T) {
	ctx := context.Background()
	backend := &flakyReadBackend{MemoryBackend: storage.NewMemory(), failKey: storage.KeyTrialUsed}
	t.Cleanup(func() { backend.Close() })

	api := &fakeLicensingAPI{t: t, secret: testSecret, trialDays: 7}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	fingerprint := security.StaticFingerprint(testDevice)
	validator := NewValidator(testSecret, false, fingerprint)
	client := NewClient(srv.URL, time.Second, nil)
	s := NewService(backend, validator, client, fingerprint, testSecret, ServiceOptions{TrialDays: 7})

	// An unreadable used-flag must not pass as "not used yet".
	_, err := s.StartTrial(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInternal))

	_, ok, getErr := backend.MemoryBackend.Get(storage.KeyTrialRecord)
	require.NoError(t, getErr)
	assert.False(t, ok, "no trial record may be issued when the flag is unreadable")
}

func TestStartTrialLocalFallbackOnlyWhenUnsignedAllowed(t *testing.T) {
	ctx := context.Background()

	strict, _ := newTestService(t, nil, ServiceOptions{TrialDays: 7})
	_, err := strict.StartTrial(ctx)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork))
	assert.False(t, strict.CanUseApp(ctx))

	dev, _ := newTestService(t, nil, ServiceOptions{TrialDays: 7, AllowUnsigned: true})
	info, err := dev.StartTrial(ctx)
	require.NoError(t, err)
	assert.False(t, info.IsExpired)
	assert.True(t, dev.CanUseApp(ctx))
}

func TestExpiredTrialDeniesUse(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestService(t, nil, ServiceOptions{})

	// Signed trial that ended yesterday.
	now := time.Now().UTC()
	raw := map[string]any{
		"key":        "TRIAL-OLD",
		"device_id":  testDevice,
		"plan_type":  PlanTrial,
		"start_date": now.AddDate(0, 0, -8).Format(time.RFC3339),
		"expires_at": now.AddDate(0, 0, -1).Format(time.RFC3339),
	}
	sig, err := security.SignRecord(raw, testSecret)
	require.NoError(t, err)
	raw["signature"] = sig
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, backend.Set(storage.KeyTrialRecord, string(data)))

	assert.False(t, s.CanUseApp(ctx))

	info, err := s.TrialStatus(ctx)
	require.NoError(t, err)
	assert.True(t, info.IsExpired)
	assert.Equal(t, 0, info.DaysRemaining)
}

func TestLicenseSupersedesTrialPermanently(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: testSecret, activateStatus: StatusOK, trialDays: 7}
	s, backend := newTestService(t, api, ServiceOptions{TrialDays: 7})

	_, err := s.StartTrial(ctx)
	require.NoError(t, err)

	_, err = s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
	require.NoError(t, err)

	_, trialLeft, _ := backend.Get(storage.KeyTrialRecord)
	assert.False(t, trialLeft)
	_, flagLeft, _ := backend.Get(storage.KeyTrialUsed)
	assert.False(t, flagLeft)

	st := s.Status(ctx)
	assert.True(t, st.Licensed)
	assert.Nil(t, st.Trial)
}

func TestStartTrialRefusedWhileLicensed(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: testSecret, activateStatus: StatusOK, trialDays: 7}
	s, _ := newTestService(t, api, ServiceOptions{TrialDays: 7})

	_, err := s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
	require.NoError(t, err)

	_, err = s.StartTrial(ctx)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestTamperedPersistedRecordDeniesUse(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: testSecret, activateStatus: StatusOK}
	s, backend := newTestService(t, api, ServiceOptions{})

	_, err := s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
	require.NoError(t, err)
	require.True(t, s.CanUseApp(ctx))

	// Upgrade the plan by hand.
	value, ok, err := backend.Get(storage.KeyLicenseRecord)
	require.NoError(t, err)
	require.True(t, ok)
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(value), &raw))
	raw["plan_type"] = PlanPro
	edited, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, backend.Set(storage.KeyLicenseRecord, string(edited)))

	assert.False(t, s.CanUseApp(ctx))
}

func TestStatusReportsForeignDeviceAsTransferNeeded(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestService(t, nil, ServiceOptions{})

	raw := map[string]any{
		"key":          "LPVA1B2C3D4E5F6",
		"device_id":    "someone-elses-device",
		"plan_type":    PlanStandard,
		"activated_at": "2026-01-10T12:00:00Z",
	}
	sig, err := security.SignRecord(raw, testSecret)
	require.NoError(t, err)
	raw["signature"] = sig
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, backend.Set(storage.KeyLicenseRecord, string(data)))

	st := s.Status(ctx)
	assert.False(t, st.Licensed)
	assert.True(t, st.RequiresTransfer)
	assert.False(t, st.CanUseApp)
	assert.False(t, s.CanUseApp(ctx))
}

func TestRemoveLicense(t *testing.T) {
	ctx := context.Background()
	api := &fakeLicensingAPI{t: t, secret: testSecret, activateStatus: StatusOK}
	s, backend := newTestService(t, api, ServiceOptions{})

	_, err := s.Activate(ctx, "LPV-A1B2-C3D4-E5F6")
	require.NoError(t, err)

	require.NoError(t, s.RemoveLicense(ctx))
	_, ok, _ := backend.Get(storage.KeyLicenseRecord)
	assert.False(t, ok)
	assert.False(t, s.CanUseApp(ctx))
}
