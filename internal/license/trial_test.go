package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func trialRecord(start time.Time, days int) *Record {
	return &Record{
		PlanType:  PlanTrial,
		StartDate: start,
		ExpiresAt: start.AddDate(0, 0, days),
	}
}

func TestTrialExpiredAfterWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	rec := trialRecord(now.AddDate(0, 0, -8), 7)

	info := ComputeTrialInfo(rec, now)
	assert.True(t, info.IsExpired)
	assert.Equal(t, 0, info.DaysRemaining)
	assert.Equal(t, 0, info.HoursRemaining)
	assert.Equal(t, 0, info.MinutesRemaining)
	assert.Equal(t, 0, info.SecondsRemaining)
}

func TestTrialRemainingMidWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	rec := trialRecord(now.AddDate(0, 0, -2), 7)

	info := ComputeTrialInfo(rec, now)
	assert.False(t, info.IsExpired)
	assert.GreaterOrEqual(t, info.DaysRemaining, 4)
	assert.LessOrEqual(t, info.DaysRemaining, 5)
}

func TestTrialExpiryBoundaryIsInclusive(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := trialRecord(start, 7)

	atExpiry := ComputeTrialInfo(rec, rec.ExpiresAt)
	assert.True(t, atExpiry.IsExpired)

	justBefore := ComputeTrialInfo(rec, rec.ExpiresAt.Add(-time.Second))
	assert.False(t, justBefore.IsExpired)
	assert.Equal(t, 0, justBefore.DaysRemaining)
	assert.Equal(t, 0, justBefore.HoursRemaining)
	assert.Equal(t, 0, justBefore.MinutesRemaining)
	assert.Equal(t, 1, justBefore.SecondsRemaining)
}

func TestTrialBreakdownIsFloorDivided(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := trialRecord(start, 7)

	// 1 day, 2 hours, 3 minutes, 4 seconds and change before expiry.
	now := rec.ExpiresAt.Add(-(24*time.Hour + 2*time.Hour + 3*time.Minute + 4*time.Second + 500*time.Millisecond))
	info := ComputeTrialInfo(rec, now)

	assert.False(t, info.IsExpired)
	assert.Equal(t, 1, info.DaysRemaining)
	assert.Equal(t, 2, info.HoursRemaining)
	assert.Equal(t, 3, info.MinutesRemaining)
	assert.Equal(t, 4, info.SecondsRemaining)
}
