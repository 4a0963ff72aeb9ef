package license

import "time"

// TrialInfo is the remaining-time breakdown of a trial record, computed
// strictly from the signed start_date/expires_at window against the wall
// clock. No locally resettable counter is involved, so winding a "last
// checked" value back cannot extend a trial.
type TrialInfo struct {
	StartDate time.Time `json:"startDate"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsExpired bool      `json:"isExpired"`

	// Floor-divided breakdown of the remaining millisecond window. All
	// zero once expired.
	DaysRemaining    int `json:"daysRemaining"`
	HoursRemaining   int `json:"hoursRemaining"`
	MinutesRemaining int `json:"minutesRemaining"`
	SecondsRemaining int `json:"secondsRemaining"`
}

// ComputeTrialInfo evaluates a trial record's window at the given instant.
// Expiry is inclusive: now equal to expires_at counts as expired.
func ComputeTrialInfo(rec *Record, now time.Time) TrialInfo {
	info := TrialInfo{
		StartDate: rec.StartDate,
		ExpiresAt: rec.ExpiresAt,
	}
	if !now.Before(rec.ExpiresAt) {
		info.IsExpired = true
		return info
	}

	remainingMs := rec.ExpiresAt.Sub(now).Milliseconds()
	info.DaysRemaining = int(remainingMs / (24 * 60 * 60 * 1000))
	remainingMs %= 24 * 60 * 60 * 1000
	info.HoursRemaining = int(remainingMs / (60 * 60 * 1000))
	remainingMs %= 60 * 60 * 1000
	info.MinutesRemaining = int(remainingMs / (60 * 1000))
	remainingMs %= 60 * 1000
	info.SecondsRemaining = int(remainingMs / 1000)
	return info
}
