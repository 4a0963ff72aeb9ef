package vault

import (
	"strconv"
	"sync"
	"time"

	"lpvault/internal/storage"
)

// AttemptLimiter tracks consecutive failed unlock attempts and the lockout
// deadline. Both are persisted so a lockout survives a process restart:
// the deadline is a wall-clock epoch-millisecond value, not an in-memory
// timer.
type AttemptLimiter struct {
	backend     storage.Backend
	maxAttempts int
	lockout     time.Duration

	mu  sync.Mutex
	now func() time.Time
}

// NewAttemptLimiter creates a limiter with the given policy, canonically 5
// attempts and a 30 second lockout.
func NewAttemptLimiter(backend storage.Backend, maxAttempts int, lockout time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		backend:     backend,
		maxAttempts: maxAttempts,
		lockout:     lockout,
		now:         time.Now,
	}
}

// RecordFailedAttempt increments the failure counter. Reaching the limit
// arms the persisted lockout deadline and resets the counter; the return
// value reports whether this call armed it.
func (l *AttemptLimiter) RecordFailedAttempt() (lockedNow bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	attempts, err := l.loadAttempts()
	if err != nil {
		return false, err
	}
	attempts++

	if attempts >= l.maxAttempts {
		deadline := l.now().Add(l.lockout).UnixMilli()
		if err := l.backend.Set(storage.KeyVaultLockout, strconv.FormatInt(deadline, 10)); err != nil {
			return false, err
		}
		if err := l.backend.Delete(storage.KeyVaultAttempts); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, l.backend.Set(storage.KeyVaultAttempts, strconv.Itoa(attempts))
}

// Status reports whether a lockout is active and the remaining whole
// seconds. An expired deadline is cleared as a side effect.
func (l *AttemptLimiter) Status() (locked bool, remainingSeconds int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, found, err := l.backend.Get(storage.KeyVaultLockout)
	if err != nil {
		return false, 0, err
	}
	if !found {
		return false, 0, nil
	}

	deadline, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		// Unreadable deadline: clear it rather than locking the user out
		// forever.
		return false, 0, l.backend.Delete(storage.KeyVaultLockout)
	}

	remainingMs := deadline - l.now().UnixMilli()
	if remainingMs <= 0 {
		return false, 0, l.backend.Delete(storage.KeyVaultLockout)
	}

	// Round up so the UI never shows 0 seconds while still locked.
	return true, int((remainingMs + 999) / 1000), nil
}

// Reset clears the failure counter. Called only on successful unlock.
func (l *AttemptLimiter) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend.Delete(storage.KeyVaultAttempts)
}

func (l *AttemptLimiter) loadAttempts() (int, error) {
	raw, found, err := l.backend.Get(storage.KeyVaultAttempts)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	attempts, parseErr := strconv.Atoi(raw)
	if parseErr != nil {
		return 0, nil
	}
	return attempts, nil
}
