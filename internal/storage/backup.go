package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Rotator keeps timestamped backups of named keys, pruning to the N most
// recent generations. Backups live in the same backend under
// "backup:<key>:<UTC timestamp>".
type Rotator struct {
	backend Backend
	keep    int
	now     func() time.Time
}

// NewRotator creates a rotator keeping the given number of generations
// per key. keep values below 1 are clamped to 1.
func NewRotator(backend Backend, keep int) *Rotator {
	if keep < 1 {
		keep = 1
	}
	return &Rotator{backend: backend, keep: keep, now: time.Now}
}

const backupStampLayout = "2006-01-02T15:04:05.000000000Z"

func backupPrefix(key string) string {
	return "backup:" + key + ":"
}

// Snapshot copies the current value of key into a new timestamped backup
// generation, then prunes old generations. A missing key is a no-op.
func (r *Rotator) Snapshot(key string) error {
	value, found, err := r.backend.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	// Fixed-width layout so generations sort lexicographically by time;
	// RFC3339Nano drops trailing zeros, which breaks that.
	stamp := r.now().UTC().Format(backupStampLayout)
	if err := r.backend.Set(backupPrefix(key)+stamp, value); err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", key, err)
	}
	return r.prune(key)
}

// Generations returns the backup timestamps for key, newest first.
func (r *Rotator) Generations(key string) ([]string, error) {
	keys, err := r.backend.Keys(backupPrefix(key))
	if err != nil {
		return nil, err
	}
	stamps := make([]string, 0, len(keys))
	for _, k := range keys {
		stamps = append(stamps, strings.TrimPrefix(k, backupPrefix(key)))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(stamps)))
	return stamps, nil
}

// RestoreLatest writes the most recent backup generation back to key.
// Returns false when no backup exists.
func (r *Rotator) RestoreLatest(key string) (bool, error) {
	stamps, err := r.Generations(key)
	if err != nil {
		return false, err
	}
	if len(stamps) == 0 {
		return false, nil
	}

	value, found, err := r.backend.Get(backupPrefix(key) + stamps[0])
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("backup generation %s disappeared", stamps[0])
	}
	if err := r.backend.Set(key, value); err != nil {
		return false, fmt.Errorf("failed to restore %s: %w", key, err)
	}
	return true, nil
}

func (r *Rotator) prune(key string) error {
	stamps, err := r.Generations(key)
	if err != nil {
		return err
	}
	for _, stamp := range stamps[min(r.keep, len(stamps)):] {
		if err := r.backend.Delete(backupPrefix(key) + stamp); err != nil {
			return fmt.Errorf("failed to prune backup of %s: %w", key, err)
		}
	}
	return nil
}
