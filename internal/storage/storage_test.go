package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]Backend{
		"bolt":   bolt,
		"memory": NewMemory(),
	}
}

func TestBackendContract(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := backend.Get("missing")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, backend.Set(KeyVaultSalt, "c2FsdA=="))
			v, found, err := backend.Get(KeyVaultSalt)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "c2FsdA==", v)

			// Overwrite.
			require.NoError(t, backend.Set(KeyVaultSalt, "b3RoZXI="))
			v, _, _ = backend.Get(KeyVaultSalt)
			assert.Equal(t, "b3RoZXI=", v)

			// Empty value is a present value.
			require.NoError(t, backend.Set(KeyVaultHint, ""))
			_, found, err = backend.Get(KeyVaultHint)
			require.NoError(t, err)
			assert.True(t, found)

			require.NoError(t, backend.Delete(KeyVaultSalt))
			_, found, _ = backend.Get(KeyVaultSalt)
			assert.False(t, found)

			// Deleting an absent key is fine.
			require.NoError(t, backend.Delete("never-existed"))
		})
	}
}

func TestBackendKeyPrefixScan(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Set("vault:a", "1"))
			require.NoError(t, backend.Set("vault:b", "2"))
			require.NoError(t, backend.Set("license:record", "3"))

			keys, err := backend.Keys("vault:")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"vault:a", "vault:b"}, keys)

			keys, err = backend.Keys("nothing:")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, b.Set(KeyVaultEntries, "ciphertext"))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()

	v, found, err := b.Get(KeyVaultEntries)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ciphertext", v)
}

func TestRotatorKeepsThreeMostRecent(t *testing.T) {
	backend := NewMemory()
	r := NewRotator(backend, 3)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		require.NoError(t, backend.Set("vault:entries", string(rune('a'+i))))
		require.NoError(t, r.Snapshot("vault:entries"))
	}

	stamps, err := r.Generations("vault:entries")
	require.NoError(t, err)
	require.Len(t, stamps, 3)

	// Newest first: snapshots of values e, d, c survive.
	v, found, err := backend.Get(backupPrefix("vault:entries") + stamps[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "e", v)
}

func TestRotatorRestoreLatest(t *testing.T) {
	backend := NewMemory()
	r := NewRotator(backend, 3)

	require.NoError(t, backend.Set("vault:entries", "good"))
	require.NoError(t, r.Snapshot("vault:entries"))
	require.NoError(t, backend.Set("vault:entries", "corrupted"))

	restored, err := r.RestoreLatest("vault:entries")
	require.NoError(t, err)
	assert.True(t, restored)

	v, _, _ := backend.Get("vault:entries")
	assert.Equal(t, "good", v)
}

func TestRotatorRestoreWithoutBackups(t *testing.T) {
	r := NewRotator(NewMemory(), 3)
	restored, err := r.RestoreLatest("vault:entries")
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestRotatorSnapshotOfMissingKeyIsNoop(t *testing.T) {
	backend := NewMemory()
	r := NewRotator(backend, 3)
	require.NoError(t, r.Snapshot("vault:entries"))

	stamps, err := r.Generations("vault:entries")
	require.NoError(t, err)
	assert.Empty(t, stamps)
}
