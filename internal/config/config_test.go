package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8742, cfg.Server.Port)
	assert.Equal(t, 100000, cfg.Vault.KDFIterations)
	assert.Equal(t, 5, cfg.Vault.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Vault.LockoutDuration)
	assert.Equal(t, 3, cfg.Vault.BackupKeep)
	assert.Equal(t, 7, cfg.Licensing.TrialDays)
	assert.False(t, cfg.Licensing.AllowUnsigned)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LPV_SERVER_PORT", "9000")
	t.Setenv("LPV_VAULT_MAX_ATTEMPTS", "3")
	t.Setenv("LPV_LICENSING_SHARED_SECRET", "test-secret")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Vault.MaxAttempts)
	assert.Equal(t, "test-secret", cfg.Licensing.SharedSecret)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment: development
server:
  port: 9100
licensing:
  shared_secret: file-secret
  api_base_url: https://licensing.example.test
paths:
  data_dir: /var/lib/lpvault
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Licensing.SharedSecret)
	assert.Equal(t, "https://licensing.example.test", cfg.Licensing.APIBaseURL)
	assert.Equal(t, "/var/lib/lpvault", cfg.Paths.DataDir)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Vault.MaxAttempts)
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\nlicensing:\n  shared_secret: file-secret\n"), 0o600))

	t.Setenv("LPV_SERVER_PORT", "9200")
	t.Setenv("LPV_LICENSING_SHARED_SECRET", "env-secret")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Licensing.SharedSecret)
}

func TestProductionRejectsUnsignedBypass(t *testing.T) {
	t.Setenv("LPV_ENVIRONMENT", "production")
	t.Setenv("LPV_LICENSING_SHARED_SECRET", "prod-secret")
	t.Setenv("LPV_LICENSING_ALLOW_UNSIGNED", "true")

	_, err := LoadFrom("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_unsigned")
}

func TestProductionRequiresSharedSecret(t *testing.T) {
	t.Setenv("LPV_ENVIRONMENT", "production")

	_, err := LoadFrom("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared_secret")
}

func TestValidationRejectsWeakKDF(t *testing.T) {
	t.Setenv("LPV_VAULT_KDF_ITERATIONS", "1000")

	_, err := LoadFrom("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kdf_iterations")
}

func TestStorePathJoinsDataDir(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "vault.db"), cfg.StorePath())
	assert.Equal(t, "127.0.0.1:8742", cfg.ListenAddr())
}
