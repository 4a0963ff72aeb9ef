// Package config loads daemon configuration as three layers: built-in
// defaults, an optional YAML file, then environment variables (prefix
// LPV_). Environment always wins over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete daemon configuration.
type Config struct {
	Environment string          `yaml:"environment" envconfig:"ENVIRONMENT"`
	Server      ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths       PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Vault       VaultConfig     `yaml:"vault" envconfig:"VAULT"`
	Licensing   LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
}

// ServerConfig contains the localhost HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`

	// UnlockRPS/UnlockBurst bound the unlock endpoint; the vault's own
	// attempt counter and lockout deadline are layered on top.
	UnlockRPS   float64 `yaml:"unlock_rps" envconfig:"UNLOCK_RPS"`
	UnlockBurst int     `yaml:"unlock_burst" envconfig:"UNLOCK_BURST"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths.
type PathsConfig struct {
	DataDir   string `yaml:"data_dir" envconfig:"DATA_DIR"`
	StoreFile string `yaml:"store_file" envconfig:"STORE_FILE"`
}

// VaultConfig contains vault cryptography and lockout policy.
type VaultConfig struct {
	// KDFIterations is fixed by the on-disk format; changing it invalidates
	// every existing vault.
	KDFIterations   int           `yaml:"kdf_iterations" envconfig:"KDF_ITERATIONS"`
	MaxAttempts     int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	LockoutDuration time.Duration `yaml:"lockout_duration" envconfig:"LOCKOUT_DURATION"`
	BackupKeep      int           `yaml:"backup_keep" envconfig:"BACKUP_KEEP"`
}

// LicensingConfig contains licensing API and signature settings.
type LicensingConfig struct {
	APIBaseURL     string        `yaml:"api_base_url" envconfig:"API_BASE_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	SharedSecret   string        `yaml:"shared_secret" envconfig:"SHARED_SECRET"`
	TrialDays      int           `yaml:"trial_days" envconfig:"TRIAL_DAYS"`

	// AllowUnsigned accepts records without a signature. Development escape
	// hatch only; Load refuses it when Environment is production.
	AllowUnsigned bool `yaml:"allow_unsigned" envconfig:"ALLOW_UNSIGNED"`
}

// defaults returns the built-in configuration the file and environment
// layers overlay. Kept programmatic rather than in struct tags: envconfig
// default tags fire whenever the env var is unset, which would clobber
// values read from the file.
func defaults() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8742,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			UnlockRPS:       2,
			UnlockBurst:     5,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: filepath.Join("logs", "vaultd.log"),
		},
		Paths: PathsConfig{
			DataDir:   "data",
			StoreFile: "vault.db",
		},
		Vault: VaultConfig{
			KDFIterations:   100000,
			MaxAttempts:     5,
			LockoutDuration: 30 * time.Second,
			BackupKeep:      3,
		},
		Licensing: LicensingConfig{
			APIBaseURL:     "https://licensing.lpvault.app",
			RequestTimeout: 15 * time.Second,
			TrialDays:      7,
		},
	}
}

// Load loads configuration from environment variables and an optional
// config file next to the data directory.
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom loads configuration: defaults first, then the YAML file at path
// (when it exists), then environment variables on top. Without default
// tags envconfig only assigns fields whose LPV_ variable is actually set,
// so file values survive a silent environment.
func LoadFrom(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := applyFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	if err := envconfig.Process("LPV", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyFile overlays the YAML file onto cfg. Only keys present in the file
// overwrite; absent keys keep their current value.
func applyFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) validate() error {
	if c.Vault.KDFIterations < 100000 {
		return fmt.Errorf("vault.kdf_iterations must be at least 100000, got %d", c.Vault.KDFIterations)
	}
	if c.Vault.MaxAttempts < 1 {
		return fmt.Errorf("vault.max_attempts must be positive, got %d", c.Vault.MaxAttempts)
	}
	if c.Vault.LockoutDuration <= 0 {
		return fmt.Errorf("vault.lockout_duration must be positive, got %s", c.Vault.LockoutDuration)
	}
	if c.IsProduction() {
		if c.Licensing.AllowUnsigned {
			return fmt.Errorf("licensing.allow_unsigned must be disabled in production")
		}
		if c.Licensing.SharedSecret == "" {
			return fmt.Errorf("licensing.shared_secret is required in production")
		}
	}
	return nil
}

// IsProduction reports whether the daemon runs a production build profile.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StorePath returns the absolute path of the bbolt store file.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.StoreFile)
}

// ListenAddr returns the host:port the local API binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func configFilePath() string {
	if p := os.Getenv("LPV_CONFIG_FILE"); p != "" {
		return p
	}
	return "config.yaml"
}
