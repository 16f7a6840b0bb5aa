// Package config loads FieldSync settings from a config file and
// FIELDSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kimhsiao/fieldsync/backend/internal/crypto"
	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/retry"
)

// EnvPrefix is the prefix of environment overrides, e.g. FIELDSYNC_SYNC_BATCH_SIZE.
const EnvPrefix = "FIELDSYNC"

// Network observer modes.
const (
	NetworkManual = "manual"
	NetworkProbe  = "probe"
	NetworkFile   = "file"
)

// Remote backend kinds.
const (
	RemoteNone     = "none"
	RemoteHTTP     = "http"
	RemoteS3       = "s3"
	RemotePostgres = "postgres"
)

// Config holds all FieldSync settings.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Network  NetworkConfig  `mapstructure:"network"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	S3       S3Config       `mapstructure:"s3"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// SyncConfig tunes the sweep loop.
type SyncConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Interval   time.Duration `mapstructure:"interval"`
	Retention  time.Duration `mapstructure:"retention"`
}

// NetworkConfig selects how connectivity is observed.
type NetworkConfig struct {
	Mode string `mapstructure:"mode"`
	// Online is the initial state in manual mode.
	Online        bool          `mapstructure:"online"`
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	StateFile     string        `mapstructure:"state_file"`
}

// RemoteConfig selects and configures the remote backend.
type RemoteConfig struct {
	Kind    string `mapstructure:"kind"`
	BaseURL string `mapstructure:"base_url"`
	// APIKey may be plain text, "enc:<ciphertext>" or "keyring:<account>".
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	// Entities lists entity types as "entity" or "entity:collection".
	Entities []string `mapstructure:"entities"`
	IDField  string   `mapstructure:"id_field"`
}

// S3Config configures the object-store backend.
type S3Config struct {
	Provider  string `mapstructure:"provider"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	AccountID string `mapstructure:"account_id"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PathStyle bool   `mapstructure:"path_style"`
	Prefix    string `mapstructure:"prefix"`
}

// PostgresConfig configures the direct-to-database backend.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	IDColumn     string `mapstructure:"id_column"`
	TenantColumn string `mapstructure:"tenant_column"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// ServerConfig configures the desktop HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultDataDir returns ~/.fieldsync, or ./.fieldsync when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fieldsync"
	}
	return filepath.Join(home, ".fieldsync")
}

func setDefaults(v *viper.Viper) {
	policy := retry.DefaultPolicy()

	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("sync.batch_size", 10)
	v.SetDefault("sync.max_retries", policy.MaxRetries)
	v.SetDefault("sync.base_delay", policy.BaseDelay)
	v.SetDefault("sync.max_delay", policy.MaxDelay)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.retention", 24*time.Hour)

	v.SetDefault("network.mode", NetworkManual)
	v.SetDefault("network.online", false)
	v.SetDefault("network.probe_url", "")
	v.SetDefault("network.probe_interval", 30*time.Second)
	v.SetDefault("network.state_file", "")

	v.SetDefault("remote.kind", RemoteNone)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("remote.rate_limit", 0)
	v.SetDefault("remote.entities", []string{})
	v.SetDefault("remote.id_field", "id")

	v.SetDefault("s3.provider", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.account_id", "")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.path_style", false)
	v.SetDefault("s3.prefix", "fieldsync")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.id_column", "id")
	v.SetDefault("postgres.tenant_column", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("server.addr", "127.0.0.1:8090")
}

// Default returns the configuration with no file and no environment applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration. When path is empty it looks for fieldsync.{yaml,toml,json}
// in the working directory and the default data dir; a missing file is not an error.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fieldsync")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "read config", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "decode config", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the selected modes depend on.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return apperrors.New(apperrors.ErrConfig, "data_dir is required")
	}
	if c.Sync.BatchSize < 0 || c.Sync.MaxRetries < 0 {
		return apperrors.New(apperrors.ErrConfig, "sync.batch_size and sync.max_retries must not be negative")
	}

	switch c.Network.Mode {
	case NetworkManual:
	case NetworkProbe:
		if c.Network.ProbeURL == "" {
			return apperrors.New(apperrors.ErrConfig, "network.probe_url is required in probe mode")
		}
	case NetworkFile:
		if c.Network.StateFile == "" {
			return apperrors.New(apperrors.ErrConfig, "network.state_file is required in file mode")
		}
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown network.mode %q", c.Network.Mode)
	}

	switch c.Remote.Kind {
	case RemoteNone, "":
	case RemoteHTTP:
		if c.Remote.BaseURL == "" {
			return apperrors.New(apperrors.ErrConfig, "remote.base_url is required for http remotes")
		}
	case RemoteS3:
		if c.S3.Bucket == "" {
			return apperrors.New(apperrors.ErrConfig, "s3.bucket is required for s3 remotes")
		}
	case RemotePostgres:
		if c.Postgres.DSN == "" {
			return apperrors.New(apperrors.ErrConfig, "postgres.dsn is required for postgres remotes")
		}
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown remote.kind %q", c.Remote.Kind)
	}
	if c.Remote.Kind != RemoteNone && c.Remote.Kind != "" && len(c.Remote.EntityMap()) == 0 {
		return apperrors.Newf(apperrors.ErrConfig, "remote.entities must list at least one entity for %s remotes", c.Remote.Kind)
	}
	return nil
}

// EntityMap maps each configured entity type to its remote collection or
// table name. An entry without ":" maps to itself.
func (r RemoteConfig) EntityMap() map[string]string {
	m := make(map[string]string, len(r.Entities))
	for _, entry := range r.Entities {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		entity, target, ok := strings.Cut(entry, ":")
		if !ok || target == "" {
			target = entity
		}
		m[entity] = target
	}
	return m
}

// Secret resolves a credential value: "enc:" values are decrypted with the
// machine key, "keyring:<account>" values are read from the keyring
// under the data dir, anything else is returned as is.
func (c *Config) Secret(value string) (string, error) {
	if account, ok := strings.CutPrefix(value, crypto.KeyringPrefix); ok {
		secret, err := crypto.NewKeyring(c.DataDir).Get(account)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrConfig, fmt.Sprintf("read credential %q", account), err)
		}
		return secret, nil
	}
	secret, err := crypto.OpenSecret(value, crypto.MachineID())
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrConfig, "decrypt secret", err)
	}
	return secret, nil
}
