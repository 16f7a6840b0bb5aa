package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/fieldsync/backend/internal/crypto"
	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/network"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// =====================================================
// Loading
// =====================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Sync.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Sync.MaxDelay)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Sync.Retention)
	assert.Equal(t, NetworkManual, cfg.Network.Mode)
	assert.Equal(t, RemoteNone, cfg.Remote.Kind)
	assert.Equal(t, "id", cfg.Remote.IDField)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "fieldsync.yaml", `
data_dir: /var/lib/fieldsync
sync:
  batch_size: 25
  max_retries: 5
  base_delay: 2s
  interval: 1m
network:
  mode: probe
  probe_url: https://api.example.com/health
  probe_interval: 15s
remote:
  kind: http
  base_url: https://api.example.com
  api_key: plain-key
  rate_limit: 4
  entities:
    - land
    - cropHistory:crop_history
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "/var/lib/fieldsync", cfg.DataDir)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Sync.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Sync.MaxDelay, "unset keys keep defaults")
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, NetworkProbe, cfg.Network.Mode)
	assert.Equal(t, 15*time.Second, cfg.Network.ProbeInterval)
	assert.Equal(t, 4.0, cfg.Remote.RateLimit)
	assert.Equal(t, map[string]string{
		"land":        "land",
		"cropHistory": "crop_history",
	}, cfg.Remote.EntityMap())

	opts := cfg.SyncOptions()
	assert.Equal(t, 25, opts.BatchSize)
	assert.Equal(t, 5, opts.Policy.MaxRetries)
	assert.Equal(t, "id", opts.IDField)

	assert.Equal(t, logging.LevelDebug, cfg.LoggingOptions().Level)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "fieldsync.toml", `
data_dir = "/tmp/fs"

[network]
mode = "file"
state_file = "/tmp/fs/online"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, NetworkFile, cfg.Network.Mode)
	assert.Equal(t, "/tmp/fs/online", cfg.Network.StateFile)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "fieldsync.yaml", "sync:\n  batch_size: 25\n")
	t.Setenv("FIELDSYNC_SYNC_BATCH_SIZE", "7")
	t.Setenv("FIELDSYNC_SYNC_RETENTION", "48h")
	t.Setenv("FIELDSYNC_NETWORK_ONLINE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, 48*time.Hour, cfg.Sync.Retention)
	assert.True(t, cfg.Network.Online)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown network mode", func(c *Config) { c.Network.Mode = "carrier-pigeon" }},
		{"probe without url", func(c *Config) { c.Network.Mode = NetworkProbe }},
		{"file without path", func(c *Config) { c.Network.Mode = NetworkFile }},
		{"unknown remote", func(c *Config) { c.Remote.Kind = "ftp" }},
		{"http without base url", func(c *Config) {
			c.Remote.Kind = RemoteHTTP
			c.Remote.Entities = []string{"land"}
		}},
		{"http without entities", func(c *Config) {
			c.Remote.Kind = RemoteHTTP
			c.Remote.BaseURL = "https://api.example.com"
		}},
		{"s3 without bucket", func(c *Config) {
			c.Remote.Kind = RemoteS3
			c.Remote.Entities = []string{"land"}
		}},
		{"postgres without dsn", func(c *Config) {
			c.Remote.Kind = RemotePostgres
			c.Remote.Entities = []string{"land"}
		}},
		{"negative batch", func(c *Config) { c.Sync.BatchSize = -1 }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
		})
	}
}

// =====================================================
// Secrets
// =====================================================

func TestSecret(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()

	got, err := cfg.Secret("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	sealed, err := crypto.SealSecret("sealed-key", crypto.MachineID())
	require.NoError(t, err)
	got, err = cfg.Secret(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sealed-key", got)

	require.NoError(t, crypto.NewKeyring(cfg.DataDir).Store("api", "stored-key"))
	got, err = cfg.Secret("keyring:api")
	require.NoError(t, err)
	assert.Equal(t, "stored-key", got)

	_, err = cfg.Secret("keyring:missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))

	_, err = cfg.Secret("enc:not-base64!")
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

// =====================================================
// Builders
// =====================================================

func TestOpenObserver_Manual(t *testing.T) {
	cfg := Default()
	cfg.Network.Online = true

	obs, err := cfg.OpenObserver(context.Background())
	require.NoError(t, err)
	defer obs.Stop()

	assert.True(t, obs.Current().Online)
	manual, ok := obs.Manual()
	require.True(t, ok)
	manual.Set(false)
	assert.False(t, obs.Current().Online)
}

func TestOpenObserver_File(t *testing.T) {
	state := filepath.Join(t.TempDir(), "online")
	require.NoError(t, network.WriteState(state, true))

	cfg := Default()
	cfg.Network.Mode = NetworkFile
	cfg.Network.StateFile = state

	obs, err := cfg.OpenObserver(context.Background())
	require.NoError(t, err)
	defer obs.Stop()

	assert.True(t, obs.Current().Online)
	_, ok := obs.Manual()
	assert.False(t, ok)
}

func TestOpenRemote_None(t *testing.T) {
	r, err := Default().OpenRemote(context.Background())
	require.NoError(t, err)
	defer r.Close()

	assert.Empty(t, r.EntityTypes())
}

func TestOpenRemote_HTTP(t *testing.T) {
	cfg := Default()
	cfg.Remote.Kind = RemoteHTTP
	cfg.Remote.BaseURL = "https://api.example.com"
	cfg.Remote.Entities = []string{"land", "cropHistory:crop_history"}

	r, err := cfg.OpenRemote(context.Background())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"cropHistory", "land"}, r.EntityTypes())
}

func TestOpenRemote_S3(t *testing.T) {
	cfg := Default()
	cfg.Remote.Kind = RemoteS3
	cfg.Remote.Entities = []string{"land"}
	cfg.S3 = S3Config{
		Provider:  "minio",
		Endpoint:  "localhost:9000",
		Bucket:    "fieldsync",
		AccessKey: "minio",
		SecretKey: "minio123",
		Prefix:    "devices",
	}

	r, err := cfg.OpenRemote(context.Background())
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Lookup("land")
	assert.True(t, ok)
}

func TestOpenRemote_UnregisteredEntityFails(t *testing.T) {
	cfg := Default()
	cfg.Remote.Kind = RemoteHTTP
	cfg.Remote.BaseURL = "https://api.example.com"
	cfg.Remote.Entities = []string{"land"}

	r, err := cfg.OpenRemote(context.Background())
	require.NoError(t, err)

	err = r.Dispatch(context.Background(), &models.QueueItem{
		Operation:  models.OperationCreate,
		EntityType: "weather",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAdapterNotRegistered))
}
