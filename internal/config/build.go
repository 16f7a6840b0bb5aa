package config

import (
	"context"

	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	syncsvc "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/network"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/remote"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/remote/postgres"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/retry"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/s3"
)

// LoggingOptions returns logger options for the configured level and file.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level: logging.ParseLevel(c.Log.Level),
		File:  c.Log.File,
	}
}

// SyncOptions returns service options. Metrics, clock and id generator are
// left for the caller.
func (c *Config) SyncOptions() syncsvc.Options {
	return syncsvc.Options{
		BatchSize: c.Sync.BatchSize,
		Policy: retry.Policy{
			BaseDelay:  c.Sync.BaseDelay,
			MaxDelay:   c.Sync.MaxDelay,
			MaxRetries: c.Sync.MaxRetries,
		},
		Interval:  c.Sync.Interval,
		Retention: c.Sync.Retention,
		IDField:   c.Remote.IDField,
	}
}

// Observer is the configured network observer together with its lifecycle.
type Observer struct {
	network.Observer
	manual *network.Manual
	stop   func()
}

// Manual returns the underlying manual observer in manual mode.
func (o *Observer) Manual() (*network.Manual, bool) {
	return o.manual, o.manual != nil
}

// Stop releases the observer's background work and closes its subscriptions.
func (o *Observer) Stop() {
	if o.stop != nil {
		o.stop()
	}
}

// OpenObserver builds and starts the observer selected by network.mode.
func (c *Config) OpenObserver(ctx context.Context) (*Observer, error) {
	switch c.Network.Mode {
	case NetworkProbe:
		probe := network.NewProbe(c.Network.ProbeURL, network.WithProbeInterval(c.Network.ProbeInterval))
		probe.Start(ctx)
		return &Observer{Observer: probe, stop: probe.Stop}, nil

	case NetworkFile:
		file, err := network.NewFile(c.Network.StateFile)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "open network state file", err)
		}
		if err := file.Start(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "watch network state file", err)
		}
		return &Observer{Observer: file, stop: func() { _ = file.Stop() }}, nil

	default:
		manual := network.NewManual(c.Network.Online)
		return &Observer{Observer: manual, manual: manual, stop: manual.Close}, nil
	}
}

// Remote is the configured adapter registry and the connections behind it.
type Remote struct {
	*remote.Registry
	close func()
}

// Close releases backend connections.
func (r *Remote) Close() {
	if r.close != nil {
		r.close()
	}
}

// OpenRemote builds the adapter registry for remote.kind, registering one
// adapter per entry of remote.entities.
func (c *Config) OpenRemote(ctx context.Context) (*Remote, error) {
	registry := remote.NewRegistry()
	r := &Remote{Registry: registry}
	entities := c.Remote.EntityMap()

	var adapter remote.Adapter
	switch c.Remote.Kind {
	case RemoteHTTP:
		apiKey, err := c.Secret(c.Remote.APIKey)
		if err != nil {
			return nil, err
		}
		a, err := remote.NewHTTPAdapter(remote.HTTPConfig{
			BaseURL:     c.Remote.BaseURL,
			APIKey:      apiKey,
			Timeout:     c.Remote.Timeout,
			RateLimit:   c.Remote.RateLimit,
			Collections: entities,
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "http remote", err)
		}
		adapter = a

	case RemoteS3:
		secretKey, err := c.Secret(c.S3.SecretKey)
		if err != nil {
			return nil, err
		}
		client, err := s3.Open(s3.ProviderConfig{
			Provider:  c.S3.Provider,
			Endpoint:  c.S3.Endpoint,
			Bucket:    c.S3.Bucket,
			AccessKey: c.S3.AccessKey,
			SecretKey: secretKey,
			Region:    c.S3.Region,
			AccountID: c.S3.AccountID,
			UseSSL:    c.S3.UseSSL,
			PathStyle: c.S3.PathStyle,
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "s3 remote", err)
		}
		adapter = remote.NewObjectAdapter(client, c.S3.Prefix)

	case RemotePostgres:
		dsn, err := c.Secret(c.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, dsn)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSyncNotConfigured, "postgres remote", err)
		}
		a, err := postgres.New(pool, postgres.Options{
			Tables:       entities,
			IDColumn:     c.Postgres.IDColumn,
			TenantColumn: c.Postgres.TenantColumn,
		})
		if err != nil {
			pool.Close()
			return nil, apperrors.Wrap(apperrors.ErrConfig, "postgres remote", err)
		}
		adapter = a
		r.close = pool.Close

	default:
		logging.Warn("No remote configured, queued items will fail as unregistered", nil)
		return r, nil
	}

	for entityType := range entities {
		registry.Register(entityType, adapter)
	}
	return r, nil
}
