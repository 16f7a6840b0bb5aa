// Package services assembles a running FieldSync engine from configuration.
// The CLI, the desktop server and the mobile bridge all start through here.
package services

import (
	"context"

	"github.com/kimhsiao/fieldsync/backend/internal/config"
	"github.com/kimhsiao/fieldsync/backend/internal/db"
	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	syncsvc "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fieldsync/backend/internal/telemetry"
)

// Runtime owns every long-lived dependency of the sync engine.
type Runtime struct {
	Config   *config.Config
	DB       *db.DB
	Store    *queue.SQLiteStore
	Observer *config.Observer
	Remote   *config.Remote
	Metrics  *telemetry.Metrics
	Sync     *syncsvc.Service
}

// Open wires a Runtime from cfg: it installs the global logger, opens and
// migrates the queue database, and builds the observer, the remote registry
// and the sync service. Background syncing starts with Start.
func Open(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "config is required")
	}
	logging.SetGlobal(logging.NewWithOptions(cfg.LoggingOptions()))

	r := &Runtime{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	database, err := db.OpenMigrated(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "open queue database", err)
	}
	r.DB = database
	r.Store = queue.NewSQLiteStore(database.DB)

	if r.Observer, err = cfg.OpenObserver(ctx); err != nil {
		return nil, err
	}
	if r.Remote, err = cfg.OpenRemote(ctx); err != nil {
		return nil, err
	}

	r.Metrics = telemetry.New()

	opts := cfg.SyncOptions()
	opts.Metrics = r.Metrics
	if r.Sync, err = syncsvc.NewService(r.Store, r.Observer, r.Remote, opts); err != nil {
		return nil, err
	}

	logging.Info("Runtime opened", map[string]interface{}{
		"data_dir":     cfg.DataDir,
		"network_mode": cfg.Network.Mode,
		"remote_kind":  cfg.Remote.Kind,
		"entities":     r.Remote.EntityTypes(),
	})
	ok = true
	return r, nil
}

// Start begins background syncing.
func (r *Runtime) Start(ctx context.Context) error {
	return r.Sync.Initialize(ctx)
}

// SetOnline flips the connectivity flag. Only the manual network mode can be
// driven this way; the probe and file modes observe the network themselves.
func (r *Runtime) SetOnline(online bool) error {
	manual, ok := r.Observer.Manual()
	if !ok {
		return apperrors.Newf(apperrors.ErrConfig, "network mode %q cannot be set manually", r.Config.Network.Mode)
	}
	if manual.Set(online) {
		logging.Info("Network state set", map[string]interface{}{"online": online})
	}
	return nil
}

// Close stops syncing and releases resources in reverse order of Open.
// It is safe on a partially opened Runtime.
func (r *Runtime) Close() {
	if r.Sync != nil {
		r.Sync.Shutdown()
	}
	if r.Observer != nil {
		r.Observer.Stop()
	}
	if r.Remote != nil {
		r.Remote.Close()
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			logging.Warn("Failed to close queue database", map[string]interface{}{"error": err.Error()})
		}
	}
}
