// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libfieldsync.so (Android) / fieldsync.framework (iOS).
//
// The exported C functions in exports.go are thin wrappers over the bridge
// below; every result crosses the boundary as a JSON string.
package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/kimhsiao/fieldsync/backend/internal/config"
	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/services"
)

// bridge holds the single engine a host process embeds.
type bridge struct {
	mu      sync.Mutex
	rt      *services.Runtime
	ctx     context.Context
	cancel  context.CancelFunc
	lastErr string
	lastMu  sync.RWMutex
}

var core = &bridge{}

func (b *bridge) setLastError(err error) {
	b.lastMu.Lock()
	defer b.lastMu.Unlock()
	if err == nil {
		b.lastErr = ""
		return
	}
	data, _ := json.Marshal(apperrors.ToResponse(err))
	b.lastErr = string(data)
}

func (b *bridge) lastError() string {
	b.lastMu.RLock()
	defer b.lastMu.RUnlock()
	return b.lastErr
}

// runtime returns the open runtime or records SERVICE_NOT_INITIALIZED.
func (b *bridge) runtime() (*services.Runtime, context.Context, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rt == nil {
		b.setLastError(apperrors.New(apperrors.ErrServiceNotInitialized, "call Init first"))
		return nil, nil, false
	}
	return b.rt, b.ctx, true
}

// open starts the engine from an optional config file and data dir. A second
// call while open is a no-op.
func (b *bridge) open(configPath, dataDir string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rt != nil {
		return true
	}

	cfg, err := loadConfig(configPath, dataDir)
	if err != nil {
		b.setLastError(err)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := services.Open(ctx, cfg)
	if err != nil {
		cancel()
		b.setLastError(err)
		return false
	}
	if err := rt.Start(ctx); err != nil {
		rt.Close()
		cancel()
		b.setLastError(err)
		return false
	}

	b.rt, b.ctx, b.cancel = rt, ctx, cancel
	b.setLastError(nil)
	logging.Info("Mobile bridge initialized", map[string]interface{}{"data_dir": cfg.DataDir})
	return true
}

func loadConfig(configPath, dataDir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	// The host app owns connectivity on mobile and reports it through SetNetworkState.
	if cfg.Network.Mode == "" {
		cfg.Network.Mode = config.NetworkManual
	}
	return cfg, cfg.Validate()
}

// enqueue records a mutation and returns {"id":n}.
func (b *bridge) enqueue(op, entityType, payloadJSON, tenantID string) string {
	rt, ctx, ok := b.runtime()
	if !ok {
		return ""
	}

	payload := map[string]interface{}{}
	if strings.TrimSpace(payloadJSON) != "" {
		dec := json.NewDecoder(strings.NewReader(payloadJSON))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			b.setLastError(apperrors.Wrap(apperrors.ErrInvalid, "payload must be a JSON object", err))
			return ""
		}
	}

	id, err := rt.Sync.Enqueue(ctx, models.Operation(op), entityType, payload, tenantID)
	if err != nil {
		b.setLastError(err)
		return ""
	}
	return b.marshal(map[string]interface{}{"id": id})
}

func (b *bridge) status() string {
	rt, ctx, ok := b.runtime()
	if !ok {
		return ""
	}
	st, err := rt.Sync.Status(ctx)
	if err != nil {
		b.setLastError(err)
		return ""
	}
	return b.marshal(st)
}

// setNetworkState reports host connectivity. Returns false on error.
func (b *bridge) setNetworkState(online bool) bool {
	rt, _, ok := b.runtime()
	if !ok {
		return false
	}
	if err := rt.SetOnline(online); err != nil {
		b.setLastError(err)
		return false
	}
	return true
}

// forceSync runs a sweep now and returns the resulting status.
func (b *bridge) forceSync() string {
	rt, ctx, ok := b.runtime()
	if !ok {
		return ""
	}
	if err := rt.Sync.ForceSync(ctx); err != nil {
		b.setLastError(err)
		return ""
	}
	return b.status()
}

func (b *bridge) clearFailed() string {
	rt, ctx, ok := b.runtime()
	if !ok {
		return ""
	}
	n, err := rt.Sync.ClearFailedItems(ctx)
	if err != nil {
		b.setLastError(err)
		return ""
	}
	return b.marshal(map[string]interface{}{"cleared": n})
}

// shutdown stops the engine. Queued items stay on disk for the next Init.
func (b *bridge) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rt == nil {
		return
	}
	b.cancel()
	b.rt.Close()
	b.rt, b.ctx, b.cancel = nil, nil, nil
}

func (b *bridge) marshal(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		b.setLastError(apperrors.Wrap(apperrors.ErrInternal, "serialize result", err))
		return ""
	}
	return string(data)
}

func main() {
	// Required for c-shared build mode; not executed when loaded as a library.
}
