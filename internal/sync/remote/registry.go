package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// ErrNotRegistered is returned by Dispatch for an entity type with no adapter.
// It is always permanent.
var ErrNotRegistered = apperrors.New(apperrors.ErrAdapterNotRegistered, "no remote adapter registered")

// Registry maps entity types to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register binds entityType to adapter, replacing any previous binding.
func (r *Registry) Register(entityType string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[entityType] = adapter
}

// Lookup returns the adapter for entityType.
func (r *Registry) Lookup(entityType string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[entityType]
	return a, ok
}

// EntityTypes returns the registered entity types, sorted.
func (r *Registry) EntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch performs the one remote call matching item.Operation.
func (r *Registry) Dispatch(ctx context.Context, item *models.QueueItem) error {
	adapter, ok := r.Lookup(item.EntityType)
	if !ok {
		return Permanent(fmt.Errorf("entity type %q: %w", item.EntityType, ErrNotRegistered))
	}

	req := Request{
		EntityType: item.EntityType,
		RemoteID:   item.RemoteID,
		TenantID:   item.TenantID,
		Payload:    item.Payload,
	}

	switch item.Operation {
	case models.OperationCreate:
		return adapter.Create(ctx, req)
	case models.OperationUpdate:
		return adapter.Update(ctx, req)
	case models.OperationDelete:
		return adapter.Delete(ctx, req)
	default:
		return Permanent(apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", item.Operation))
	}
}
