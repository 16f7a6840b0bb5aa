// Package queue provides the durable local mutation queue used while offline.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// ErrItemNotFound is returned when an id does not exist in the queue.
var ErrItemNotFound = errors.New("queue item not found")

// StatusUpdate carries the fields a status transition writes.
type StatusUpdate struct {
	Status     models.Status
	RetryCount int
	LastError  string
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Statuses   []models.Status
	EntityType string
	TenantID   string
	Limit      int
}

// Store is the durable queue table. Every method is atomic for a single item;
// no cross-item transactions are offered.
type Store interface {
	// Insert persists a new item and returns its id. Ids are assigned
	// monotonically and never reused.
	Insert(ctx context.Context, item *models.QueueItem) (int64, error)

	// Get returns one item by id.
	Get(ctx context.Context, id int64) (*models.QueueItem, error)

	// Claim moves an item from pending or error to syncing. It returns false
	// when the item is not claimable (already syncing, terminal, or gone).
	Claim(ctx context.Context, id int64) (bool, error)

	// UpdateStatus writes a status transition for one item.
	UpdateStatus(ctx context.Context, id int64, update StatusUpdate) error

	// SelectBatch returns up to limit items in one of statuses with
	// retry_count < retryCountLessThan, oldest first.
	SelectBatch(ctx context.Context, statuses []models.Status, retryCountLessThan, limit int) ([]*models.QueueItem, error)

	// CountByStatus counts items in any of statuses.
	CountByStatus(ctx context.Context, statuses ...models.Status) (int, error)

	// CountDue counts pending/error items still under maxRetries.
	CountDue(ctx context.Context, maxRetries int) (int, error)

	// DeleteOlderThan removes items in status enqueued before the cutoff.
	DeleteOlderThan(ctx context.Context, status models.Status, before time.Time) (int64, error)

	// DeleteByStatus removes every item in status.
	DeleteByStatus(ctx context.Context, status models.Status) (int64, error)

	// RecoverInFlight resets items left in syncing by a previous process to pending.
	RecoverInFlight(ctx context.Context) (int64, error)

	// List returns items matching filter, oldest first.
	List(ctx context.Context, filter ListFilter) ([]*models.QueueItem, error)
}

// DueStatuses are the statuses a sweep selects from.
var DueStatuses = []models.Status{models.StatusPending, models.StatusError}
