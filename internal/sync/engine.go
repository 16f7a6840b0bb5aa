// Package sync is the offline-first synchronization engine: it persists
// local mutations in a durable queue and pushes them to the remote backend
// whenever the device is online.
package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// SyncStatus is the read-side projection of the queue shown to users.
type SyncStatus struct {
	// PendingCount is work not yet confirmed remote (pending + syncing).
	PendingCount int `json:"pending_count" yaml:"pending_count"`
	// ErrorCount is work needing attention (error + failed).
	ErrorCount     int  `json:"error_count" yaml:"error_count"`
	IsOnline       bool `json:"is_online" yaml:"is_online"`
	SyncInProgress bool `json:"sync_in_progress" yaml:"sync_in_progress"`
}

// SyncEventType names an event published to status subscribers.
type SyncEventType string

const (
	EventStatus    SyncEventType = "sync.status"
	EventCompleted SyncEventType = "sync.completed"
	EventFailed    SyncEventType = "sync.failed"
)

// SyncEvent is one notification to status subscribers.
type SyncEvent struct {
	Type   SyncEventType `json:"type"`
	Status SyncStatus    `json:"status"`
	Result *SweepResult  `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	At     time.Time     `json:"at"`
}

// Engine is the surface the CLI, desktop server and mobile bridge drive.
// This interface allows for mocking in tests.
type Engine interface {
	// Enqueue durably records a mutation and returns its queue id.
	Enqueue(ctx context.Context, op models.Operation, entityType string, payload map[string]interface{}, tenantID string) (int64, error)

	// Status returns the current queue counts and flags.
	Status(ctx context.Context) (SyncStatus, error)

	// ForceSync runs a sweep now. It is a no-op while offline.
	ForceSync(ctx context.Context) error

	// ClearFailedItems removes every failed item and returns how many were removed.
	ClearFailedItems(ctx context.Context) (int, error)

	// Subscribe streams status events until the returned func is called.
	Subscribe() (<-chan SyncEvent, func())
}

var _ Engine = (*Service)(nil)
