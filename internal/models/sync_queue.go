// Package models provides data model definitions for the FieldSync queue.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of remote mutation a queue item performs.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// NeedsRemoteID reports whether the operation addresses an existing remote record.
func (op Operation) NeedsRemoteID() bool {
	return op == OperationUpdate || op == OperationDelete
}

// Status is the lifecycle state of a queue item.
//
//	pending/error -> syncing -> synced | error | failed
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
	StatusFailed  Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusSyncing, StatusSynced, StatusError, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusError, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition happens from s.
func (s Status) IsTerminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// Millis is a time stored as unix milliseconds.
type Millis time.Time

// Value implements driver.Valuer for Millis.
func (m Millis) Value() (driver.Value, error) {
	return time.Time(m).UnixMilli(), nil
}

// Scan implements sql.Scanner for Millis.
func (m *Millis) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = Millis(time.Time{})
	case int64:
		*m = Millis(time.UnixMilli(v))
	default:
		return fmt.Errorf("cannot scan %T into Millis", value)
	}
	return nil
}

// Time returns m as a time.Time.
func (m Millis) Time() time.Time {
	return time.Time(m)
}

// QueueItem is one durable record of a local mutation awaiting remote sync.
type QueueItem struct {
	ID         int64           `db:"id" json:"id"`
	Operation  Operation       `db:"operation" json:"operation"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	RemoteID   string          `db:"remote_id" json:"remote_id,omitempty"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	TenantID   string          `db:"tenant_id" json:"tenant_id,omitempty"`
	EnqueuedAt time.Time       `db:"enqueued_at" json:"enqueued_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
	Status     Status          `db:"status" json:"status"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "sync_queue"
}

// PayloadMap decodes the payload into a generic map.
func (item *QueueItem) PayloadMap() (map[string]interface{}, error) {
	if len(item.Payload) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(item.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return m, nil
}
