// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================================
// Operation / Status Tests
// =====================================================

func TestOperation_Valid(t *testing.T) {
	assert.True(t, OperationCreate.Valid())
	assert.True(t, OperationUpdate.Valid())
	assert.True(t, OperationDelete.Valid())
	assert.False(t, Operation("upsert").Valid())
	assert.False(t, Operation("").Valid())
}

func TestOperation_NeedsRemoteID(t *testing.T) {
	assert.False(t, OperationCreate.NeedsRemoteID())
	assert.True(t, OperationUpdate.NeedsRemoteID())
	assert.True(t, OperationDelete.NeedsRemoteID())
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusSyncing, false},
		{StatusError, false},
		{StatusSynced, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}

	assert.False(t, Status("done").Valid())
}

// =====================================================
// Millis Tests
// =====================================================

func TestMillis_ValueScan(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

	v, err := Millis(ts).Value()
	require.NoError(t, err)
	assert.Equal(t, ts.UnixMilli(), v)

	var m Millis
	require.NoError(t, m.Scan(v))
	assert.True(t, ts.Equal(m.Time()))
}

func TestMillis_Scan_nil(t *testing.T) {
	m := Millis(time.Now())
	require.NoError(t, m.Scan(nil))
	assert.True(t, m.Time().IsZero())
}

func TestMillis_Scan_badType(t *testing.T) {
	var m Millis
	assert.Error(t, m.Scan("yesterday"))
}

// =====================================================
// QueueItem Tests
// =====================================================

func TestQueueItem_TableName(t *testing.T) {
	assert.Equal(t, "sync_queue", QueueItem{}.TableName())
}

func TestQueueItem_PayloadMap(t *testing.T) {
	item := &QueueItem{Payload: json.RawMessage(`{"id":"land-1","acres":4.5}`)}

	m, err := item.PayloadMap()
	require.NoError(t, err)
	assert.Equal(t, "land-1", m["id"])
	assert.Equal(t, 4.5, m["acres"])
}

func TestQueueItem_PayloadMap_empty(t *testing.T) {
	item := &QueueItem{}

	m, err := item.PayloadMap()
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestQueueItem_PayloadMap_invalid(t *testing.T) {
	item := &QueueItem{Payload: json.RawMessage(`[1,2`)}

	_, err := item.PayloadMap()
	assert.Error(t, err)
}
