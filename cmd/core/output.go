package main

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

var validFormats = []string{"text", "json", "yaml"}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

// render writes v as JSON or YAML, or calls text for the human format.
func render(w io.Writer, format string, v interface{}, text func(io.Writer) error) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

// itemView is a queue item with its payload decoded, so YAML output shows
// fields instead of raw bytes.
type itemView struct {
	ID         int64                  `json:"id" yaml:"id"`
	Operation  string                 `json:"operation" yaml:"operation"`
	EntityType string                 `json:"entity_type" yaml:"entity_type"`
	RemoteID   string                 `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	TenantID   string                 `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Status     string                 `json:"status" yaml:"status"`
	RetryCount int                    `json:"retry_count" yaml:"retry_count"`
	LastError  string                 `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	EnqueuedAt string                 `json:"enqueued_at" yaml:"enqueued_at"`
	Payload    map[string]interface{} `json:"payload" yaml:"payload"`
}

func newItemView(item *models.QueueItem) itemView {
	payload, err := item.PayloadMap()
	if err != nil {
		payload = map[string]interface{}{"_raw": string(item.Payload)}
	}
	return itemView{
		ID:         item.ID,
		Operation:  string(item.Operation),
		EntityType: item.EntityType,
		RemoteID:   item.RemoteID,
		TenantID:   item.TenantID,
		Status:     string(item.Status),
		RetryCount: item.RetryCount,
		LastError:  item.LastError,
		EnqueuedAt: item.EnqueuedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Payload:    payload,
	}
}

func onOff(b bool) string {
	if b {
		return "online"
	}
	return "offline"
}
