// Package handlers provides REST API handlers for the sync queue.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	syncsvc "github.com/kimhsiao/fieldsync/backend/internal/sync"
)

// NetworkSetter flips the connectivity flag in manual network mode.
type NetworkSetter interface {
	SetOnline(online bool) error
}

// SyncHandler handles sync queue operations.
type SyncHandler struct {
	engine  syncsvc.Engine
	network NetworkSetter
}

// NewSyncHandler creates a new SyncHandler. network may be nil, in which case
// POST /sync/network reports the mode as not settable.
func NewSyncHandler(engine syncsvc.Engine, network NetworkSetter) *SyncHandler {
	return &SyncHandler{
		engine:  engine,
		network: network,
	}
}

// =====================================================
// Response helpers
// =====================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

// writeError maps an error code to an HTTP status and writes {code, message}.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrConfig, apperrors.ErrSyncNotConfigured:
		status = http.StatusConflict
	case apperrors.ErrDatabase:
		logging.ErrorWithCode("Queue store error", string(apperrors.ErrDatabase), err, nil)
	}
	writeJSON(w, status, apperrors.ToResponse(err))
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// =====================================================
// Sync Endpoints
// =====================================================

// GetStatus handles GET /sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// EnqueueRequest is the body of POST /sync/enqueue.
type EnqueueRequest struct {
	Operation  models.Operation       `json:"operation"`
	EntityType string                 `json:"entity_type"`
	Payload    map[string]interface{} `json:"payload"`
	TenantID   string                 `json:"tenant_id"`
}

// Enqueue handles POST /sync/enqueue
// Records a mutation and returns its queue id with 202 Accepted.
func (h *SyncHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var request EnqueueRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	id, err := h.engine.Enqueue(r.Context(), request.Operation, request.EntityType, request.Payload, request.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id})
}

// ForceSync handles POST /sync/force
// Runs one sweep and waits for it. Offline, it returns immediately.
func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if err := h.engine.ForceSync(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ClearFailed handles POST /sync/clear-failed
func (h *SyncHandler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	n, err := h.engine.ClearFailedItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": n})
}

// SetNetwork handles POST /sync/network with body {"online": bool}.
func (h *SyncHandler) SetNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var request struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "body must be {\"online\": true|false}"))
		return
	}
	if h.network == nil {
		writeError(w, apperrors.New(apperrors.ErrConfig, "network state is not settable"))
		return
	}
	if err := h.network.SetOnline(*request.Online); err != nil {
		writeError(w, err)
		return
	}

	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
