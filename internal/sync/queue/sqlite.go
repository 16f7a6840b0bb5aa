package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

const itemColumns = `id, operation, entity_type, remote_id, payload, tenant_id,
	enqueued_at, updated_at, status, retry_count, last_error`

// SQLiteStore is the Store backed by the sync_queue table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the time source used for updated_at and default enqueued_at.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore creates a store over a migrated database.
func NewSQLiteStore(db *sql.DB, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*SQLiteStore)(nil)

func dbErr(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

// Insert persists a new pending item.
func (s *SQLiteStore) Insert(ctx context.Context, item *models.QueueItem) (int64, error) {
	if !item.Operation.Valid() {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", item.Operation)
	}
	if item.EntityType == "" {
		return 0, apperrors.New(apperrors.ErrInvalid, "entity type is required")
	}

	now := s.now()
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = now
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	item.UpdatedAt = now

	payload := item.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (operation, entity_type, remote_id, payload, tenant_id,
			enqueued_at, updated_at, status, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(item.Operation), item.EntityType, item.RemoteID, string(payload), item.TenantID,
		models.Millis(item.EnqueuedAt), models.Millis(item.UpdatedAt),
		string(item.Status), item.RetryCount, item.LastError,
	)
	if err != nil {
		return 0, dbErr("insert queue item", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, dbErr("read queue item id", err)
	}
	item.ID = id
	return id, nil
}

// Get returns one item by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*models.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM sync_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %d: %w", id, ErrItemNotFound)
	}
	if err != nil {
		return nil, dbErr("get queue item", err)
	}
	return item, nil
}

// Claim moves an item from pending or error to syncing.
func (s *SQLiteStore) Claim(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.StatusSyncing), models.Millis(s.now()), id,
		string(models.StatusPending), string(models.StatusError),
	)
	if err != nil {
		return false, dbErr("claim queue item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("claim queue item", err)
	}
	return n == 1, nil
}

// UpdateStatus writes a status transition for one item.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, update StatusUpdate) error {
	if !update.Status.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown status %q", update.Status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, retry_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(update.Status), update.RetryCount, update.LastError, models.Millis(s.now()), id,
	)
	if err != nil {
		return dbErr("update queue item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("update queue item", err)
	}
	if n == 0 {
		return fmt.Errorf("item %d: %w", id, ErrItemNotFound)
	}
	return nil
}

// SelectBatch returns due items oldest first.
func (s *SQLiteStore) SelectBatch(ctx context.Context, statuses []models.Status, retryCountLessThan, limit int) ([]*models.QueueItem, error) {
	if len(statuses) == 0 || limit <= 0 {
		return nil, nil
	}

	in, args := statusArgs(statuses)
	args = append(args, retryCountLessThan, limit)

	return s.query(ctx, "select batch", `SELECT `+itemColumns+` FROM sync_queue
		WHERE status IN (`+in+`) AND retry_count < ?
		ORDER BY enqueued_at ASC, id ASC
		LIMIT ?`, args...)
}

// CountByStatus counts items in any of statuses.
func (s *SQLiteStore) CountByStatus(ctx context.Context, statuses ...models.Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	in, args := statusArgs(statuses)

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status IN (`+in+`)`, args...).Scan(&n)
	if err != nil {
		return 0, dbErr("count queue items", err)
	}
	return n, nil
}

// CountDue counts pending/error items with retry_count below maxRetries.
func (s *SQLiteStore) CountDue(ctx context.Context, maxRetries int) (int, error) {
	in, args := statusArgs(DueStatuses)
	args = append(args, maxRetries)

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue
		WHERE status IN (`+in+`) AND retry_count < ?`, args...).Scan(&n)
	if err != nil {
		return 0, dbErr("count due items", err)
	}
	return n, nil
}

// DeleteOlderThan removes items in status enqueued before the cutoff.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, status models.Status, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ? AND enqueued_at < ?`,
		string(status), models.Millis(before))
	if err != nil {
		return 0, dbErr("delete aged queue items", err)
	}
	return res.RowsAffected()
}

// DeleteByStatus removes every item in status.
func (s *SQLiteStore) DeleteByStatus(ctx context.Context, status models.Status) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ?`, string(status))
	if err != nil {
		return 0, dbErr("delete queue items", err)
	}
	return res.RowsAffected()
}

// RecoverInFlight resets syncing items to pending.
func (s *SQLiteStore) RecoverInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?`,
		string(models.StatusPending), models.Millis(s.now()), string(models.StatusSyncing))
	if err != nil {
		return 0, dbErr("recover in-flight items", err)
	}
	return res.RowsAffected()
}

// List returns items matching filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*models.QueueItem, error) {
	var where []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		in, statusVals := statusArgs(filter.Statuses)
		where = append(where, "status IN ("+in+")")
		args = append(args, statusVals...)
	}
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}

	query := `SELECT ` + itemColumns + ` FROM sync_queue`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY enqueued_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.query(ctx, "list queue items", query, args...)
}

// query runs a multi-row select and closes the rows before returning, so the
// single connection is free for the caller's next statement.
func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...interface{}) ([]*models.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(op, err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*models.QueueItem, error) {
	var (
		item       models.QueueItem
		op, status string
		payload    string
		enqueuedAt models.Millis
		updatedAt  models.Millis
	)
	err := row.Scan(&item.ID, &op, &item.EntityType, &item.RemoteID, &payload, &item.TenantID,
		&enqueuedAt, &updatedAt, &status, &item.RetryCount, &item.LastError)
	if err != nil {
		return nil, err
	}
	item.Operation = models.Operation(op)
	item.Status = models.Status(status)
	item.Payload = json.RawMessage(payload)
	item.EnqueuedAt = enqueuedAt.Time()
	item.UpdatedAt = updatedAt.Time()
	return &item, nil
}

func statusArgs(statuses []models.Status) (string, []interface{}) {
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return strings.Join(placeholders, ", "), args
}
