// Package postgres pushes queued mutations straight into Postgres tables,
// for backends that expose their database (Supabase-style BaaS).
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kimhsiao/fieldsync/backend/internal/sync/remote"
)

// Execer is the part of pgxpool.Pool the adapter uses.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Execer = (*pgxpool.Pool)(nil)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures an Adapter.
type Options struct {
	// Tables maps entity types to table names. Unmapped types use the entity type.
	Tables map[string]string
	// IDColumn is the primary key column, "id" by default.
	IDColumn string
	// TenantColumn, when set, receives the request tenant id on insert and
	// scopes updates and deletes.
	TenantColumn string
}

// Adapter implements remote.Adapter over a pgx pool. Payload keys are used as
// column names; keys that are not plain identifiers are rejected.
type Adapter struct {
	db   Execer
	opts Options
}

var _ remote.Adapter = (*Adapter)(nil)

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return pool, nil
}

// New creates an Adapter.
func New(db Execer, opts Options) (*Adapter, error) {
	if opts.IDColumn == "" {
		opts.IDColumn = "id"
	}
	if !identRe.MatchString(opts.IDColumn) {
		return nil, fmt.Errorf("postgres: invalid id column %q", opts.IDColumn)
	}
	if opts.TenantColumn != "" && !identRe.MatchString(opts.TenantColumn) {
		return nil, fmt.Errorf("postgres: invalid tenant column %q", opts.TenantColumn)
	}
	for entity, table := range opts.Tables {
		if !identRe.MatchString(table) {
			return nil, fmt.Errorf("postgres: invalid table %q for %s", table, entity)
		}
	}
	return &Adapter{db: db, opts: opts}, nil
}

func (a *Adapter) table(entityType string) (string, error) {
	table := entityType
	if t, ok := a.opts.Tables[entityType]; ok {
		table = t
	}
	if !identRe.MatchString(table) {
		return "", remote.Permanent(fmt.Errorf("postgres: invalid table name %q", table))
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

// columns decodes the payload into sorted column names and values.
func (a *Adapter) columns(req remote.Request, skip ...string) ([]string, []any, error) {
	var fields map[string]any
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &fields); err != nil {
			return nil, nil, remote.Permanent(fmt.Errorf("postgres: decode payload: %w", err))
		}
	}

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		if skipped[k] {
			continue
		}
		if !identRe.MatchString(k) {
			return nil, nil, remote.Permanent(fmt.Errorf("postgres: invalid column name %q", k))
		}
		names = append(names, k)
	}
	sort.Strings(names)

	values := make([]any, len(names))
	for i, n := range names {
		values[i] = columnValue(fields[n])
	}
	return names, values, nil
}

// columnValue stores nested objects and arrays as JSON text.
func columnValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		data, _ := json.Marshal(v)
		return string(data)
	default:
		return v
	}
}

// Create upserts the payload keyed by the id column, so a replayed create is harmless.
func (a *Adapter) Create(ctx context.Context, req remote.Request) error {
	if req.RemoteID == "" {
		return remote.Permanent(fmt.Errorf("postgres: create %s: missing remote id", req.EntityType))
	}
	table, err := a.table(req.EntityType)
	if err != nil {
		return err
	}
	names, values, err := a.columns(req, a.opts.IDColumn, a.opts.TenantColumn)
	if err != nil {
		return err
	}

	cols := []string{a.opts.IDColumn}
	args := []any{req.RemoteID}
	if a.opts.TenantColumn != "" {
		cols = append(cols, a.opts.TenantColumn)
		args = append(args, req.TenantID)
	}
	cols = append(cols, names...)
	args = append(args, values...)

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	idCol := pgx.Identifier{a.opts.IDColumn}.Sanitize()
	conflict := "DO NOTHING"
	if len(names) > 0 {
		sets := make([]string, len(names))
		for i, n := range names {
			q := pgx.Identifier{n}.Sanitize()
			sets[i] = q + " = EXCLUDED." + q
		}
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "), idCol, conflict)
	_, err = a.db.Exec(ctx, sql, args...)
	return classify(err)
}

// Update sets the payload columns on the row with the remote id.
func (a *Adapter) Update(ctx context.Context, req remote.Request) error {
	if req.RemoteID == "" {
		return remote.Permanent(fmt.Errorf("postgres: update %s: missing remote id", req.EntityType))
	}
	table, err := a.table(req.EntityType)
	if err != nil {
		return err
	}
	names, values, err := a.columns(req, a.opts.IDColumn, a.opts.TenantColumn)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{n}.Sanitize(), i+1)
	}
	args := append(values, req.RemoteID)
	where := fmt.Sprintf("%s = $%d", pgx.Identifier{a.opts.IDColumn}.Sanitize(), len(args))
	if a.opts.TenantColumn != "" {
		args = append(args, req.TenantID)
		where += fmt.Sprintf(" AND %s = $%d", pgx.Identifier{a.opts.TenantColumn}.Sanitize(), len(args))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	_, err = a.db.Exec(ctx, sql, args...)
	return classify(err)
}

// Delete removes the row with the remote id. A missing row is not an error.
func (a *Adapter) Delete(ctx context.Context, req remote.Request) error {
	if req.RemoteID == "" {
		return remote.Permanent(fmt.Errorf("postgres: delete %s: missing remote id", req.EntityType))
	}
	table, err := a.table(req.EntityType)
	if err != nil {
		return err
	}

	args := []any{req.RemoteID}
	where := pgx.Identifier{a.opts.IDColumn}.Sanitize() + " = $1"
	if a.opts.TenantColumn != "" {
		args = append(args, req.TenantID)
		where += " AND " + pgx.Identifier{a.opts.TenantColumn}.Sanitize() + " = $2"
	}

	_, err = a.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, where), args...)
	return classify(err)
}

// classify marks constraint, syntax and schema errors (SQLSTATE classes 22,
// 23, 42) as permanent. Connection and server errors stay retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return remote.Permanent(fmt.Errorf("postgres: %w", err))
		}
	}
	return fmt.Errorf("postgres: %w", err)
}
