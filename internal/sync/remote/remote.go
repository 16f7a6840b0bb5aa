// Package remote maps entity types to the handlers that push queued
// mutations to the remote backend.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// Request is one remote CRUD call derived from a queue item.
type Request struct {
	EntityType string
	RemoteID   string
	TenantID   string
	Payload    json.RawMessage
}

// Adapter performs remote calls for one entity type. Implementations must
// bound every call with their own timeout.
type Adapter interface {
	Create(ctx context.Context, req Request) error
	Update(ctx context.Context, req Request) error
	Delete(ctx context.Context, req Request) error
}

// AdapterFuncs adapts plain functions to Adapter. A nil func succeeds.
type AdapterFuncs struct {
	CreateFunc func(ctx context.Context, req Request) error
	UpdateFunc func(ctx context.Context, req Request) error
	DeleteFunc func(ctx context.Context, req Request) error
}

func (f AdapterFuncs) Create(ctx context.Context, req Request) error {
	if f.CreateFunc == nil {
		return nil
	}
	return f.CreateFunc(ctx, req)
}

func (f AdapterFuncs) Update(ctx context.Context, req Request) error {
	if f.UpdateFunc == nil {
		return nil
	}
	return f.UpdateFunc(ctx, req)
}

func (f AdapterFuncs) Delete(ctx context.Context, req Request) error {
	if f.DeleteFunc == nil {
		return nil
	}
	return f.DeleteFunc(ctx, req)
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
