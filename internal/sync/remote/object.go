package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/kimhsiao/fieldsync/backend/internal/sync/s3"
)

// ObjectStore is the part of s3.Client the ObjectAdapter needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

var _ ObjectStore = (*s3.Client)(nil)

// ObjectAdapter stores each entity as a JSON document in an object store under
// {tenant}/{entity}/{id}.json. Creates and updates both overwrite the document.
type ObjectAdapter struct {
	store  ObjectStore
	prefix string
}

var _ Adapter = (*ObjectAdapter)(nil)

// NewObjectAdapter creates an ObjectAdapter. prefix is prepended to every key.
func NewObjectAdapter(store ObjectStore, prefix string) *ObjectAdapter {
	return &ObjectAdapter{store: store, prefix: prefix}
}

// Key returns the object key for a request.
func (a *ObjectAdapter) Key(req Request) string {
	tenant := req.TenantID
	if tenant == "" {
		tenant = "_default"
	}
	return path.Join(a.prefix, tenant, req.EntityType, req.RemoteID+".json")
}

func (a *ObjectAdapter) Create(ctx context.Context, req Request) error {
	return a.put(ctx, req)
}

func (a *ObjectAdapter) Update(ctx context.Context, req Request) error {
	return a.put(ctx, req)
}

func (a *ObjectAdapter) Delete(ctx context.Context, req Request) error {
	if req.RemoteID == "" {
		return Permanent(fmt.Errorf("delete %s: missing remote id", req.EntityType))
	}
	return classifyObjectErr(a.store.Delete(ctx, a.Key(req)))
}

func (a *ObjectAdapter) put(ctx context.Context, req Request) error {
	if req.RemoteID == "" {
		return Permanent(fmt.Errorf("store %s: missing remote id", req.EntityType))
	}
	data := req.Payload
	if len(data) == 0 {
		data = []byte("{}")
	}
	return classifyObjectErr(a.store.Put(ctx, a.Key(req), data, "application/json"))
}

func classifyObjectErr(err error) error {
	var se *s3.StatusError
	if errors.As(err, &se) && se.StatusCode != http.StatusNotFound && IsPermanentStatus(se.StatusCode) {
		return Permanent(err)
	}
	return err
}
