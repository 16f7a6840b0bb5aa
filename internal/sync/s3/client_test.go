package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBucket is a path-style in-memory object store.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	status  int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.Header.Get("X-Amz-Date") == "" || !strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 ") {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if b.status != 0 {
		w.WriteHeader(b.status)
		io.WriteString(w, "<Error>boom</Error>")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/test-bucket/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		b.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if r.URL.Query().Get("list-type") == "2" {
			prefix := r.URL.Query().Get("prefix")
			io.WriteString(w, "<ListBucketResult>")
			for k := range b.objects {
				if strings.HasPrefix(k, prefix) {
					io.WriteString(w, "<Contents><Key>"+k+"</Key></Contents>")
				}
			}
			io.WriteString(w, "</ListBucketResult>")
			return
		}
		data, ok := b.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	case http.MethodDelete:
		delete(b.objects, key)
		w.WriteHeader(http.StatusNoContent)
	}
}

func newTestClient(t *testing.T, bucket *fakeBucket) *Client {
	t.Helper()
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Endpoint:  srv.URL,
		Bucket:    "test-bucket",
		AccessKey: "test-access-key",
		SecretKey: "test-secret-key",
		PathStyle: true,
	})
	require.NoError(t, err)
	return c
}

// =====================================================
// Client
// =====================================================

func TestClient_PutGetDelete(t *testing.T) {
	bucket := newFakeBucket()
	c := newTestClient(t, bucket)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "t1/land/42.json", []byte(`{"id":"42"}`), "application/json"))

	data, err := c.Get(ctx, "t1/land/42.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42"}`, string(data))

	require.NoError(t, c.Delete(ctx, "t1/land/42.json"))
	_, err = c.Get(ctx, "t1/land/42.json")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestClient_List(t *testing.T) {
	bucket := newFakeBucket()
	c := newTestClient(t, bucket)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "t1/land/1.json", []byte("{}"), ""))
	require.NoError(t, c.Put(ctx, "t1/crop/2.json", []byte("{}"), ""))

	keys, err := c.List(ctx, "t1/land/")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1/land/1.json"}, keys)

	require.NoError(t, c.Ping(ctx))
}

func TestClient_StatusError(t *testing.T) {
	bucket := newFakeBucket()
	bucket.status = http.StatusForbidden
	c := newTestClient(t, bucket)

	err := c.Put(context.Background(), "k", []byte("x"), "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "put", se.Op)
	assert.Contains(t, se.Body, "boom")
}

func TestClient_DeleteMissingSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Bucket: "b", PathStyle: true})
	require.NoError(t, err)
	assert.NoError(t, c.Delete(context.Background(), "gone"))
}

func TestClient_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{Endpoint: url, Bucket: "b", PathStyle: true})
	require.NoError(t, err)
	assert.Error(t, c.Put(context.Background(), "k", nil, ""))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Bucket: "b"})
	assert.Error(t, err)

	_, err = NewClient(Config{Endpoint: "s3.example.com"})
	assert.Error(t, err)
}

func TestNewClient_VirtualHostURL(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "s3.example.com", Bucket: "fields"})
	require.NoError(t, err)

	req, err := c.newRequest(context.Background(), http.MethodGet, "a/b.json", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://fields.s3.example.com/a/b.json", req.URL.String())
	assert.Contains(t, req.Header.Get("Authorization"), "SignedHeaders=host;x-amz-content-sha256;x-amz-date")
}

func TestCanonicalQuery(t *testing.T) {
	assert.Equal(t, "", canonicalQuery(nil))
	q := map[string][]string{"prefix": {"a b"}, "list-type": {"2"}}
	assert.Equal(t, "list-type=2&prefix=a%20b", canonicalQuery(q))
}

// =====================================================
// Providers
// =====================================================

func TestOpen_Providers(t *testing.T) {
	c, err := Open(ProviderConfig{Provider: ProviderAWS, Bucket: "b", Region: "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, "b.s3.eu-west-1.amazonaws.com", c.base.Host)

	c, err = Open(ProviderConfig{Provider: ProviderAWS, Bucket: "b", Region: "mars-1"})
	require.NoError(t, err)
	assert.Equal(t, "b.s3.amazonaws.com", c.base.Host)

	c, err = Open(ProviderConfig{Provider: ProviderMinIO, Endpoint: "localhost:9000", Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", c.base.String())
	assert.True(t, c.cfg.PathStyle)

	_, err = Open(ProviderConfig{Provider: ProviderR2, AccountID: "short", Bucket: "b"})
	assert.Error(t, err)

	c, err = Open(ProviderConfig{Provider: ProviderR2, AccountID: strings.Repeat("a1", 16), Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "auto", c.cfg.Region)

	_, err = Open(ProviderConfig{Provider: "gcs"})
	assert.Error(t, err)
}

func TestMinIOHealthCheckURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000/minio/health/live", MinIOHealthCheckURL("localhost:9000", false))
	assert.Equal(t, "https://m.example.com/minio/health/live", MinIOHealthCheckURL("m.example.com/", true))
}

func TestAWSEndpointForRegion(t *testing.T) {
	ep, err := AWSEndpointForRegion("us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "s3.amazonaws.com", ep)

	_, err = AWSEndpointForRegion("nowhere")
	assert.Error(t, err)
}
