package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultHTTPTimeout = 15 * time.Second

// HTTPConfig configures an HTTPAdapter.
type HTTPConfig struct {
	// BaseURL is the REST root, e.g. https://api.example.com/v1.
	BaseURL string
	// APIKey, when set, is sent as a bearer token.
	APIKey  string
	Timeout time.Duration
	// RateLimit caps requests per second across all entity types. Zero disables it.
	RateLimit float64
	// Collections maps entity types to REST collection names. Unmapped types
	// use the entity type itself.
	Collections map[string]string
	Client      *http.Client
}

// HTTPStatusError is a non-success response from the REST backend.
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// HTTPAdapter performs CRUD calls against a REST backend:
// POST /{collection}, PATCH /{collection}/{id}, DELETE /{collection}/{id}.
type HTTPAdapter struct {
	base        *url.URL
	apiKey      string
	collections map[string]string
	client      *http.Client
	limiter     *rate.Limiter
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter creates an HTTPAdapter.
func NewHTTPAdapter(cfg HTTPConfig) (*HTTPAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base url: %w", err)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	a := &HTTPAdapter{
		base:        base,
		apiKey:      cfg.APIKey,
		collections: cfg.Collections,
		client:      client,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return a, nil
}

func (a *HTTPAdapter) collection(entityType string) string {
	if c, ok := a.collections[entityType]; ok && c != "" {
		return c
	}
	return entityType
}

// Create posts the payload to the collection. A 409 Conflict means a replayed
// create already landed and counts as created.
func (a *HTTPAdapter) Create(ctx context.Context, req Request) error {
	status, err := a.do(ctx, http.MethodPost, req, a.collection(req.EntityType))
	if status == http.StatusConflict {
		return nil
	}
	return err
}

// Update patches the record identified by req.RemoteID.
func (a *HTTPAdapter) Update(ctx context.Context, req Request) error {
	if req.RemoteID == "" {
		return Permanent(fmt.Errorf("update %s: missing remote id", req.EntityType))
	}
	_, err := a.do(ctx, http.MethodPatch, req, a.collection(req.EntityType), req.RemoteID)
	return err
}

// Delete removes the record identified by req.RemoteID. A record that is
// already gone counts as deleted.
func (a *HTTPAdapter) Delete(ctx context.Context, req Request) error {
	if req.RemoteID == "" {
		return Permanent(fmt.Errorf("delete %s: missing remote id", req.EntityType))
	}
	status, err := a.do(ctx, http.MethodDelete, req, a.collection(req.EntityType), req.RemoteID)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func (a *HTTPAdapter) do(ctx context.Context, method string, req Request, segments ...string) (int, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	u := *a.base
	for _, s := range segments {
		u.Path += "/" + url.PathEscape(s)
	}

	var body io.Reader
	if method != http.MethodDelete && len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return 0, Permanent(fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if req.TenantID != "" {
		httpReq.Header.Set("X-Tenant-ID", req.TenantID)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	statusErr := &HTTPStatusError{
		Method:     method,
		URL:        u.Path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}
	if IsPermanentStatus(resp.StatusCode) {
		return resp.StatusCode, Permanent(statusErr)
	}
	return resp.StatusCode, statusErr
}

// IsPermanentStatus reports whether an HTTP status means retrying cannot help:
// any 4xx except 408 Request Timeout and 429 Too Many Requests.
func IsPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
