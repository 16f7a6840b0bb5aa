package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Probe is an Observer that polls a health URL. Any HTTP response below 500
// counts as online; transport errors and 5xx count as offline.
type Probe struct {
	*broadcaster

	url      string
	interval time.Duration
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithProbeInterval sets the polling interval.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *Probe) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeClient sets the HTTP client used for checks.
func WithProbeClient(c *http.Client) ProbeOption {
	return func(p *Probe) {
		if c != nil {
			p.client = c
		}
	}
}

// NewProbe creates a Probe for url. It reports offline until the first check.
func NewProbe(url string, opts ...ProbeOption) *Probe {
	p := &Probe{
		url:      url,
		interval: DefaultProbeInterval,
		client:   &http.Client{Timeout: DefaultProbeTimeout},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.broadcaster = newBroadcaster(Status{Online: false, At: p.now()})
	return p
}

// Check performs one reachability check and publishes the result.
func (p *Probe) Check(ctx context.Context) Status {
	online := p.reachable(ctx)
	s := Status{Online: online, At: p.now()}
	if p.publish(s) {
		logging.Info("network transition", map[string]interface{}{
			"online": online,
			"source": "probe",
		})
	}
	return s
}

func (p *Probe) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Start runs an immediate check and then polls until Stop or ctx is done.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.Check(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Check(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit.
func (p *Probe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}
