// Package health provides liveness and readiness probe endpoints. Each
// registered check runs in its own goroutine at a fixed interval; probe
// handlers only read the latest recorded outcome, so they stay cheap under
// scrape pressure.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	// lastErr holds the most recent outcome; read by probe handlers, written
	// by the check goroutine.
	lastErr atomic.Pointer[error]
}

func (c *check) run(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.fn(checkCtx)
	c.lastErr.Store(&err)
}

func (c *check) healthy() (bool, error) {
	p := c.lastErr.Load()
	if p == nil {
		// Not yet run; assume healthy until proven otherwise.
		return true, nil
	}
	return *p == nil, *p
}

// Health manages liveness and readiness checks for a service.
type Health struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New creates a Health instance in the not-ready state; call SetReady(true)
// after initialization completes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a liveness check: is the process functioning.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a readiness check: can the service take
// traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &check{name: name, timeout: timeout, fn: fn})
}

// Start runs all registered checks at the given interval until Stop is
// called or ctx is cancelled.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append(append([]*check{}, h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			c.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.run(ctx)
				}
			}
		}()
	}
}

// Stop cancels the background check goroutines.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Set false during graceful
// shutdown to stop receiving new traffic before draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves the liveness probe.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	checks := append([]*check{}, h.liveness...)
	h.mu.Unlock()
	h.serveProbe(w, checks, true)
}

// ReadyEndpoint serves the readiness probe. It fails when SetReady(false)
// regardless of check outcomes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	checks := append([]*check{}, h.readiness...)
	h.mu.Unlock()
	h.serveProbe(w, checks, h.ready.Load())
}

func (h *Health) serveProbe(w http.ResponseWriter, checks []*check, gate bool) {
	resp := probeResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
	healthy := gate

	for _, c := range checks {
		ok, err := c.healthy()
		if ok {
			resp.Checks[c.name] = "ok"
			continue
		}
		healthy = false
		resp.Checks[c.name] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		resp.Status = "unavailable"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
