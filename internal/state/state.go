// Package state holds the process-wide shared state constructed once at
// startup: configuration, the outbound HTTP client, and the counting
// semaphore that bounds in-flight outbound calls.
package state

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/metricrelay/kairos-proxy/internal/backend"
	"github.com/metricrelay/kairos-proxy/internal/config"
)

// State is the single, process-wide instance shared by all handlers. It is
// read-only after construction except for the semaphore's internal counter.
type State struct {
	Config   *config.Config
	Client   *http.Client
	Resolver *backend.Resolver

	sem *semaphore.Weighted
}

// New constructs State from a validated configuration.
func New(cfg *config.Config) *State {
	return &State{
		Config: cfg,
		Client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: cfg.MaxOutboundConcurrency,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Resolver: backend.NewResolver(cfg.Backends),
		sem:      semaphore.NewWeighted(int64(cfg.MaxOutboundConcurrency)),
	}
}

// Permit is a scoped unit of the outbound concurrency budget. Release must
// be called exactly once, on every exit path (success, error, cancellation).
type Permit struct {
	sem *semaphore.Weighted
}

// Acquire blocks until a permit is available or ctx is done. The caller must
// defer p.Release() immediately upon a successful acquisition.
func (s *State) Acquire(ctx context.Context) (*Permit, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{sem: s.sem}, nil
}

// Release returns the permit to the pool. Safe to call at most once;
// callers typically invoke it via defer right after a successful Acquire.
func (p *Permit) Release() {
	p.sem.Release(1)
}

// AvailablePermits reports outbound permits not currently held. Exposed for
// tests asserting permit-leak freedom (spec §8).
func (s *State) AvailablePermits() int64 {
	// semaphore.Weighted does not expose remaining capacity directly;
	// TryAcquire the full budget and release immediately to measure it.
	total := int64(s.Config.MaxOutboundConcurrency)
	if !s.sem.TryAcquire(total) {
		// Fall back to probing one at a time if the full budget isn't free.
		var n int64
		for s.sem.TryAcquire(1) {
			n++
		}
		for i := int64(0); i < n; i++ {
			s.sem.Release(1)
		}
		return n
	}
	s.sem.Release(total)
	return total
}
