package collector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// Registry manages the lifecycle of all registered collectors.
// It is thread-safe: Register, StartAll, WaitForSync, and StopAll
// can be called from different goroutines.
type Registry struct {
	collectors []Collector
	mu         sync.Mutex
	started    bool
	synced     atomic.Bool
}

// NewRegistry creates a new, empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a collector to the registry.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors = append(r.collectors, c)
}

// PartialStartError is returned when some (but not all) collectors fail to start.
// Callers can use errors.As to detect partial vs total failure.
type PartialStartError struct {
	Failed []string
	Total  int
}

func (e *PartialStartError) Error() string {
	return fmt.Sprintf("%d of %d collectors failed to start: %v", len(e.Failed), e.Total, e.Failed)
}

// SyncError names the collectors that had not finished their first pass when
// WaitForSync gave up.
type SyncError struct {
	Pending []string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("collectors not synced %v: %v", e.Pending, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func (r *Registry) list() []Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.collectors)
}

// StartAll starts all registered collectors in parallel.
// Returns a PartialStartError if some collectors fail, or a plain error
// if all collectors fail.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	collectors := slices.Clone(r.collectors)
	r.started = true
	r.mu.Unlock()

	if len(collectors) == 0 {
		return nil
	}

	errs := make([]error, len(collectors))
	var wg sync.WaitGroup
	for i, c := range collectors {
		wg.Go(func() { errs[i] = c.Start(ctx) })
	}
	wg.Wait()

	var failedNames []string
	for i, err := range errs {
		if err != nil {
			failedNames = append(failedNames, collectors[i].Name())
			slog.Error("collector failed to start", "collector", collectors[i].Name(), "error", err)
		}
	}

	if len(failedNames) == len(collectors) {
		return fmt.Errorf("all %d collectors failed to start", len(failedNames))
	}
	if len(failedNames) > 0 {
		return &PartialStartError{Failed: failedNames, Total: len(collectors)}
	}

	return nil
}

// WaitForSync waits for every registered collector to finish its first pass,
// bounded by ctx. On failure it returns a *SyncError listing the collectors
// still pending; the ones that did sync keep running.
func (r *Registry) WaitForSync(ctx context.Context) error {
	collectors := r.list()

	errs := make([]error, len(collectors))
	var wg sync.WaitGroup
	for i, c := range collectors {
		wg.Go(func() { errs[i] = c.WaitForSync(ctx) })
	}
	wg.Wait()

	var (
		pending []string
		first   error
	)
	for i, err := range errs {
		if err == nil {
			continue
		}
		pending = append(pending, collectors[i].Name())
		if first == nil {
			first = err
		}
	}
	if first != nil {
		return &SyncError{Pending: pending, Err: first}
	}

	r.synced.Store(true)
	return nil
}

// Synced reports whether the last WaitForSync completed for all collectors.
func (r *Registry) Synced() bool {
	return r.synced.Load()
}

// StopAll stops all registered collectors in reverse registration order.
// Safe to call multiple times.
func (r *Registry) StopAll() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	collectors := slices.Clone(r.collectors)
	r.started = false
	r.mu.Unlock()

	r.synced.Store(false)
	for _, c := range slices.Backward(collectors) {
		c.Stop()
	}
}

// Collectors returns the registered collectors.
func (r *Registry) Collectors() []Collector {
	return r.list()
}
