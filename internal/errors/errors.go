package errors

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Code represents a typed error code understood by the backend.
type Code string

// Agent error codes reported to the backend.
const (
	ErrLibraryUnavailable   Code = "LIBRARY_UNAVAILABLE"
	ErrInitFailed           Code = "INIT_FAILED"
	ErrDeviceSkipped        Code = "DEVICE_SKIPPED"
	ErrMeasurementFailed    Code = "MEASUREMENT_FAILED"
	ErrLabelPatchFailed     Code = "LABEL_PATCH_FAILED"
	ErrBackendUnreachable   Code = "BACKEND_UNREACHABLE"
	ErrAuthFailed           Code = "AUTH_FAILED"
	ErrCollectorSyncTimeout Code = "COLLECTOR_SYNC_TIMEOUT"
	ErrCompressionFailed    Code = "COMPRESSION_FAILED"
	ErrTimeout              Code = "TIMEOUT"
)

// defaultTTL is the auto-expiry duration for errors not re-reported.
const defaultTTL = 5 * time.Minute

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// AgentError represents a typed agent error with code, component, and optional wrapped error.
type AgentError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Timestamp int64  `json:"timestamp"`

	// FirstSeen and Count survive re-reports of the same Code+Component.
	FirstSeen int64 `json:"first_seen"`
	Count     int   `json:"count"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *AgentError) Unwrap() error {
	return e.Err
}

type entryKey struct {
	code      Code
	component string
}

// entry wraps an AgentError with its last-reported time for expiry tracking.
type entry struct {
	err        AgentError
	lastReport time.Time
}

// ErrorCollector is a thread-safe store for active agent errors.
// Errors are keyed by Code+Component and auto-expire after 5 minutes
// if not re-reported.
type ErrorCollector struct {
	mu      sync.Mutex
	clock   Clock
	entries map[entryKey]entry
}

// NewErrorCollector creates an ErrorCollector with the given clock.
func NewErrorCollector(clock Clock) *ErrorCollector {
	return &ErrorCollector{
		clock:   clock,
		entries: make(map[entryKey]entry),
	}
}

// Report stores or refreshes an error. The dedup key is Code+Component; a
// refresh keeps the original FirstSeen and bumps Count.
func (ec *ErrorCollector) Report(err AgentError) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := ec.clock.Now()
	k := entryKey{err.Code, err.Component}
	err.Count = 1
	err.FirstSeen = now.UnixMilli()
	if prev, ok := ec.entries[k]; ok && now.Sub(prev.lastReport) <= defaultTTL {
		err.Count = prev.err.Count + 1
		err.FirstSeen = prev.err.FirstSeen
	}
	ec.entries[k] = entry{err: err, lastReport: now}
}

// ReportErr is a shorthand for Report that stamps the error with the
// collector's clock and uses err's message.
func (ec *ErrorCollector) ReportErr(code Code, component string, err error) {
	ec.Report(AgentError{
		Code:      code,
		Message:   err.Error(),
		Component: component,
		Timestamp: ec.clock.Now().UnixMilli(),
		Err:       err,
	})
}

// Resolve drops a single error before its TTL, e.g. once the library that
// was missing has been loaded.
func (ec *ErrorCollector) Resolve(code Code, component string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	delete(ec.entries, entryKey{code, component})
}

// active prunes expired entries and returns the rest. ec.mu must be held.
func (ec *ErrorCollector) active() []AgentError {
	now := ec.clock.Now()
	result := make([]AgentError, 0, len(ec.entries))
	for k, e := range ec.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(ec.entries, k)
			continue
		}
		result = append(result, e.err)
	}
	return result
}

// GetActiveErrors returns all errors that have been reported within the TTL
// window, ordered by code then component.
func (ec *ErrorCollector) GetActiveErrors() []AgentError {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	result := ec.active()
	slices.SortFunc(result, func(a, b AgentError) int {
		if c := cmp.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		return cmp.Compare(a.Component, b.Component)
	})
	return result
}

// GetActiveErrorCodes returns the sorted, deduplicated active error codes.
func (ec *ErrorCollector) GetActiveErrorCodes() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	var codes []string
	for _, e := range ec.active() {
		codes = append(codes, string(e.Code))
	}
	slices.Sort(codes)
	return slices.Compact(codes)
}
