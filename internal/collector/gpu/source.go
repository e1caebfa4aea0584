package gpu

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/errors"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

const component = "collector.gpu"

// ErrSourceClosed is returned by Source methods after Close.
var ErrSourceClosed = stderrors.New("gpu: source closed")

// SourceOptions configures a Source. Every field is optional.
type SourceOptions struct {
	// RetryCooldown is how long a failed library load is cached before the
	// next attempt. Zero retries on every call.
	RetryCooldown time.Duration

	Logger         *slog.Logger
	Clock          errors.Clock
	ErrorCollector *errors.ErrorCollector
	Metrics        *observability.Metrics
}

// Status summarizes the library state for health reporting.
type Status struct {
	Available      bool
	DriverVersion  nvml.Version
	Error          string
	OpenedAt       time.Time
	LastAttempt    time.Time
	DevicesSkipped int
	QueryFailures  uint64
}

// Source is the process-wide owner of the NVML registry. It opens the
// library on first use and serializes every call into it.
type Source struct {
	loader nvml.Loader
	opts   SourceOptions

	mu          sync.Mutex
	reg         *nvml.Registry
	lastErr     error
	lastAttempt time.Time
	openedAt    time.Time
	closed      bool

	// Written from the nvml error handler, which runs while mu is held.
	skipped  atomic.Int64
	failures atomic.Uint64
}

// NewSource returns an unopened Source. Nothing is loaded until the first
// call that needs the registry.
func NewSource(loader nvml.Loader, opts SourceOptions) *Source {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = errors.RealClock{}
	}
	return &Source{loader: loader, opts: opts}
}

// Registry returns the opened registry, loading it if needed. While a
// previous failure is within RetryCooldown the cached error is returned
// without touching the loader. The returned registry is not safe for
// concurrent use; prefer the Source methods outside single-threaded code.
func (s *Source) Registry() (*nvml.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open()
}

func (s *Source) open() (*nvml.Registry, error) {
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.reg != nil {
		return s.reg, nil
	}

	now := s.opts.Clock.Now()
	if s.lastErr != nil && now.Sub(s.lastAttempt) < s.opts.RetryCooldown {
		return nil, s.lastErr
	}
	s.lastAttempt = now
	s.skipped.Store(0)

	reg, err := nvml.Open(s.loader,
		nvml.WithLogger(s.opts.Logger),
		nvml.WithErrorHandler(s.handleSoftError),
	)
	if err != nil {
		s.lastErr = err
		s.recordOpenFailure(err)
		return nil, err
	}

	s.reg = reg
	s.lastErr = nil
	s.openedAt = now
	s.recordOpenSuccess(reg)
	return reg, nil
}

func (s *Source) recordOpenFailure(err error) {
	code, result := errors.ErrInitFailed, "init_failed"
	if stderrors.Is(err, nvml.ErrLibraryNotFound) {
		code, result = errors.ErrLibraryUnavailable, "not_found"
	}

	s.opts.Logger.Warn("gpu management library unavailable",
		"library", nvml.LibraryName(),
		"retry_in", s.opts.RetryCooldown,
		"error", err,
	)
	if ec := s.opts.ErrorCollector; ec != nil {
		ec.ReportErr(code, component, err)
	}
	if m := s.opts.Metrics; m != nil {
		m.LibraryOpenTotal.WithLabelValues(result).Inc()
		m.LibraryAvailable.Set(0)
	}
}

func (s *Source) recordOpenSuccess(reg *nvml.Registry) {
	s.opts.Logger.Info("gpu management library loaded",
		"library", nvml.LibraryName(),
		"driver_version", reg.DriverVersion().String(),
		"devices", reg.DeviceCount(),
	)
	if ec := s.opts.ErrorCollector; ec != nil {
		ec.Resolve(errors.ErrLibraryUnavailable, component)
		ec.Resolve(errors.ErrInitFailed, component)
	}
	if m := s.opts.Metrics; m != nil {
		m.LibraryOpenTotal.WithLabelValues("success").Inc()
		m.LibraryAvailable.Set(1)
		m.DevicesSkipped.Set(float64(s.skipped.Load()))
	}
}

// handleSoftError receives the failures NVML logs and swallows. It must not
// take s.mu.
func (s *Source) handleSoftError(op string, err error) {
	switch op {
	case "enumerate":
		s.skipped.Add(1)
		if ec := s.opts.ErrorCollector; ec != nil {
			ec.ReportErr(errors.ErrDeviceSkipped, component, err)
		}
	case "measure":
		s.failures.Add(1)
	}
}

// Devices returns the enumerated device identities in index order.
func (s *Source) Devices() ([]nvml.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.open()
	if err != nil {
		return nil, err
	}
	return reg.Devices(), nil
}

// Measure reads the telemetry of the device with the given key. It returns
// false when the library is unavailable or any query fails.
func (s *Source) Measure(key string) (nvml.Measurement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m nvml.Measurement
	reg, err := s.open()
	if err != nil {
		return m, false
	}
	ok := reg.TryGetMeasurements(key, &m)
	return m, ok
}

// DriverVersion returns the CUDA driver version. ok is false if the library
// could not be loaded.
func (s *Source) DriverVersion() (v nvml.Version, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.open()
	if err != nil {
		return nvml.Version{}, false
	}
	return reg.DriverVersion(), true
}

// Available reports whether the registry is open. It never triggers a load.
func (s *Source) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg != nil
}

// Status reports the library state without triggering a load.
func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Available:      s.reg != nil,
		OpenedAt:       s.openedAt,
		LastAttempt:    s.lastAttempt,
		DevicesSkipped: int(s.skipped.Load()),
		QueryFailures:  s.failures.Load(),
	}
	if s.reg != nil {
		st.DriverVersion = s.reg.DriverVersion()
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// Close shuts the registry down if it was opened. Later calls on the Source
// return ErrSourceClosed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.reg == nil {
		return nil
	}

	err := s.reg.Close()
	s.reg = nil
	if m := s.opts.Metrics; m != nil {
		m.LibraryAvailable.Set(0)
	}
	if err != nil {
		return fmt.Errorf("gpu: close registry: %w", err)
	}
	return nil
}
