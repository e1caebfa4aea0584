package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/errors"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/store"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

// GPUMetricsCollector polls a DeviceSource on a timer and keeps the store's
// device inventory and samples current. It implements the
// collector.Collector interface.
type GPUMetricsCollector struct {
	source   DeviceSource
	store    *store.Store
	metrics  *observability.Metrics
	errors   *errors.ErrorCollector
	interval time.Duration
	now      func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	syncOnce sync.Once
	synced   chan struct{}

	mu       sync.Mutex
	known    map[string]model.GPUDevice
	lastPoll time.Duration
}

// NewGPUMetricsCollector creates a collector that polls source every
// interval. metrics and errCollector may be nil.
func NewGPUMetricsCollector(source DeviceSource, st *store.Store, metrics *observability.Metrics, errCollector *errors.ErrorCollector, interval time.Duration) *GPUMetricsCollector {
	return &GPUMetricsCollector{
		source:   source,
		store:    st,
		metrics:  metrics,
		errors:   errCollector,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		synced:   make(chan struct{}),
		known:    make(map[string]model.GPUDevice),
	}
}

// Name returns the collector name.
func (c *GPUMetricsCollector) Name() string { return "gpu" }

// Start launches the background polling goroutine.
func (c *GPUMetricsCollector) Start(ctx context.Context) error {
	c.started.Store(true)
	go c.run(ctx)
	return nil
}

// WaitForSync blocks until the first poll completes or the context is canceled.
// A node without a usable library still syncs; it just reports no devices.
func (c *GPUMetricsCollector) WaitForSync(ctx context.Context) error {
	select {
	case <-c.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the collector to stop and waits for the goroutine to exit.
// It returns at once if Start was never called and is safe to call twice.
func (c *GPUMetricsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.started.Load() {
		<-c.done
	}
}

// LastPollDuration returns how long the most recent poll took.
func (c *GPUMetricsCollector) LastPollDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPoll
}

func (c *GPUMetricsCollector) run(ctx context.Context) {
	defer close(c.done)

	// Poll immediately on start.
	c.Poll()
	c.syncOnce.Do(func() { close(c.synced) })

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Poll()
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Poll runs one enumeration and measurement pass synchronously.
func (c *GPUMetricsCollector) Poll() {
	start := c.now()

	ids, err := c.source.Devices()
	if err != nil {
		slog.Debug("gpu collector: no devices", "error", err)
		c.store.SetInventory(nil)
		c.forgetMissing(nil)
		c.finish(start, 0)
		return
	}

	devices := make([]model.GPUDevice, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, ToGPUDevice(id))
	}
	c.store.SetInventory(devices)
	c.forgetMissing(devices)

	ts := start.UnixMilli()
	var failed []string
	for _, dev := range devices {
		m, ok := c.source.Measure(dev.UUID)
		if !ok {
			failed = append(failed, dev.UUID)
			c.store.Samples.Delete(dev.UUID)
			if c.metrics != nil {
				c.metrics.GPUQueryFailuresTotal.WithLabelValues(strconv.Itoa(dev.Index), dev.UUID).Inc()
				c.metrics.ForgetDevice(dev)
			}
			continue
		}

		sample := ToSample(m, ts)
		c.store.Samples.Set(dev.UUID, sample)
		if c.metrics != nil {
			c.metrics.ObserveSample(dev, sample)
		}
	}

	if c.errors != nil {
		if len(failed) > 0 {
			c.errors.ReportErr(errors.ErrMeasurementFailed, component,
				fmt.Errorf("%d of %d devices returned no measurement", len(failed), len(devices)))
		} else {
			c.errors.Resolve(errors.ErrMeasurementFailed, component)
		}
	}
	if len(failed) > 0 {
		slog.Debug("gpu collector: measurement failed", "devices", failed)
	}

	c.finish(start, len(devices))
	slog.Debug("gpu collector: poll complete", "gpu_count", len(devices), "failed", len(failed))
}

// forgetMissing drops the per-device gauges of devices that were known on
// the previous poll but are gone now.
func (c *GPUMetricsCollector) forgetMissing(current []model.GPUDevice) {
	next := make(map[string]model.GPUDevice, len(current))
	for _, d := range current {
		next[d.UUID] = d
	}

	c.mu.Lock()
	prev := c.known
	c.known = next
	c.mu.Unlock()

	if c.metrics == nil {
		return
	}
	for uuid, d := range prev {
		if _, ok := next[uuid]; !ok {
			c.metrics.ForgetDevice(d)
		}
	}
}

func (c *GPUMetricsCollector) finish(start time.Time, devices int) {
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	c.lastPoll = elapsed
	c.mu.Unlock()

	if c.metrics == nil {
		return
	}
	c.metrics.GPUPollDuration.Observe(elapsed.Seconds())
	c.metrics.GPUDevices.Set(float64(devices))
	for resource, n := range c.store.ItemCounts() {
		c.metrics.StoreItems.WithLabelValues(resource).Set(float64(n))
	}
}
