package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/collector"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/config"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/errors"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/snapshot"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/transport"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

const defaultSyncTimeout = 30 * time.Second

// Agent is the main orchestrator that wires together all subsystems and runs
// the snapshot-send loop.
type Agent struct {
	config         *config.Config
	registry       *collector.Registry
	builder        *snapshot.SnapshotBuilder
	transport      *transport.Client
	stateMachine   *StateMachine
	errorCollector *errors.ErrorCollector
	metrics        *observability.Metrics

	latestSnapshot atomic.Pointer[model.NodeGPUSnapshot]
	lastQuota      atomic.Pointer[model.QuotaStatus]
	sent           atomic.Uint64
	failed         atomic.Uint64
	total          atomic.Uint64
	ready          atomic.Bool
	startedAt      time.Time
}

// NewAgent creates an Agent with all required dependencies.
func NewAgent(
	cfg *config.Config,
	registry *collector.Registry,
	builder *snapshot.SnapshotBuilder,
	transport *transport.Client,
	stateMachine *StateMachine,
	errCollector *errors.ErrorCollector,
	metrics *observability.Metrics,
) *Agent {
	a := &Agent{
		config:         cfg,
		registry:       registry,
		builder:        builder,
		transport:      transport,
		stateMachine:   stateMachine,
		errorCollector: errCollector,
		metrics:        metrics,
		startedAt:      time.Now(),
	}
	if metrics != nil {
		stateMachine.SetObserver(func(current AgentState) {
			for _, s := range AllStates {
				v := 0.0
				if s == current {
					v = 1
				}
				metrics.AgentState.WithLabelValues(string(s)).Set(v)
			}
		})
	}
	return a
}

// IsReady reports whether the agent has completed initial sync and is
// actively collecting data. Implements health.ReadinessChecker.
func (a *Agent) IsReady() bool {
	return a.ready.Load()
}

// LatestSnapshot returns the most recent NodeGPUSnapshot, or nil if none
// has been built yet. Implements health.SnapshotProvider.
func (a *Agent) LatestSnapshot() interface{} {
	snap := a.latestSnapshot.Load()
	if snap == nil {
		return nil
	}
	return snap
}

// Run executes the agent lifecycle: start collectors, wait for sync,
// then enter the snapshot-send loop until the context is canceled or
// the state machine transitions to a terminal state.
func (a *Agent) Run(ctx context.Context) error {
	// 1. Start all collectors.
	if err := a.registry.StartAll(ctx); err != nil {
		var partial *collector.PartialStartError
		if stderrors.As(err, &partial) {
			slog.Warn("some collectors failed to start, continuing with partial data",
				"failed", partial.Failed, "total", partial.Total)
		} else {
			return fmt.Errorf("failed to start collectors: %w", err)
		}
	}
	defer a.registry.StopAll()

	// 2. Wait for the first pass of every collector.
	a.waitForSync(ctx)

	// 3. Transition to Running.
	a.stateMachine.TransitionTo(StateRunning, "collectors synced")
	a.ready.Store(true)
	slog.Info("agent is ready", "state", StateRunning)

	// 4. Main loop.
	interval := a.config.SnapshotInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Do first snapshot immediately.
	a.resetTicker(ticker, &interval, a.doSnapshot(ctx))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		state := a.stateMachine.State()
		switch state {
		case StateRunning:
			a.resetTicker(ticker, &interval, a.doSnapshot(ctx))
		case StateBackoff:
			if a.stateMachine.IsBackoffExpired() {
				a.stateMachine.TransitionTo(StateRunning, "backoff expired")
				a.resetTicker(ticker, &interval, a.doSnapshot(ctx))
			} else {
				slog.Debug("in backoff, skipping snapshot",
					"remaining", a.stateMachine.BackoffRemaining())
			}
		}

		if s := a.stateMachine.State(); s == StateStopped || s == StateExiting {
			slog.Info("agent exiting", "state", s,
				"reason", a.stateMachine.StateReason())
			return nil
		}
	}
}

func (a *Agent) waitForSync(ctx context.Context) {
	timeout := a.config.CollectorSyncTimeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	slog.Info("waiting for collector sync", "timeout", timeout)

	syncCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := a.registry.WaitForSync(syncCtx)
	if err == nil {
		a.errorCollector.Resolve(errors.ErrCollectorSyncTimeout, "agent")
		slog.Info("collector sync completed",
			"elapsed", time.Since(start).Round(time.Millisecond))
		return
	}

	a.errorCollector.ReportErr(errors.ErrCollectorSyncTimeout, "agent", err)
	var pending []string
	var syncErr *collector.SyncError
	if stderrors.As(err, &syncErr) {
		pending = syncErr.Pending
	}
	// Partial data is still sent.
	slog.Warn("collector sync incomplete, continuing with partial data",
		"error", err,
		"pending", pending,
		"timeout", timeout,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

// resetTicker applies the backend's next_snapshot_in_seconds directive.
// A zero directive restores the configured interval.
func (a *Agent) resetTicker(ticker *time.Ticker, current *time.Duration, next time.Duration) {
	if next <= 0 {
		next = a.config.SnapshotInterval
	}
	if next == *current {
		return
	}
	slog.Info("snapshot interval changed", "from", *current, "to", next)
	*current = next
	ticker.Reset(next)
}

// doSnapshot builds and sends one snapshot. It returns the interval the
// backend asked for, or 0.
func (a *Agent) doSnapshot(ctx context.Context) time.Duration {
	snap := a.builder.Build(ctx)
	a.total.Add(1)
	a.fillHealth(&snap.Health)
	a.latestSnapshot.Store(snap)

	resp, err := a.transport.Send(ctx, snap)
	if err != nil {
		a.failed.Add(1)
		var se *transport.StatusError
		if stderrors.As(err, &se) {
			a.stateMachine.HandleHTTPStatus(se.StatusCode, se.RetryAfterSeconds)
		}
		slog.Error("snapshot send failed",
			"snapshot_id", snap.SnapshotID,
			"error", err,
			"state", a.stateMachine.State(),
		)
		return 0
	}
	a.sent.Add(1)

	state := a.stateMachine.State()
	if state == StateStopped || state == StateExiting {
		return 0
	}
	a.stateMachine.HandleHTTPStatus(200, 0)

	if resp == nil {
		return 0
	}
	a.lastQuota.Store(&resp.Quota)
	slog.Info("snapshot sent successfully",
		"snapshot_id", snap.SnapshotID,
		"devices", len(snap.Devices),
		"quota_plan", resp.Quota.PlanType,
		"within_quota", resp.Quota.IsWithinQuota,
	)
	return time.Duration(resp.Directives.NextSnapshotInSeconds) * time.Second
}

// fillHealth adds the counters owned by the agent loop to a freshly built
// snapshot. Send statistics describe the previous send.
func (a *Agent) fillHealth(h *model.AgentHealth) {
	h.SnapshotsSentTotal = a.sent.Load()
	h.SnapshotsFailedTotal = a.failed.Load()
	h.SnapshotsTotalCount = a.total.Load()
	h.State = string(a.stateMachine.State())
	h.StateReason = a.stateMachine.StateReason()
	h.CollectorsSynced = a.registry.Synced()
	h.StartedAt = a.startedAt.UnixMilli()
	h.UptimeSeconds = int64(time.Since(a.startedAt).Seconds())

	stats := a.transport.LastStats()
	h.LastSendDurationMs = stats.Duration.Milliseconds()
	h.OriginalSizeBytes = stats.OriginalBytes
	h.CompressedSizeBytes = stats.CompressedBytes
	h.CompressionRatio = stats.Ratio()

	if q := a.lastQuota.Load(); q != nil {
		h.QuotaPlanType = q.PlanType
		h.QuotaGPULimit = q.GPULimit
		h.QuotaIsWithin = q.IsWithinQuota
	}
}
