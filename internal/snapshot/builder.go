package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/collector/gpu"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/config"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/errors"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/store"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// staleFactor is how many poll intervals a sample may age before it is
// left out of the snapshot.
const staleFactor = 3

// LibraryStatusProvider abstracts the GPU source status for testability.
type LibraryStatusProvider interface {
	Status() gpu.Status
}

// PollTimer reports how long the last GPU poll took.
type PollTimer interface {
	LastPollDuration() time.Duration
}

// CloudInfo identifies the instance the node runs on.
type CloudInfo interface {
	Instance(ctx context.Context) model.CloudInstance
}

// SnapshotBuilder reads the store, drops stale samples, computes the summary
// and the data source part of the agent health, and returns a complete
// NodeGPUSnapshot. Counters owned by the agent loop are left zero.
type SnapshotBuilder struct {
	store          *store.Store
	config         *config.Config
	metrics        *observability.Metrics
	errorCollector *errors.ErrorCollector
	library        LibraryStatusProvider
	poller         PollTimer
	cloud          CloudInfo
	now            func() time.Time
}

// NewSnapshotBuilder creates a SnapshotBuilder. metrics, library and poller
// may be nil.
func NewSnapshotBuilder(
	store *store.Store,
	cfg *config.Config,
	metrics *observability.Metrics,
	errCollector *errors.ErrorCollector,
	library LibraryStatusProvider,
	poller PollTimer,
) *SnapshotBuilder {
	return &SnapshotBuilder{
		store:          store,
		config:         cfg,
		metrics:        metrics,
		errorCollector: errCollector,
		library:        library,
		poller:         poller,
		now:            time.Now,
	}
}

// SetCloud attaches cloud instance detection to every snapshot.
func (b *SnapshotBuilder) SetCloud(c CloudInfo) {
	b.cloud = c
}

// Build assembles a snapshot from the current store contents.
func (b *SnapshotBuilder) Build(ctx context.Context) *model.NodeGPUSnapshot {
	start := b.now()

	snap := &model.NodeGPUSnapshot{
		SnapshotID:   uuid.New().String(),
		ClusterID:    b.config.ClusterID,
		NodeName:     b.config.NodeName,
		Timestamp:    start.UnixMilli(),
		AgentVersion: b.config.AgentVersion,
		Library:      nvml.LibraryName(),
	}

	if b.cloud != nil {
		if inst := b.cloud.Instance(ctx); inst.Provider != "" {
			snap.Cloud = &inst
		}
	}

	snap.Devices = b.store.DevicesWithSamples()
	b.dropStaleSamples(snap.Devices, start)
	snap.Summary = ComputeSummary(snap.Devices)

	if b.library != nil {
		st := b.library.Status()
		snap.Health.LibraryAvailable = st.Available
		snap.Health.LibraryError = st.Error
		snap.Health.DevicesSkipped = st.DevicesSkipped
		snap.Health.QueryFailuresTotal = st.QueryFailures
		if st.Available {
			snap.DriverVersion = st.DriverVersion.String()
			snap.Health.LibraryOpenedAt = st.OpenedAt.UnixMilli()
		}
	}
	if b.poller != nil {
		snap.Health.LastPollDurationMs = b.poller.LastPollDuration().Milliseconds()
	}
	if b.errorCollector != nil {
		snap.Health.ErrorCodes = b.errorCollector.GetActiveErrorCodes()
		snap.Health.ActiveErrorsCount = len(b.errorCollector.GetActiveErrors())
	}

	elapsed := b.now().Sub(start)
	snap.Health.LastBuildDurationMs = elapsed.Milliseconds()
	snap.Health.CollectedAt = start.UnixMilli()

	if b.metrics != nil {
		b.metrics.SnapshotBuildDuration.Observe(elapsed.Seconds())
	}
	return snap
}

// dropStaleSamples clears samples older than staleFactor poll intervals, so
// a collector that stopped polling does not keep reporting old telemetry.
func (b *SnapshotBuilder) dropStaleSamples(devices []model.GPUDevice, now time.Time) {
	if b.config.GPUPollInterval <= 0 {
		return
	}
	threshold := staleFactor * b.config.GPUPollInterval
	for i := range devices {
		s := devices[i].Sample
		if s == nil {
			continue
		}
		if age := now.Sub(time.UnixMilli(s.CollectedAt)); age > threshold {
			devices[i].Sample = nil
		}
	}
}
