package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

// Metrics holds all Prometheus metrics for agent self-monitoring and the GPU
// telemetry gauges. It uses a custom registry to avoid polluting the global
// default.
type Metrics struct {
	Registry *prometheus.Registry

	// Snapshot metrics
	SnapshotBuildDuration prometheus.Histogram
	SnapshotSendDuration  prometheus.Histogram
	SnapshotSizeBytes     *prometheus.HistogramVec
	SnapshotSendTotal     *prometheus.CounterVec

	// Store metrics
	StoreItems *prometheus.GaugeVec

	// Transport metrics
	TransportRetries prometheus.Counter

	// State metrics
	AgentState *prometheus.GaugeVec

	// Compression metrics
	CompressionRatio    prometheus.Gauge
	CompressionDuration prometheus.Histogram

	// Management library metrics
	LibraryAvailable prometheus.Gauge
	LibraryOpenTotal *prometheus.CounterVec
	DevicesSkipped   prometheus.Gauge

	// GPU poll metrics
	GPUPollDuration       prometheus.Histogram
	GPUQueryFailuresTotal *prometheus.CounterVec

	// Per-device telemetry, labeled by gpu index and uuid.
	GPUDevices            prometheus.Gauge
	GPUClockMHz           *prometheus.GaugeVec
	GPUTemperatureCelsius *prometheus.GaugeVec
	GPUPerformanceState   *prometheus.GaugeVec
	GPUPCIeLinkGeneration *prometheus.GaugeVec
	GPUPCIeLinkWidth      *prometheus.GaugeVec

	// Node annotation metrics
	LabelPatchTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	sizeBuckets := prometheus.ExponentialBuckets(256, 4, 8)
	deviceLabels := []string{"gpu", "uuid"}

	m := &Metrics{
		Registry: reg,

		SnapshotBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kubeadapt_agent_snapshot_build_duration_seconds",
			Help:    "Duration of snapshot build operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kubeadapt_agent_snapshot_send_duration_seconds",
			Help:    "Duration of snapshot send operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubeadapt_agent_snapshot_size_bytes",
			Help:    "Size of snapshots in bytes.",
			Buckets: sizeBuckets,
		}, []string{"type"}),
		SnapshotSendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeadapt_agent_snapshot_send_total",
			Help: "Total number of snapshot send attempts.",
		}, []string{"status"}),

		StoreItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_store_items",
			Help: "Current number of items in the store.",
		}, []string{"resource"}),

		TransportRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kubeadapt_agent_transport_retries_total",
			Help: "Total number of transport retry attempts.",
		}),

		AgentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_state",
			Help: "Current agent state (1 = active, 0 = inactive).",
		}, []string{"state"}),

		CompressionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_compression_ratio",
			Help: "Current compression ratio (compressed/original).",
		}),
		CompressionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kubeadapt_agent_compression_duration_seconds",
			Help:    "Duration of compression operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		LibraryAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_gpu_library_available",
			Help: "Whether the GPU management library is loaded and initialized (1) or not (0).",
		}),
		LibraryOpenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeadapt_agent_gpu_library_open_total",
			Help: "Total number of attempts to load the GPU management library.",
		}, []string{"result"}),
		DevicesSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_gpu_devices_skipped",
			Help: "Number of devices dropped during enumeration because an identity query failed.",
		}),

		GPUPollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kubeadapt_agent_gpu_poll_duration_seconds",
			Help:    "Duration of one telemetry poll across all devices in seconds.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}),
		GPUQueryFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeadapt_agent_gpu_query_failures_total",
			Help: "Total number of telemetry queries that returned no measurement.",
		}, deviceLabels),

		GPUDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_gpu_devices",
			Help: "Number of enumerated GPU devices.",
		}),
		GPUClockMHz: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_gpu_clock_mhz",
			Help: "GPU clock frequency in MHz by domain (graphics, memory) and kind (current, max).",
		}, append(deviceLabels, "domain", "kind")),
		GPUTemperatureCelsius: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_gpu_temperature_celsius",
			Help: "GPU core temperature in degrees Celsius.",
		}, deviceLabels),
		GPUPerformanceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_gpu_performance_state",
			Help: "GPU performance state (0 = maximum performance, 15 = minimum).",
		}, deviceLabels),
		GPUPCIeLinkGeneration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_gpu_pcie_link_generation",
			Help: "PCIe link generation by kind (current, max, device_max).",
		}, append(deviceLabels, "kind")),
		GPUPCIeLinkWidth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kubeadapt_agent_gpu_pcie_link_width",
			Help: "PCIe link width in lanes by kind (current, max).",
		}, append(deviceLabels, "kind")),

		LabelPatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeadapt_agent_node_annotation_patch_total",
			Help: "Total number of node annotation patch attempts.",
		}, []string{"status"}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.SnapshotBuildDuration,
		m.SnapshotSendDuration,
		m.SnapshotSizeBytes,
		m.SnapshotSendTotal,
		m.StoreItems,
		m.TransportRetries,
		m.AgentState,
		m.CompressionRatio,
		m.CompressionDuration,
		m.LibraryAvailable,
		m.LibraryOpenTotal,
		m.DevicesSkipped,
		m.GPUPollDuration,
		m.GPUQueryFailuresTotal,
		m.GPUDevices,
		m.GPUClockMHz,
		m.GPUTemperatureCelsius,
		m.GPUPerformanceState,
		m.GPUPCIeLinkGeneration,
		m.GPUPCIeLinkWidth,
		m.LabelPatchTotal,
	)

	return m
}

// ObserveSample sets every per-device gauge from a successful poll.
func (m *Metrics) ObserveSample(dev model.GPUDevice, s model.GPUSample) {
	gpu, uuid := strconv.Itoa(dev.Index), dev.UUID

	m.GPUClockMHz.WithLabelValues(gpu, uuid, "graphics", "current").Set(float64(s.GraphicsClockMHz))
	m.GPUClockMHz.WithLabelValues(gpu, uuid, "graphics", "max").Set(float64(s.GraphicsMaxClockMHz))
	m.GPUClockMHz.WithLabelValues(gpu, uuid, "memory", "current").Set(float64(s.MemoryClockMHz))
	m.GPUClockMHz.WithLabelValues(gpu, uuid, "memory", "max").Set(float64(s.MemoryMaxClockMHz))

	m.GPUTemperatureCelsius.WithLabelValues(gpu, uuid).Set(float64(s.TemperatureC))
	m.GPUPerformanceState.WithLabelValues(gpu, uuid).Set(float64(s.PState))

	m.GPUPCIeLinkGeneration.WithLabelValues(gpu, uuid, "current").Set(float64(s.PCIeLinkGen))
	m.GPUPCIeLinkGeneration.WithLabelValues(gpu, uuid, "max").Set(float64(s.PCIeLinkGenMax))
	m.GPUPCIeLinkGeneration.WithLabelValues(gpu, uuid, "device_max").Set(float64(s.PCIeLinkGenDeviceMax))
	m.GPUPCIeLinkWidth.WithLabelValues(gpu, uuid, "current").Set(float64(s.PCIeLinkWidth))
	m.GPUPCIeLinkWidth.WithLabelValues(gpu, uuid, "max").Set(float64(s.PCIeLinkWidthMax))
}

// ForgetDevice removes the per-device gauges so a failed or vanished device
// does not keep exporting its last good values. Failure counters are kept.
func (m *Metrics) ForgetDevice(dev model.GPUDevice) {
	match := prometheus.Labels{"gpu": strconv.Itoa(dev.Index), "uuid": dev.UUID}

	m.GPUClockMHz.DeletePartialMatch(match)
	m.GPUTemperatureCelsius.DeletePartialMatch(match)
	m.GPUPerformanceState.DeletePartialMatch(match)
	m.GPUPCIeLinkGeneration.DeletePartialMatch(match)
	m.GPUPCIeLinkWidth.DeletePartialMatch(match)
}
