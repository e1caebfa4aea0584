package model

// NodeGPUSnapshot is the payload sent to the backend every snapshot interval.
// One agent runs per node, so a snapshot describes the GPUs of a single node.
type NodeGPUSnapshot struct {
	// Identity
	SnapshotID   string `json:"snapshot_id"`
	ClusterID    string `json:"cluster_id"`
	NodeName     string `json:"node_name"`
	Timestamp    int64  `json:"timestamp"`
	AgentVersion string `json:"agent_version"`

	// Management library
	Library       string `json:"library"`
	DriverVersion string `json:"driver_version,omitempty"`

	// Host, nil when cloud detection is disabled or found nothing.
	Cloud *CloudInstance `json:"cloud,omitempty"`

	Devices []GPUDevice `json:"devices"`

	// Computed
	Summary GPUSummary `json:"summary"`

	// Agent health
	Health AgentHealth `json:"health"`
}

// GPUSummary holds node-level aggregates over the devices in a snapshot.
type GPUSummary struct {
	DeviceCount    int `json:"device_count"`
	ReportingCount int `json:"reporting_count"`

	// Aggregates are nil when no device reported a sample.
	MaxTemperatureC *uint8 `json:"max_temperature_c,omitempty"`
	MaxPState       *uint8 `json:"max_pstate,omitempty"`

	// Devices whose PCIe link runs below its own maximum generation or width.
	DegradedLinkCount int `json:"degraded_link_count"`

	ComputeCapabilities map[string]int `json:"compute_capabilities,omitempty"`
}

// AgentHealth is sent with every snapshot.
type AgentHealth struct {
	// Cumulative counters
	SnapshotsSentTotal   uint64 `json:"snapshots_sent_total"`
	SnapshotsFailedTotal uint64 `json:"snapshots_failed_total"`
	SnapshotsTotalCount  uint64 `json:"snapshots_total"`

	// Agent state
	State       string `json:"state"`
	StateReason string `json:"state_reason,omitempty"`

	// Snapshot build performance
	LastBuildDurationMs int64 `json:"last_build_duration_ms"`
	LastPollDurationMs  int64 `json:"last_poll_duration_ms"`
	LastSendDurationMs  int64 `json:"last_send_duration_ms"`

	// Payload size
	OriginalSizeBytes   int64   `json:"original_size_bytes"`
	CompressedSizeBytes int64   `json:"compressed_size_bytes"`
	CompressionRatio    float64 `json:"compression_ratio"`

	// Data source status
	LibraryAvailable   bool   `json:"library_available"`
	LibraryError       string `json:"library_error,omitempty"`
	LibraryOpenedAt    int64  `json:"library_opened_at,omitempty"`
	DevicesSkipped     int    `json:"devices_skipped"`
	QueryFailuresTotal uint64 `json:"query_failures_total"`
	CollectorsSynced   bool   `json:"collectors_synced"`

	// Errors
	ActiveErrorsCount int      `json:"active_errors_count"`
	ErrorCodes        []string `json:"error_codes,omitempty"`

	// Uptime
	UptimeSeconds int64 `json:"uptime_seconds"`
	StartedAt     int64 `json:"started_at"`

	// Quota (from last backend response)
	QuotaPlanType string `json:"quota_plan_type,omitempty"`
	QuotaGPULimit int    `json:"quota_gpu_limit,omitempty"`
	QuotaIsWithin bool   `json:"quota_is_within"`

	CollectedAt int64 `json:"collected_at"`
}

// CloudInstance identifies the cloud VM hosting the node. Provider is empty
// on bare metal or when no metadata service answered.
type CloudInstance struct {
	Provider     string `json:"provider"`
	Region       string `json:"region,omitempty"`
	Zone         string `json:"zone,omitempty"`
	InstanceType string `json:"instance_type,omitempty"`
	InstanceID   string `json:"instance_id,omitempty"`
}
