package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds all agent configuration values.
type Config struct {
	APIKey           string
	ClusterID        string
	NodeName         string
	BackendURL       string
	SnapshotInterval time.Duration
	CompressionLevel int
	MaxRetries       int
	RequestTimeout   time.Duration
	HealthPort       int
	AgentVersion     string

	// Security
	AllowInsecure  bool // KUBEADAPT_ALLOW_INSECURE, default: false; allows http:// BackendURL
	DebugEndpoints bool // KUBEADAPT_DEBUG_ENDPOINTS, default: false; enables pprof/debug on health port

	// GPU telemetry
	GPUPollInterval      time.Duration // KUBEADAPT_GPU_POLL_INTERVAL, default: 5s
	LibraryRetryCooldown time.Duration // KUBEADAPT_LIBRARY_RETRY_COOLDOWN, default: 5m
	CollectorSyncTimeout time.Duration // KUBEADAPT_COLLECTOR_SYNC_TIMEOUT, default: 30s

	// Cloud instance detection
	CloudMetadataEnabled bool          // KUBEADAPT_CLOUD_METADATA_ENABLED, default: true
	CloudMetadataTimeout time.Duration // KUBEADAPT_CLOUD_METADATA_TIMEOUT, default: 2s

	// Node inventory annotations
	NodeLabelingEnabled  bool          // KUBEADAPT_NODE_LABELING_ENABLED, default: true
	LabelRefreshInterval time.Duration // KUBEADAPT_LABEL_REFRESH_INTERVAL, default: 10m
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	cfg := Config{
		APIKey:           os.Getenv("KUBEADAPT_API_KEY"),
		ClusterID:        os.Getenv("KUBEADAPT_CLUSTER_ID"),
		NodeName:         nodeName(),
		BackendURL:       envOrDefault("KUBEADAPT_BACKEND_URL", "https://api.kubeadapt.io"),
		SnapshotInterval: parseDuration("KUBEADAPT_SNAPSHOT_INTERVAL", 60*time.Second),
		CompressionLevel: parseInt("KUBEADAPT_COMPRESSION_LEVEL", 3),
		MaxRetries:       parseInt("KUBEADAPT_MAX_RETRIES", 5),
		RequestTimeout:   parseDuration("KUBEADAPT_REQUEST_TIMEOUT", 30*time.Second),
		HealthPort:       parseInt("KUBEADAPT_HEALTH_PORT", 8080),
	}

	if cfg.ClusterID == "" {
		cfg.ClusterID = uuid.New().String()
	}

	cfg.AllowInsecure = parseBool("KUBEADAPT_ALLOW_INSECURE", false)
	cfg.DebugEndpoints = parseBool("KUBEADAPT_DEBUG_ENDPOINTS", false)

	cfg.GPUPollInterval = parseDuration("KUBEADAPT_GPU_POLL_INTERVAL", 5*time.Second)
	cfg.LibraryRetryCooldown = parseDuration("KUBEADAPT_LIBRARY_RETRY_COOLDOWN", 5*time.Minute)
	cfg.CollectorSyncTimeout = parseDuration("KUBEADAPT_COLLECTOR_SYNC_TIMEOUT", 30*time.Second)

	cfg.CloudMetadataEnabled = parseBool("KUBEADAPT_CLOUD_METADATA_ENABLED", true)
	cfg.CloudMetadataTimeout = parseDuration("KUBEADAPT_CLOUD_METADATA_TIMEOUT", 2*time.Second)

	cfg.NodeLabelingEnabled = parseBool("KUBEADAPT_NODE_LABELING_ENABLED", true)
	cfg.LabelRefreshInterval = parseDuration("KUBEADAPT_LABEL_REFRESH_INTERVAL", 10*time.Minute)

	return cfg
}

// nodeName resolves the node this agent runs on. The downward API usually
// injects NODE_NAME; the hostname is the last resort for bare-metal runs.
func nodeName() string {
	if v := os.Getenv("KUBEADAPT_NODE_NAME"); v != "" {
		return v
	}
	if v := os.Getenv("NODE_NAME"); v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
