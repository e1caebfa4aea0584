package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: KUBEADAPT_API_KEY is required")
	}

	if c.BackendURL == "" {
		return fmt.Errorf("config: KUBEADAPT_BACKEND_URL is required")
	}
	if !c.AllowInsecure && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("config: KUBEADAPT_BACKEND_URL must use https:// (got %q); set KUBEADAPT_ALLOW_INSECURE=true to override", c.BackendURL)
	}

	if c.NodeName == "" {
		return fmt.Errorf("config: KUBEADAPT_NODE_NAME could not be resolved")
	}

	if c.SnapshotInterval < 10*time.Second {
		return fmt.Errorf("config: SnapshotInterval must be >= 10s, got %v", c.SnapshotInterval)
	}

	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		return fmt.Errorf("config: CompressionLevel must be 1-4, got %d", c.CompressionLevel)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("config: HealthPort must be 1-65535, got %d", c.HealthPort)
	}

	if c.CloudMetadataEnabled && c.CloudMetadataTimeout <= 0 {
		return fmt.Errorf("config: CloudMetadataTimeout must be > 0, got %v", c.CloudMetadataTimeout)
	}

	return c.ValidateLocal()
}

// ValidateLocal checks only the settings that drive local GPU polling.
// One-shot inventory dumps never talk to the backend and skip the rest.
func (c Config) ValidateLocal() error {
	if c.GPUPollInterval < time.Second {
		return fmt.Errorf("config: GPUPollInterval must be >= 1s, got %v", c.GPUPollInterval)
	}

	if c.LibraryRetryCooldown < 0 {
		return fmt.Errorf("config: LibraryRetryCooldown must be >= 0, got %v", c.LibraryRetryCooldown)
	}

	if c.NodeLabelingEnabled && c.LabelRefreshInterval < time.Minute {
		return fmt.Errorf("config: LabelRefreshInterval must be >= 1m, got %v", c.LabelRefreshInterval)
	}

	return nil
}
