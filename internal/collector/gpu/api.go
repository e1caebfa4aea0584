package gpu

import "github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"

// DeviceSource abstracts the NVML registry for the collectors so they can be
// tested without a loader. *Source implements it.
type DeviceSource interface {
	// Devices returns the enumerated identities in index order.
	Devices() ([]nvml.DeviceIdentity, error)
	// Measure reads one device's telemetry. ok is false if any query failed.
	Measure(key string) (m nvml.Measurement, ok bool)
}

// Inventory is the read side the node labeler needs.
type Inventory interface {
	Devices() ([]nvml.DeviceIdentity, error)
	DriverVersion() (nvml.Version, bool)
}

var (
	_ DeviceSource = (*Source)(nil)
	_ Inventory    = (*Source)(nil)
)
