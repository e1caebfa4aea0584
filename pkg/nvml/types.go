package nvml

import "fmt"

// Name identifies the NVML platform in DeviceIdentity.Platform.
const Name = "NVML"

// VendorNVIDIA is the PCI vendor ID reported for every NVML device.
const VendorNVIDIA uint16 = 0x10de

// uuidBufferSize bounds the buffer handed to nvmlDeviceGetUUID.
const uuidBufferSize = 100

// Version is a major/minor version pair.
type Version struct {
	Major uint16 `json:"major" yaml:"major"`
	Minor uint16 `json:"minor" yaml:"minor"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// DecodeDriverVersion splits the combined CUDA driver version integer
// reported by NVML (e.g. 12040) into its major and minor parts (12.4).
func DecodeDriverVersion(v int32) Version {
	return Version{
		Major: uint16(v / 1000),
		Minor: uint16((v % 1000) / 10),
	}
}

// DeviceIdentity is the static description of one device captured during
// enumeration. It never changes after the Registry is built.
type DeviceIdentity struct {
	Platform       string  `json:"platform" yaml:"platform"`
	PlatformIndex  int     `json:"platform_index" yaml:"platform_index"`
	DeviceIndex    int     `json:"device_index" yaml:"device_index"`
	GPU            bool    `json:"gpu" yaml:"gpu"`
	VendorID       uint16  `json:"vendor_id" yaml:"vendor_id"`
	DriverVersion  Version `json:"driver_version" yaml:"driver_version"`
	ComputeVersion Version `json:"compute_version" yaml:"compute_version"`
	PCIBus         uint32  `json:"pci_bus" yaml:"pci_bus"`
	PCISlot        uint32  `json:"pci_slot" yaml:"pci_slot"`
	PCIFunction    uint32  `json:"pci_function" yaml:"pci_function"`

	// Key is the vendor UUID string. It is only meaningful as an argument
	// to TryGetMeasurements and must not be shown as a device name.
	Key string `json:"key" yaml:"key"`
}

// Measurement is one telemetry reading. Values are narrowed from the
// native 32-bit results by truncation, so they are best-effort.
type Measurement struct {
	GPUFreqMHz      uint16 `json:"gpu_freq_mhz" yaml:"gpu_freq_mhz"`
	GPUFreqLimitMHz uint16 `json:"gpu_freq_limit_mhz" yaml:"gpu_freq_limit_mhz"`
	MemFreqMHz      uint16 `json:"mem_freq_mhz" yaml:"mem_freq_mhz"`
	MemFreqLimitMHz uint16 `json:"mem_freq_limit_mhz" yaml:"mem_freq_limit_mhz"`

	GPUTempC uint8 `json:"gpu_temp_c" yaml:"gpu_temp_c"`
	PState   uint8 `json:"pstate" yaml:"pstate"`

	CurrPCIeLinkWidth uint8 `json:"curr_pcie_link_width" yaml:"curr_pcie_link_width"`
	MaxPCIeLinkWidth  uint8 `json:"max_pcie_link_width" yaml:"max_pcie_link_width"`

	// Link generation can be limited independently by the device, the
	// slot and the currently negotiated state.
	CurrPCIeLinkGen      uint8 `json:"curr_pcie_link_gen" yaml:"curr_pcie_link_gen"`
	MaxPCIeLinkGen       uint8 `json:"max_pcie_link_gen" yaml:"max_pcie_link_gen"`
	MaxPCIeLinkGenDevice uint8 `json:"max_pcie_link_gen_device" yaml:"max_pcie_link_gen_device"`
}
