package model

// GPUDevice is the static identity of one GPU plus its most recent sample.
type GPUDevice struct {
	Index             int    `json:"index"`
	UUID              string `json:"uuid"`
	VendorID          uint16 `json:"vendor_id"`
	ComputeCapability string `json:"compute_capability"`
	PCIBus            uint32 `json:"pci_bus"`
	PCISlot           uint32 `json:"pci_slot"`
	PCIFunction       uint32 `json:"pci_function"`

	// Sample is nil when the last poll of this device failed.
	Sample *GPUSample `json:"sample,omitempty"`
}

// GPUSample is one successful telemetry poll of a device. Values are quantized
// to the widths the management library contract guarantees.
type GPUSample struct {
	CollectedAt int64 `json:"collected_at"`

	GraphicsClockMHz    uint16 `json:"graphics_clock_mhz"`
	GraphicsMaxClockMHz uint16 `json:"graphics_max_clock_mhz"`
	MemoryClockMHz      uint16 `json:"memory_clock_mhz"`
	MemoryMaxClockMHz   uint16 `json:"memory_max_clock_mhz"`

	TemperatureC uint8 `json:"temperature_c"`
	PState       uint8 `json:"pstate"`

	PCIeLinkGen          uint8 `json:"pcie_link_gen"`
	PCIeLinkGenMax       uint8 `json:"pcie_link_gen_max"`
	PCIeLinkGenDeviceMax uint8 `json:"pcie_link_gen_device_max"`
	PCIeLinkWidth        uint8 `json:"pcie_link_width"`
	PCIeLinkWidthMax     uint8 `json:"pcie_link_width_max"`
}

// LinkDegraded reports whether the PCIe link trained below its maximum
// generation or width.
func (s *GPUSample) LinkDegraded() bool {
	return s.PCIeLinkGen < s.PCIeLinkGenMax || s.PCIeLinkWidth < s.PCIeLinkWidthMax
}
