package gpu

import (
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// ToGPUDevice maps an NVML identity to the wire model. The Sample field is
// left nil.
func ToGPUDevice(id nvml.DeviceIdentity) model.GPUDevice {
	return model.GPUDevice{
		Index:             id.DeviceIndex,
		UUID:              id.Key,
		VendorID:          id.VendorID,
		ComputeCapability: id.ComputeVersion.String(),
		PCIBus:            id.PCIBus,
		PCISlot:           id.PCISlot,
		PCIFunction:       id.PCIFunction,
	}
}

// ToSample maps one measurement to a sample stamped with collectedAt
// (UnixMilli).
func ToSample(m nvml.Measurement, collectedAt int64) model.GPUSample {
	return model.GPUSample{
		CollectedAt:          collectedAt,
		GraphicsClockMHz:     m.GPUFreqMHz,
		GraphicsMaxClockMHz:  m.GPUFreqLimitMHz,
		MemoryClockMHz:       m.MemFreqMHz,
		MemoryMaxClockMHz:    m.MemFreqLimitMHz,
		TemperatureC:         m.GPUTempC,
		PState:               m.PState,
		PCIeLinkGen:          m.CurrPCIeLinkGen,
		PCIeLinkGenMax:       m.MaxPCIeLinkGen,
		PCIeLinkGenDeviceMax: m.MaxPCIeLinkGenDevice,
		PCIeLinkWidth:        m.CurrPCIeLinkWidth,
		PCIeLinkWidthMax:     m.MaxPCIeLinkWidth,
	}
}
