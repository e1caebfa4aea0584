package snapshot

import (
	"k8s.io/utils/ptr"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

// ComputeSummary calculates node-level aggregates over devices. Devices
// without a sample count toward DeviceCount only.
func ComputeSummary(devices []model.GPUDevice) model.GPUSummary {
	s := model.GPUSummary{DeviceCount: len(devices)}

	var maxTemp, maxPState uint8
	for i := range devices {
		d := &devices[i]
		if d.ComputeCapability != "" {
			if s.ComputeCapabilities == nil {
				s.ComputeCapabilities = make(map[string]int)
			}
			s.ComputeCapabilities[d.ComputeCapability]++
		}

		if d.Sample == nil {
			continue
		}
		s.ReportingCount++
		maxTemp = max(maxTemp, d.Sample.TemperatureC)
		maxPState = max(maxPState, d.Sample.PState)
		if d.Sample.LinkDegraded() {
			s.DegradedLinkCount++
		}
	}

	if s.ReportingCount > 0 {
		s.MaxTemperatureC = ptr.To(maxTemp)
		s.MaxPState = ptr.To(maxPState)
	}
	return s
}
