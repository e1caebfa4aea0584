package store

import (
	"cmp"
	"slices"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

// Store holds what the collectors learned about the local GPUs. Devices is
// the identity inventory (Sample always nil), Samples the latest successful
// poll per device. Both are keyed by device UUID.
type Store struct {
	Devices *TypedStore[model.GPUDevice]
	Samples *TypedStore[model.GPUSample]
}

// NewStore creates a Store with both TypedStores initialized.
func NewStore() *Store {
	return &Store{
		Devices: NewTypedStore[model.GPUDevice](),
		Samples: NewTypedStore[model.GPUSample](),
	}
}

// SetInventory replaces the device inventory and drops samples of devices
// that are no longer enumerated.
func (s *Store) SetInventory(devices []model.GPUDevice) {
	items := make(map[string]model.GPUDevice, len(devices))
	for _, d := range devices {
		d.Sample = nil
		items[d.UUID] = d
	}
	s.Devices.Replace(items)
	s.Samples.Retain(func(key string) bool {
		_, ok := items[key]
		return ok
	})
}

// DevicesWithSamples returns the inventory in device index order, each
// device carrying a copy of its latest sample when one exists.
func (s *Store) DevicesWithSamples() []model.GPUDevice {
	devices := s.Devices.Values()
	samples := s.Samples.Snapshot()

	slices.SortFunc(devices, func(a, b model.GPUDevice) int {
		return cmp.Compare(a.Index, b.Index)
	})
	for i := range devices {
		if sample, ok := samples[devices[i].UUID]; ok {
			devices[i].Sample = &sample
		}
	}
	return devices
}

// LastUpdatedTimes returns the UnixMilli timestamp of the last update for each typed store.
// Used by the snapshot builder for staleness detection.
func (s *Store) LastUpdatedTimes() map[string]int64 {
	return map[string]int64{
		"devices": s.Devices.LastUpdated(),
		"samples": s.Samples.LastUpdated(),
	}
}

// ItemCounts returns the number of items in each typed store.
// Implements health.StoreStats.
func (s *Store) ItemCounts() map[string]int {
	return map[string]int{
		"devices": s.Devices.Len(),
		"samples": s.Samples.Len(),
	}
}
