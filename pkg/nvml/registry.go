package nvml

import (
	"bytes"
	"fmt"
	"iter"
)

// Registry is the enumerated set of NVML devices. Device identity is
// captured once in NewRegistry and never changes afterwards; index i always
// refers to the same device.
type Registry struct {
	lib           *Library
	opts          options
	driverVersion Version
	devices       []DeviceIdentity
	keys          map[string]struct{}
}

// Open opens and initializes NVML through loader and enumerates its
// devices. It is OpenLibrary followed by NewRegistry.
func Open(loader Loader, opts ...Option) (*Registry, error) {
	lib, err := OpenLibrary(loader, opts...)
	if err != nil {
		return nil, err
	}
	return NewRegistry(lib, opts...)
}

// NewRegistry enumerates the devices visible through lib and takes
// ownership of it. Failing to read the driver version or the device count
// is returned as an error and lib is closed. A device that cannot be read
// is logged, reported and left out; it does not stop enumeration.
func NewRegistry(lib *Library, opts ...Option) (*Registry, error) {
	r := &Registry{lib: lib, opts: newOptions(opts), keys: make(map[string]struct{})}

	var version int32
	err := call(lib, symSystemGetCudaDriverVersion, func(fn systemGetCudaDriverVersionFunc) Return {
		return fn(&version)
	})
	if err != nil {
		_ = lib.Close()
		return nil, err
	}
	r.driverVersion = DecodeDriverVersion(version)

	var count uint32
	if err := call(lib, symDeviceGetCount, func(fn deviceGetCountFunc) Return { return fn(&count) }); err != nil {
		_ = lib.Close()
		return nil, err
	}

	for i := range count {
		dev, err := r.readDevice(i)
		if err != nil {
			r.opts.logger.Warn("skipping nvml device", "index", i, "error", err)
			r.opts.report("enumerate", fmt.Errorf("device %d: %w", i, err))
			continue
		}
		r.devices = append(r.devices, dev)
		r.keys[dev.Key] = struct{}{}
	}

	r.opts.logger.Info("nvml devices enumerated",
		"driver_version", r.driverVersion.String(),
		"reported", count,
		"enumerated", len(r.devices),
	)
	return r, nil
}

func (r *Registry) readDevice(index uint32) (DeviceIdentity, error) {
	dev := DeviceIdentity{
		Platform:      Name,
		PlatformIndex: 0,
		DeviceIndex:   int(index),
		GPU:           true,
		VendorID:      VendorNVIDIA,
		DriverVersion: r.driverVersion,
		PCIFunction:   0,
	}

	var handle deviceHandle
	err := call(r.lib, symDeviceGetHandleByIndex, func(fn deviceGetHandleByIndexFunc) Return {
		return fn(index, &handle)
	})
	if err != nil {
		return dev, err
	}

	var major, minor int32
	err = call(r.lib, symDeviceGetComputeCapability, func(fn deviceGetComputeCapabilityFunc) Return {
		return fn(handle, &major, &minor)
	})
	if err != nil {
		return dev, err
	}
	dev.ComputeVersion = Version{Major: uint16(major), Minor: uint16(minor)}

	var pci pciInfo
	if err := call(r.lib, symDeviceGetPciInfo, func(fn deviceGetPciInfoFunc) Return { return fn(handle, &pci) }); err != nil {
		return dev, err
	}
	dev.PCIBus = pci.Bus
	dev.PCISlot = pci.Device

	buf := make([]byte, uuidBufferSize)
	err = call(r.lib, symDeviceGetUUID, func(fn deviceGetUUIDFunc) Return {
		return fn(handle, &buf[0], uint32(len(buf)))
	})
	if err != nil {
		return dev, err
	}
	dev.Key = clampCString(buf)

	return dev, nil
}

// clampCString returns buf up to its first NUL, or all of buf when the
// foreign side did not terminate it.
func clampCString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// DriverVersion returns the CUDA driver version read at construction.
func (r *Registry) DriverVersion() Version {
	return r.driverVersion
}

// DeviceCount returns the number of successfully enumerated devices, which
// can be lower than the number the driver reports.
func (r *Registry) DeviceCount() int {
	return len(r.devices)
}

// Device returns the identity at index i.
func (r *Registry) Device(i int) (DeviceIdentity, error) {
	if i < 0 || i >= len(r.devices) {
		return DeviceIdentity{}, &IndexOutOfRangeError{Index: i, Count: len(r.devices)}
	}
	return r.devices[i], nil
}

// Devices returns a copy of all enumerated identities in index order.
func (r *Registry) Devices() []DeviceIdentity {
	out := make([]DeviceIdentity, len(r.devices))
	copy(out, r.devices)
	return out
}

// All iterates the enumerated identities in order.
func (r *Registry) All() iter.Seq2[int, DeviceIdentity] {
	return func(yield func(int, DeviceIdentity) bool) {
		for i, dev := range r.devices {
			if !yield(i, dev) {
				return
			}
		}
	}
}

// TryGetMeasurements reads the current telemetry of the device identified
// by key into out. It returns false if the key is not one of the
// enumerated devices, does not resolve to a live device, or any query
// fails; in that case the contents of out are unspecified and must not be
// used. Failures are logged and reported, never returned.
//
// Each call performs a dozen library calls. It is meant for polling
// intervals, not tight loops.
func (r *Registry) TryGetMeasurements(key string, out *Measurement) bool {
	if out == nil {
		return false
	}
	if err := r.measure(key, out); err != nil {
		r.opts.logger.Debug("nvml measurement failed", "key", key, "error", err)
		r.opts.report("measure", err)
		return false
	}
	return true
}

func (r *Registry) measure(key string, out *Measurement) error {
	if _, ok := r.keys[key]; !ok {
		return &UnknownDeviceError{Key: key}
	}

	var handle deviceHandle
	err := call(r.lib, symDeviceGetHandleByUUID, func(fn deviceGetHandleByUUIDFunc) Return {
		return fn(key, &handle)
	})
	if err != nil {
		return err
	}

	v, err := r.clock(handle, clockGraphics)
	if err != nil {
		return err
	}
	out.GPUFreqMHz = uint16(v)

	if v, err = r.maxClock(handle, clockGraphics); err != nil {
		return err
	}
	out.GPUFreqLimitMHz = uint16(v)

	if v, err = r.clock(handle, clockMem); err != nil {
		return err
	}
	out.MemFreqMHz = uint16(v)

	if v, err = r.maxClock(handle, clockMem); err != nil {
		return err
	}
	out.MemFreqLimitMHz = uint16(v)

	err = call(r.lib, symDeviceGetTemperature, func(fn deviceGetTemperatureFunc) Return {
		return fn(handle, temperatureGPU, &v)
	})
	if err != nil {
		return err
	}
	out.GPUTempC = uint8(v)

	var pstate int32
	err = call(r.lib, symDeviceGetPerformanceState, func(fn deviceGetPerformanceStateFunc) Return {
		return fn(handle, &pstate)
	})
	if err != nil {
		return err
	}
	out.PState = uint8(pstate)

	if v, err = r.uintQuery(handle, symDeviceGetCurrPcieLinkGeneration); err != nil {
		return err
	}
	out.CurrPCIeLinkGen = uint8(v)

	if v, err = r.uintQuery(handle, symDeviceGetMaxPcieLinkGeneration); err != nil {
		return err
	}
	out.MaxPCIeLinkGen = uint8(v)

	if v, err = r.uintQuery(handle, symDeviceGetGpuMaxPcieLinkGen); err != nil {
		return err
	}
	out.MaxPCIeLinkGenDevice = uint8(v)

	if v, err = r.uintQuery(handle, symDeviceGetCurrPcieLinkWidth); err != nil {
		return err
	}
	out.CurrPCIeLinkWidth = uint8(v)

	if v, err = r.uintQuery(handle, symDeviceGetMaxPcieLinkWidth); err != nil {
		return err
	}
	out.MaxPCIeLinkWidth = uint8(v)

	return nil
}

func (r *Registry) clock(handle deviceHandle, typ clockType) (uint32, error) {
	var mhz uint32
	err := call(r.lib, symDeviceGetClock, func(fn deviceGetClockFunc) Return {
		return fn(handle, typ, clockIDCurrent, &mhz)
	})
	return mhz, err
}

func (r *Registry) maxClock(handle deviceHandle, typ clockType) (uint32, error) {
	var mhz uint32
	err := call(r.lib, symDeviceGetMaxClockInfo, func(fn deviceGetMaxClockInfoFunc) Return {
		return fn(handle, typ, &mhz)
	})
	return mhz, err
}

// uintQuery runs one of the PCIe link entry points, which all share the
// (device, *uint) signature.
func (r *Registry) uintQuery(handle deviceHandle, symbol string) (uint32, error) {
	var value uint32
	err := call(r.lib, symbol, func(fn deviceGetUintFunc) Return { return fn(handle, &value) })
	return value, err
}

// Close shuts down and releases the underlying Library. It never fails.
func (r *Registry) Close() error {
	return r.lib.Close()
}
