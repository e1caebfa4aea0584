package nvml

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"
)

var errFakeSymbol = errors.New("symbol not exported")

// fakeLibrary binds registered Go funcs in place of foreign symbols.
type fakeLibrary struct {
	symbols map[string]any
	bound   []string
	closed  bool
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{symbols: make(map[string]any)}
}

func (f *fakeLibrary) set(symbol string, fn any) {
	f.symbols[symbol] = fn
}

func (f *fakeLibrary) Bind(fptr any, symbol string) error {
	fn, ok := f.symbols[symbol]
	if !ok {
		return errFakeSymbol
	}
	dst := reflect.ValueOf(fptr).Elem()
	src := reflect.ValueOf(fn)
	if !src.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("fake %s has type %s, want %s", symbol, src.Type(), dst.Type())
	}
	dst.Set(src)
	f.bound = append(f.bound, symbol)
	return nil
}

func (f *fakeLibrary) Close() error {
	f.closed = true
	return nil
}

type fakeLoader struct {
	lib    *fakeLibrary
	err    error
	opened []string
}

func (l *fakeLoader) Open(name string) (SharedLibrary, error) {
	l.opened = append(l.opened, name)
	if l.err != nil {
		return nil, l.err
	}
	return l.lib, nil
}

// fakeDevice is one simulated GPU.
type fakeDevice struct {
	uuid         string
	major, minor int32
	bus, slot    uint32

	gpuClock, gpuMaxClock uint32
	memClock, memMaxClock uint32
	temp                  uint32
	pstate                int32
	currGen, maxGen       uint32
	deviceMaxGen          uint32
	currWidth, maxWidth   uint32
}

// fakeNVML is a simulated driver. Devices are addressed by handle = index+1.
type fakeNVML struct {
	driverVersion int32
	devices       []fakeDevice

	// failAt makes the named symbol return failCode for the given device
	// index; -1 fails it for every device.
	failAt   map[string]int
	failCode Return

	initCode     Return
	shutdownCode Return
	shutdowns    int
}

func newFakeNVML(n int) *fakeNVML {
	f := &fakeNVML{
		driverVersion: 12040,
		failAt:        make(map[string]int),
		failCode:      ErrorNotSupported,
	}
	for i := range n {
		f.devices = append(f.devices, fakeDevice{
			uuid:         fmt.Sprintf("GPU-%08d-0000-0000-0000-000000000000", i),
			major:        8,
			minor:        6,
			bus:          uint32(0x10 + i),
			slot:         0,
			gpuClock:     1800,
			gpuMaxClock:  2100,
			memClock:     9501,
			memMaxClock:  9751,
			temp:         54,
			pstate:       2,
			currGen:      4,
			maxGen:       4,
			deviceMaxGen: 5,
			currWidth:    16,
			maxWidth:     16,
		})
	}
	return f
}

func (f *fakeNVML) fails(symbol string, h deviceHandle) bool {
	idx, ok := f.failAt[symbol]
	return ok && (idx == -1 || deviceHandle(idx+1) == h)
}

func (f *fakeNVML) device(h deviceHandle) (*fakeDevice, bool) {
	i := int(h) - 1
	if i < 0 || i >= len(f.devices) {
		return nil, false
	}
	return &f.devices[i], true
}

// library builds a fakeLibrary exporting every symbol the package uses.
func (f *fakeNVML) library() *fakeLibrary {
	lib := newFakeLibrary()

	lib.set(symInit, initFunc(func() Return { return f.initCode }))
	lib.set(symShutdown, shutdownFunc(func() Return {
		f.shutdowns++
		return f.shutdownCode
	}))
	lib.set(symSystemGetCudaDriverVersion, systemGetCudaDriverVersionFunc(func(v *int32) Return {
		if f.fails(symSystemGetCudaDriverVersion, 0) {
			return f.failCode
		}
		*v = f.driverVersion
		return Success
	}))
	lib.set(symDeviceGetCount, deviceGetCountFunc(func(c *uint32) Return {
		if f.fails(symDeviceGetCount, 0) {
			return f.failCode
		}
		*c = uint32(len(f.devices))
		return Success
	}))
	lib.set(symDeviceGetHandleByIndex, deviceGetHandleByIndexFunc(func(i uint32, h *deviceHandle) Return {
		if f.fails(symDeviceGetHandleByIndex, deviceHandle(i+1)) {
			return f.failCode
		}
		if int(i) >= len(f.devices) {
			return ErrorInvalidArgument
		}
		*h = deviceHandle(i + 1)
		return Success
	}))
	lib.set(symDeviceGetHandleByUUID, deviceGetHandleByUUIDFunc(func(uuid string, h *deviceHandle) Return {
		for i, d := range f.devices {
			if d.uuid == uuid {
				*h = deviceHandle(i + 1)
				return Success
			}
		}
		return ErrorNotFound
	}))
	lib.set(symDeviceGetComputeCapability, deviceGetComputeCapabilityFunc(func(h deviceHandle, major, minor *int32) Return {
		d, ok := f.device(h)
		if !ok || f.fails(symDeviceGetComputeCapability, h) {
			return f.failCode
		}
		*major, *minor = d.major, d.minor
		return Success
	}))
	lib.set(symDeviceGetPciInfo, deviceGetPciInfoFunc(func(h deviceHandle, info *pciInfo) Return {
		d, ok := f.device(h)
		if !ok || f.fails(symDeviceGetPciInfo, h) {
			return f.failCode
		}
		info.Bus, info.Device = d.bus, d.slot
		return Success
	}))
	lib.set(symDeviceGetUUID, deviceGetUUIDFunc(func(h deviceHandle, buf *byte, n uint32) Return {
		d, ok := f.device(h)
		if !ok || f.fails(symDeviceGetUUID, h) {
			return f.failCode
		}
		dst := unsafe.Slice(buf, n)
		if len(d.uuid)+1 > len(dst) {
			return ErrorInsufficientSize
		}
		copy(dst, d.uuid)
		dst[len(d.uuid)] = 0
		return Success
	}))
	lib.set(symDeviceGetClock, deviceGetClockFunc(func(h deviceHandle, typ clockType, _ clockID, mhz *uint32) Return {
		d, ok := f.device(h)
		if !ok || f.fails(symDeviceGetClock, h) {
			return f.failCode
		}
		if typ == clockMem {
			*mhz = d.memClock
		} else {
			*mhz = d.gpuClock
		}
		return Success
	}))
	lib.set(symDeviceGetMaxClockInfo, deviceGetMaxClockInfoFunc(func(h deviceHandle, typ clockType, mhz *uint32) Return {
		d, ok := f.device(h)
		if !ok || f.fails(symDeviceGetMaxClockInfo, h) {
			return f.failCode
		}
		if typ == clockMem {
			*mhz = d.memMaxClock
		} else {
			*mhz = d.gpuMaxClock
		}
		return Success
	}))
	lib.set(symDeviceGetTemperature, deviceGetTemperatureFunc(func(h deviceHandle, _ temperatureSensor, t *uint32) Return {
		d, ok := f.device(h)
		if !ok || f.fails(symDeviceGetTemperature, h) {
			return f.failCode
		}
		*t = d.temp
		return Success
	}))
	lib.set(symDeviceGetPerformanceState, deviceGetPerformanceStateFunc(func(h deviceHandle, p *int32) Return {
		d, ok := f.device(h)
		if !ok || f.fails(symDeviceGetPerformanceState, h) {
			return f.failCode
		}
		*p = d.pstate
		return Success
	}))

	uintSymbol := func(symbol string, get func(*fakeDevice) uint32) {
		lib.set(symbol, deviceGetUintFunc(func(h deviceHandle, v *uint32) Return {
			d, ok := f.device(h)
			if !ok || f.fails(symbol, h) {
				return f.failCode
			}
			*v = get(d)
			return Success
		}))
	}
	uintSymbol(symDeviceGetCurrPcieLinkGeneration, func(d *fakeDevice) uint32 { return d.currGen })
	uintSymbol(symDeviceGetMaxPcieLinkGeneration, func(d *fakeDevice) uint32 { return d.maxGen })
	uintSymbol(symDeviceGetGpuMaxPcieLinkGen, func(d *fakeDevice) uint32 { return d.deviceMaxGen })
	uintSymbol(symDeviceGetCurrPcieLinkWidth, func(d *fakeDevice) uint32 { return d.currWidth })
	uintSymbol(symDeviceGetMaxPcieLinkWidth, func(d *fakeDevice) uint32 { return d.maxWidth })

	return lib
}

func (f *fakeNVML) loader() *fakeLoader {
	return &fakeLoader{lib: f.library()}
}
