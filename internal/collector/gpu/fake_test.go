package gpu

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// fakeNVML is an in-memory NVML that binds every entry point through
// reflect.MakeFunc, so the package's unexported signatures need not be
// named here. Handles are index+1.
type fakeNVML struct {
	mu          sync.Mutex
	uuids       []string
	failMeasure map[string]bool
	initCode    nvml.Return

	opens  atomic.Int32
	closes atomic.Int32

	// inFlight counts foreign calls in progress; overlaps records every
	// call that started while another was still running.
	inFlight atomic.Int32
	overlaps atomic.Int32
}

func newFakeNVML(n int) *fakeNVML {
	f := &fakeNVML{failMeasure: make(map[string]bool)}
	for i := range n {
		f.uuids = append(f.uuids, fmt.Sprintf("GPU-%08d-aaaa-bbbb-cccc-000000000000", i))
	}
	return f
}

func (f *fakeNVML) setFailing(uuid string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMeasure[uuid] = failing
}

func (f *fakeNVML) Open(string) (nvml.SharedLibrary, error) {
	f.opens.Add(1)
	return &fakeShared{f: f}, nil
}

// missingLoader simulates a host without the driver.
type missingLoader struct {
	calls atomic.Int32
}

func (l *missingLoader) Open(name string) (nvml.SharedLibrary, error) {
	l.calls.Add(1)
	return nil, fmt.Errorf("%s: cannot open shared object file", name)
}

type fakeShared struct {
	f *fakeNVML
}

func (s *fakeShared) Close() error {
	s.f.closes.Add(1)
	return nil
}

func (s *fakeShared) Bind(fptr any, symbol string) error {
	impl, ok := s.f.impl(symbol)
	if !ok {
		return errors.New("symbol not exported")
	}
	target := reflect.ValueOf(fptr).Elem()
	target.Set(reflect.MakeFunc(target.Type(), func(args []reflect.Value) []reflect.Value {
		if s.f.inFlight.Add(1) > 1 {
			s.f.overlaps.Add(1)
		}
		defer s.f.inFlight.Add(-1)
		return []reflect.Value{reflect.ValueOf(impl(args))}
	}))
	return nil
}

func (f *fakeNVML) handle(v reflect.Value) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := int(v.Uint()) - 1
	if i < 0 || i >= len(f.uuids) {
		return "", false
	}
	return f.uuids[i], true
}

func (f *fakeNVML) measuring(args []reflect.Value, set func()) nvml.Return {
	uuid, ok := f.handle(args[0])
	if !ok {
		return nvml.ErrorInvalidArgument
	}
	f.mu.Lock()
	failing := f.failMeasure[uuid]
	f.mu.Unlock()
	if failing {
		return nvml.ErrorGPUIsLost
	}
	set()
	return nvml.Success
}

func (f *fakeNVML) impl(symbol string) (func([]reflect.Value) nvml.Return, bool) {
	switch symbol {
	case "nvmlInit_v2":
		return func([]reflect.Value) nvml.Return { return f.initCode }, true
	case "nvmlShutdown":
		return func([]reflect.Value) nvml.Return { return nvml.Success }, true
	case "nvmlSystemGetCudaDriverVersion_v2":
		return func(a []reflect.Value) nvml.Return {
			a[0].Elem().SetInt(12040)
			return nvml.Success
		}, true
	case "nvmlDeviceGetCount_v2":
		return func(a []reflect.Value) nvml.Return {
			f.mu.Lock()
			defer f.mu.Unlock()
			a[0].Elem().SetUint(uint64(len(f.uuids)))
			return nvml.Success
		}, true
	case "nvmlDeviceGetHandleByIndex_v2":
		return func(a []reflect.Value) nvml.Return {
			a[1].Elem().SetUint(a[0].Uint() + 1)
			return nvml.Success
		}, true
	case "nvmlDeviceGetHandleByUUID":
		return func(a []reflect.Value) nvml.Return {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, u := range f.uuids {
				if u == a[0].String() {
					a[1].Elem().SetUint(uint64(i + 1))
					return nvml.Success
				}
			}
			return nvml.ErrorNotFound
		}, true
	case "nvmlDeviceGetUUID":
		return func(a []reflect.Value) nvml.Return {
			uuid, ok := f.handle(a[0])
			if !ok {
				return nvml.ErrorInvalidArgument
			}
			buf := unsafe.Slice((*byte)(a[1].UnsafePointer()), int(a[2].Uint()))
			buf[copy(buf, uuid)] = 0
			return nvml.Success
		}, true
	case "nvmlDeviceGetCudaComputeCapability":
		return func(a []reflect.Value) nvml.Return {
			a[1].Elem().SetInt(9)
			a[2].Elem().SetInt(0)
			return nvml.Success
		}, true
	case "nvmlDeviceGetPciInfo_v3":
		return func(a []reflect.Value) nvml.Return {
			info := a[1].Elem()
			info.FieldByName("Bus").SetUint(0x16 + a[0].Uint())
			info.FieldByName("Device").SetUint(0)
			return nvml.Success
		}, true
	case "nvmlDeviceGetClock":
		return func(a []reflect.Value) nvml.Return {
			return f.measuring(a, func() {
				mhz := uint64(1980)
				if a[1].Uint() == 2 {
					mhz = 2619
				}
				a[3].Elem().SetUint(mhz)
			})
		}, true
	case "nvmlDeviceGetMaxClockInfo":
		return func(a []reflect.Value) nvml.Return {
			return f.measuring(a, func() {
				mhz := uint64(1980)
				if a[1].Uint() == 2 {
					mhz = 2619
				}
				a[2].Elem().SetUint(mhz)
			})
		}, true
	case "nvmlDeviceGetTemperature":
		return func(a []reflect.Value) nvml.Return {
			return f.measuring(a, func() { a[2].Elem().SetUint(61) })
		}, true
	case "nvmlDeviceGetPerformanceState":
		return func(a []reflect.Value) nvml.Return {
			return f.measuring(a, func() { a[1].Elem().SetInt(0) })
		}, true
	case "nvmlDeviceGetCurrPcieLinkGeneration", "nvmlDeviceGetMaxPcieLinkGeneration", "nvmlDeviceGetGpuMaxPcieLinkGeneration":
		return func(a []reflect.Value) nvml.Return {
			return f.measuring(a, func() { a[1].Elem().SetUint(5) })
		}, true
	case "nvmlDeviceGetCurrPcieLinkWidth", "nvmlDeviceGetMaxPcieLinkWidth":
		return func(a []reflect.Value) nvml.Return {
			return f.measuring(a, func() { a[1].Elem().SetUint(16) })
		}, true
	}
	return nil, false
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
