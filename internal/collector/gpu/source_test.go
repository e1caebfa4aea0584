package gpu

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/errors"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

func testSourceOptions(clock *mockClock) SourceOptions {
	return SourceOptions{
		RetryCooldown:  time.Minute,
		Logger:         slog.New(slog.DiscardHandler),
		Clock:          clock,
		ErrorCollector: errors.NewErrorCollector(clock),
		Metrics:        observability.NewMetrics(),
	}
}

func TestSource_OpensLazily(t *testing.T) {
	fake := newFakeNVML(2)
	src := NewSource(fake, testSourceOptions(newMockClock()))
	defer src.Close()

	assert.False(t, src.Available())
	assert.Equal(t, int32(0), fake.opens.Load(), "constructor must not load the library")

	devices, err := src.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "GPU-00000000-aaaa-bbbb-cccc-000000000000", devices[0].Key)
	assert.Equal(t, "9.0", devices[1].ComputeVersion.String())
	assert.True(t, src.Available())

	_, err = src.Devices()
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.opens.Load())
}

func TestSource_Measure(t *testing.T) {
	fake := newFakeNVML(2)
	src := NewSource(fake, testSourceOptions(newMockClock()))
	defer src.Close()

	m, ok := src.Measure(fake.uuids[1])
	require.True(t, ok)
	assert.Equal(t, uint16(1980), m.GPUFreqMHz)
	assert.Equal(t, uint16(2619), m.MemFreqLimitMHz)
	assert.Equal(t, uint8(61), m.GPUTempC)
	assert.Equal(t, uint8(5), m.MaxPCIeLinkGenDevice)
	assert.Equal(t, uint8(16), m.MaxPCIeLinkWidth)

	fake.setFailing(fake.uuids[1], true)
	_, ok = src.Measure(fake.uuids[1])
	assert.False(t, ok)
	assert.Equal(t, uint64(1), src.Status().QueryFailures)

	_, ok = src.Measure("GPU-unknown")
	assert.False(t, ok)
}

func TestSource_ConcurrentCallersAreSerialized(t *testing.T) {
	fake := newFakeNVML(4)
	fake.setFailing(fake.uuids[3], true)
	src := NewSource(fake, testSourceOptions(newMockClock()))
	defer src.Close()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Go(func() {
			for i := range 25 {
				switch (g + i) % 3 {
				case 0:
					src.Measure(fake.uuids[(g+i)%len(fake.uuids)])
				case 1:
					devices, err := src.Devices()
					assert.NoError(t, err)
					assert.Len(t, devices, 4)
				default:
					src.Status()
					src.DriverVersion()
				}
			}
		})
	}
	wg.Wait()

	assert.Zero(t, fake.overlaps.Load(), "library calls overlapped")
	assert.Equal(t, int32(1), fake.opens.Load())
	st := src.Status()
	assert.True(t, st.Available)
	assert.NotZero(t, st.QueryFailures)
}

func TestSource_MissingLibraryIsCachedUntilCooldown(t *testing.T) {
	clock := newMockClock()
	opts := testSourceOptions(clock)
	loader := &missingLoader{}
	src := NewSource(loader, opts)

	_, err := src.Devices()
	require.ErrorIs(t, err, nvml.ErrLibraryNotFound)
	assert.Equal(t, int32(1), loader.calls.Load())

	_, ok := src.Measure("GPU-0")
	assert.False(t, ok)
	_, ok = src.DriverVersion()
	assert.False(t, ok)
	clock.Advance(59 * time.Second)
	_, err = src.Devices()
	require.ErrorIs(t, err, nvml.ErrLibraryNotFound)
	assert.Equal(t, int32(1), loader.calls.Load(), "no reload inside the cooldown")

	clock.Advance(2 * time.Second)
	_, err = src.Devices()
	require.Error(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())

	assert.Contains(t, opts.ErrorCollector.GetActiveErrorCodes(), string(errors.ErrLibraryUnavailable))
	assert.InDelta(t, 2, testutil.ToFloat64(opts.Metrics.LibraryOpenTotal.WithLabelValues("not_found")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(opts.Metrics.LibraryAvailable), 0)

	st := src.Status()
	assert.False(t, st.Available)
	assert.Contains(t, st.Error, "library not found")
	assert.Equal(t, clock.Now(), st.LastAttempt)
}

func TestSource_ZeroCooldownRetriesEveryCall(t *testing.T) {
	opts := testSourceOptions(newMockClock())
	opts.RetryCooldown = 0
	loader := &missingLoader{}
	src := NewSource(loader, opts)

	for range 3 {
		_, err := src.Devices()
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), loader.calls.Load())
}

func TestSource_InitFailureReportsInitFailed(t *testing.T) {
	clock := newMockClock()
	opts := testSourceOptions(clock)
	fake := newFakeNVML(1)
	fake.initCode = nvml.ErrorDriverNotLoaded
	src := NewSource(fake, opts)

	_, err := src.Devices()
	var initErr *nvml.InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, []string{string(errors.ErrInitFailed)}, opts.ErrorCollector.GetActiveErrorCodes())
	assert.InDelta(t, 1, testutil.ToFloat64(opts.Metrics.LibraryOpenTotal.WithLabelValues("init_failed")), 0)
	assert.Equal(t, int32(1), fake.closes.Load(), "library released after failed init")
}

func TestSource_RecoversAfterCooldown(t *testing.T) {
	clock := newMockClock()
	opts := testSourceOptions(clock)
	fake := newFakeNVML(1)
	fake.initCode = nvml.ErrorDriverNotLoaded
	src := NewSource(fake, opts)
	defer src.Close()

	_, err := src.Devices()
	require.Error(t, err)

	fake.initCode = nvml.Success
	clock.Advance(time.Minute)

	devices, err := src.Devices()
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Empty(t, opts.ErrorCollector.GetActiveErrorCodes())
	assert.InDelta(t, 1, testutil.ToFloat64(opts.Metrics.LibraryAvailable), 0)

	st := src.Status()
	assert.True(t, st.Available)
	assert.Equal(t, "12.4", st.DriverVersion.String())
	assert.Empty(t, st.Error)
	assert.Equal(t, clock.Now(), st.OpenedAt)
}

func TestSource_DriverVersion(t *testing.T) {
	src := NewSource(newFakeNVML(1), testSourceOptions(newMockClock()))
	defer src.Close()

	v, ok := src.DriverVersion()
	require.True(t, ok)
	assert.Equal(t, nvml.Version{Major: 12, Minor: 4}, v)
}

func TestSource_Close(t *testing.T) {
	fake := newFakeNVML(1)
	opts := testSourceOptions(newMockClock())
	src := NewSource(fake, opts)

	_, err := src.Devices()
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.Equal(t, int32(1), fake.closes.Load())
	assert.False(t, src.Available())
	assert.InDelta(t, 0, testutil.ToFloat64(opts.Metrics.LibraryAvailable), 0)

	_, err = src.Devices()
	require.ErrorIs(t, err, ErrSourceClosed)
	_, ok := src.Measure(fake.uuids[0])
	assert.False(t, ok)
}

func TestSource_CloseBeforeOpen(t *testing.T) {
	fake := newFakeNVML(1)
	src := NewSource(fake, testSourceOptions(newMockClock()))

	require.NoError(t, src.Close())
	_, err := src.Devices()
	require.ErrorIs(t, err, ErrSourceClosed)
	assert.Equal(t, int32(0), fake.opens.Load())
}
