package nvml

// Exported NVML entry points. The versioned names match what
// libnvidia-ml has exported since the R450 drivers.
const (
	symInit                       = "nvmlInit_v2"
	symShutdown                   = "nvmlShutdown"
	symSystemGetCudaDriverVersion = "nvmlSystemGetCudaDriverVersion_v2"
	symDeviceGetCount             = "nvmlDeviceGetCount_v2"
	symDeviceGetHandleByIndex     = "nvmlDeviceGetHandleByIndex_v2"
	symDeviceGetHandleByUUID      = "nvmlDeviceGetHandleByUUID"
	symDeviceGetUUID              = "nvmlDeviceGetUUID"
	symDeviceGetComputeCapability = "nvmlDeviceGetCudaComputeCapability"
	symDeviceGetPciInfo           = "nvmlDeviceGetPciInfo_v3"

	symDeviceGetClock                  = "nvmlDeviceGetClock"
	symDeviceGetMaxClockInfo           = "nvmlDeviceGetMaxClockInfo"
	symDeviceGetTemperature            = "nvmlDeviceGetTemperature"
	symDeviceGetPerformanceState       = "nvmlDeviceGetPerformanceState"
	symDeviceGetCurrPcieLinkGeneration = "nvmlDeviceGetCurrPcieLinkGeneration"
	symDeviceGetMaxPcieLinkGeneration  = "nvmlDeviceGetMaxPcieLinkGeneration"
	symDeviceGetGpuMaxPcieLinkGen      = "nvmlDeviceGetGpuMaxPcieLinkGeneration"
	symDeviceGetCurrPcieLinkWidth      = "nvmlDeviceGetCurrPcieLinkWidth"
	symDeviceGetMaxPcieLinkWidth       = "nvmlDeviceGetMaxPcieLinkWidth"
)

// deviceHandle is an opaque nvmlDevice_t.
type deviceHandle uintptr

// clockType is nvmlClockType_t.
type clockType uint32

const (
	clockGraphics clockType = 0
	clockMem      clockType = 2
)

// clockID is nvmlClockId_t.
type clockID uint32

const clockIDCurrent clockID = 0

// temperatureSensor is nvmlTemperatureSensors_t.
type temperatureSensor uint32

const temperatureGPU temperatureSensor = 0

// pciInfo mirrors the nvmlPciInfo_t layout filled by nvmlDeviceGetPciInfo_v3.
type pciInfo struct {
	BusIDLegacy    [16]byte
	Domain         uint32
	Bus            uint32
	Device         uint32
	PCIDeviceID    uint32
	PCISubSystemID uint32
	BusID          [32]byte
}

// Signatures of the bound entry points.
type (
	initFunc                       func() Return
	shutdownFunc                   func() Return
	systemGetCudaDriverVersionFunc func(version *int32) Return
	deviceGetCountFunc             func(count *uint32) Return
	deviceGetHandleByIndexFunc     func(index uint32, device *deviceHandle) Return
	deviceGetHandleByUUIDFunc      func(uuid string, device *deviceHandle) Return
	deviceGetUUIDFunc              func(device deviceHandle, uuid *byte, length uint32) Return
	deviceGetComputeCapabilityFunc func(device deviceHandle, major, minor *int32) Return
	deviceGetPciInfoFunc           func(device deviceHandle, info *pciInfo) Return
	deviceGetClockFunc             func(device deviceHandle, typ clockType, id clockID, mhz *uint32) Return
	deviceGetMaxClockInfoFunc      func(device deviceHandle, typ clockType, mhz *uint32) Return
	deviceGetTemperatureFunc       func(device deviceHandle, sensor temperatureSensor, temp *uint32) Return
	deviceGetPerformanceStateFunc  func(device deviceHandle, pstate *int32) Return
	deviceGetUintFunc              func(device deviceHandle, value *uint32) Return
)
