package nvml

import "fmt"

// Return is an nvmlReturn_t status code.
type Return int32

// Status codes returned by NVML entry points.
const (
	Success                    Return = 0
	ErrorUninitialized         Return = 1
	ErrorInvalidArgument       Return = 2
	ErrorNotSupported          Return = 3
	ErrorNoPermission          Return = 4
	ErrorAlreadyInitialized    Return = 5
	ErrorNotFound              Return = 6
	ErrorInsufficientSize      Return = 7
	ErrorInsufficientPower     Return = 8
	ErrorDriverNotLoaded       Return = 9
	ErrorTimeout               Return = 10
	ErrorIRQIssue              Return = 11
	ErrorLibraryNotFound       Return = 12
	ErrorFunctionNotFound      Return = 13
	ErrorCorruptedInforom      Return = 14
	ErrorGPUIsLost             Return = 15
	ErrorResetRequired         Return = 16
	ErrorOperatingSystem       Return = 17
	ErrorLibRMVersionMismatch  Return = 18
	ErrorInUse                 Return = 19
	ErrorMemory                Return = 20
	ErrorNoData                Return = 21
	ErrorVGPUECCNotEnabled     Return = 22
	ErrorInsufficientResources Return = 23
	ErrorFreqNotSupported      Return = 24
	ErrorArgumentVersion       Return = 25
	ErrorDeprecated            Return = 26
	ErrorNotReady              Return = 27
	ErrorGPUNotFound           Return = 28
	ErrorInvalidState          Return = 29
	ErrorUnknown               Return = 999
)

var returnNames = map[Return]string{
	Success:                    "NVML_SUCCESS",
	ErrorUninitialized:         "NVML_ERROR_UNINITIALIZED",
	ErrorInvalidArgument:       "NVML_ERROR_INVALID_ARGUMENT",
	ErrorNotSupported:          "NVML_ERROR_NOT_SUPPORTED",
	ErrorNoPermission:          "NVML_ERROR_NO_PERMISSION",
	ErrorAlreadyInitialized:    "NVML_ERROR_ALREADY_INITIALIZED",
	ErrorNotFound:              "NVML_ERROR_NOT_FOUND",
	ErrorInsufficientSize:      "NVML_ERROR_INSUFFICIENT_SIZE",
	ErrorInsufficientPower:     "NVML_ERROR_INSUFFICIENT_POWER",
	ErrorDriverNotLoaded:       "NVML_ERROR_DRIVER_NOT_LOADED",
	ErrorTimeout:               "NVML_ERROR_TIMEOUT",
	ErrorIRQIssue:              "NVML_ERROR_IRQ_ISSUE",
	ErrorLibraryNotFound:       "NVML_ERROR_LIBRARY_NOT_FOUND",
	ErrorFunctionNotFound:      "NVML_ERROR_FUNCTION_NOT_FOUND",
	ErrorCorruptedInforom:      "NVML_ERROR_CORRUPTED_INFOROM",
	ErrorGPUIsLost:             "NVML_ERROR_GPU_IS_LOST",
	ErrorResetRequired:         "NVML_ERROR_RESET_REQUIRED",
	ErrorOperatingSystem:       "NVML_ERROR_OPERATING_SYSTEM",
	ErrorLibRMVersionMismatch:  "NVML_ERROR_LIB_RM_VERSION_MISMATCH",
	ErrorInUse:                 "NVML_ERROR_IN_USE",
	ErrorMemory:                "NVML_ERROR_MEMORY",
	ErrorNoData:                "NVML_ERROR_NO_DATA",
	ErrorVGPUECCNotEnabled:     "NVML_ERROR_VGPU_ECC_NOT_ENABLED",
	ErrorInsufficientResources: "NVML_ERROR_INSUFFICIENT_RESOURCES",
	ErrorFreqNotSupported:      "NVML_ERROR_FREQ_NOT_SUPPORTED",
	ErrorArgumentVersion:       "NVML_ERROR_ARGUMENT_VERSION_MISMATCH",
	ErrorDeprecated:            "NVML_ERROR_DEPRECATED",
	ErrorNotReady:              "NVML_ERROR_NOT_READY",
	ErrorGPUNotFound:           "NVML_ERROR_GPU_NOT_FOUND",
	ErrorInvalidState:          "NVML_ERROR_INVALID_STATE",
	ErrorUnknown:               "NVML_ERROR_UNKNOWN",
}

// String returns the NVML constant name, or the bare number for codes
// introduced by drivers newer than this table.
func (r Return) String() string {
	if name, ok := returnNames[r]; ok {
		return name
	}
	return fmt.Sprintf("nvmlReturn(%d)", int32(r))
}
