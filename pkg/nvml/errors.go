package nvml

import (
	"errors"
	"fmt"
)

var (
	// ErrLibraryNotFound is returned when the loader cannot open the
	// platform's NVML binary. The package is unusable without it.
	ErrLibraryNotFound = errors.New("nvml: library not found")

	// ErrIndexOutOfRange matches every *IndexOutOfRangeError.
	ErrIndexOutOfRange = errors.New("nvml: device index out of range")

	// ErrUnknownDevice matches every *UnknownDeviceError.
	ErrUnknownDevice = errors.New("nvml: unknown device key")

	// ErrClosed is returned for calls made after Library.Close.
	ErrClosed = errors.New("nvml: library closed")
)

// CallError reports a foreign entry point that returned a nonzero status.
type CallError struct {
	Symbol string
	Code   Return
}

func (e *CallError) Error() string {
	return fmt.Sprintf("nvml: %s() returned %d (%s)", e.Symbol, int32(e.Code), e.Code)
}

// InitError reports a failed nvmlInit call. It unwraps to the CallError
// carrying the symbol name and status code.
type InitError struct {
	*CallError
}

func (e *InitError) Error() string {
	return "nvml: initialization failed: " + e.CallError.Error()
}

func (e *InitError) Unwrap() error {
	return e.CallError
}

// SymbolError reports an entry point that the loaded library does not
// export, or that could not be bound to the expected signature.
type SymbolError struct {
	Symbol string
	Err    error
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("nvml: resolve %s: %v", e.Symbol, e.Err)
}

func (e *SymbolError) Unwrap() error {
	return e.Err
}

// IndexOutOfRangeError is returned by Registry.Device for an index outside
// the enumerated set.
type IndexOutOfRangeError struct {
	Index int
	Count int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("nvml: invalid device index %d (have %d devices)", e.Index, e.Count)
}

func (e *IndexOutOfRangeError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}

// UnknownDeviceError is reported by TryGetMeasurements for a key that is
// not among the enumerated devices, including devices skipped during
// enumeration that the driver would still resolve.
type UnknownDeviceError struct {
	Key string
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("nvml: device %q was not enumerated", e.Key)
}

func (e *UnknownDeviceError) Is(target error) bool {
	return target == ErrUnknownDevice
}
