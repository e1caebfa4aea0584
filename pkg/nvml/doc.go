// Package nvml binds the NVIDIA Management Library at runtime.
//
// The library is never linked at build time. A Loader supplied by the host
// opens the platform's NVML binary and resolves entry points by name on every
// call, so a driver whose export set differs from the one this package was
// written against only breaks the calls that actually use a missing symbol.
//
// Open builds a Registry: it initializes NVML, enumerates devices once and
// keeps their identity for the lifetime of the Registry. Devices that cannot
// be read during enumeration are skipped rather than failing the whole
// Registry. TryGetMeasurements is the steady-state telemetry query; it never
// returns an error, only a boolean, so a polling loop is not destabilized by
// a device that was removed or a driver that is momentarily busy.
//
// Nothing in this package is safe for concurrent use. Hosts that poll from
// several goroutines must serialize access to the Registry.
package nvml
