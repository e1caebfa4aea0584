// Package gpu collects NVIDIA GPU inventory and telemetry through NVML.
//
// Source owns the NVML registry for the whole process. It is created
// unopened; the first caller that needs the library triggers loading and
// device enumeration. If the library is missing the failure is remembered
// and the load is retried only after a cooldown, so a node without NVIDIA
// drivers costs one dlopen per cooldown instead of one per poll. Every call
// into the registry happens under the Source lock because NVML handles are
// not safe for concurrent use from this binding.
//
// GPUMetricsCollector polls the Source on a timer and writes one GPUSample
// per device into the store. A failed query drops that device's sample for
// the tick instead of exporting partially valid values.
package gpu
