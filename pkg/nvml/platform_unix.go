//go:build !windows && !darwin

package nvml

const libraryName = "libnvidia-ml.so"
