//go:build !(darwin || freebsd || linux || windows)

package dynlib

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// ErrUnsupported is returned by Open on platforms without a loader.
var ErrUnsupported = errors.New("dynlib: dynamic loading not supported")

// Loader always fails on this platform.
type Loader struct{}

// Open returns ErrUnsupported.
func (Loader) Open(name string) (nvml.SharedLibrary, error) {
	return nil, fmt.Errorf("%w on %s: %s", ErrUnsupported, runtime.GOOS, name)
}
