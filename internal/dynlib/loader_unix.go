//go:build darwin || freebsd || linux

package dynlib

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// Loader opens libraries with dlopen(RTLD_NOW|RTLD_GLOBAL).
type Loader struct{}

// Open loads name. A bare ".so" name that only exists with its ABI suffix
// on the host (driver packages ship libnvidia-ml.so.1 but the unversioned
// link only with development headers) is retried as name+".1".
func (Loader) Open(name string) (nvml.SharedLibrary, error) {
	handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil && strings.HasSuffix(name, ".so") {
		var retryErr error
		handle, retryErr = purego.Dlopen(name+".1", purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if retryErr == nil {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dynlib: open %s: %w", name, err)
	}
	return &Library{name: name, handle: handle}, nil
}

// Library is a dlopen handle.
type Library struct {
	name string

	mu     sync.Mutex
	handle uintptr
}

// Bind resolves symbol with dlsym and binds it to fptr.
func (l *Library) Bind(fptr any, symbol string) error {
	l.mu.Lock()
	handle := l.handle
	l.mu.Unlock()
	if handle == 0 {
		return ErrClosed
	}

	addr, err := purego.Dlsym(handle, symbol)
	if err != nil {
		return fmt.Errorf("%w: %s in %s: %v", ErrSymbolNotFound, symbol, l.name, err)
	}
	return register(fptr, addr, symbol)
}

// Close releases the handle. Further Bind calls fail with ErrClosed.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("dynlib: close %s: %w", l.name, err)
	}
	return nil
}
