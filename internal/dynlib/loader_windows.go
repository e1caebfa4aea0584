//go:build windows

package dynlib

import (
	"fmt"
	"sync"

	"golang.org/x/sys/windows"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// Loader opens DLLs with LoadLibrary via golang.org/x/sys/windows.
type Loader struct{}

// Open loads name using the standard DLL search order.
func (Loader) Open(name string) (nvml.SharedLibrary, error) {
	dll, err := windows.LoadDLL(name)
	if err != nil {
		return nil, fmt.Errorf("dynlib: open %s: %w", name, err)
	}
	return &Library{name: name, dll: dll}, nil
}

// Library is a loaded DLL.
type Library struct {
	name string

	mu  sync.Mutex
	dll *windows.DLL
}

// Bind resolves symbol with GetProcAddress and binds it to fptr.
func (l *Library) Bind(fptr any, symbol string) error {
	l.mu.Lock()
	dll := l.dll
	l.mu.Unlock()
	if dll == nil {
		return ErrClosed
	}

	proc, err := dll.FindProc(symbol)
	if err != nil {
		return fmt.Errorf("%w: %s in %s: %v", ErrSymbolNotFound, symbol, l.name, err)
	}
	return register(fptr, proc.Addr(), symbol)
}

// Close releases the DLL. Further Bind calls fail with ErrClosed.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dll == nil {
		return nil
	}
	err := l.dll.Release()
	l.dll = nil
	if err != nil {
		return fmt.Errorf("dynlib: close %s: %w", l.name, err)
	}
	return nil
}
