package nvml

import (
	"errors"
	"fmt"
)

// Library owns an opened NVML binary and the nvmlInit/nvmlShutdown pair.
type Library struct {
	lib  SharedLibrary
	opts options
}

// OpenLibrary opens the platform's NVML binary through loader and
// initializes it. A loader failure is returned wrapped in
// ErrLibraryNotFound; a failed nvmlInit is returned as *InitError.
func OpenLibrary(loader Loader, opts ...Option) (*Library, error) {
	o := newOptions(opts)

	name := LibraryName()
	lib, err := loader.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLibraryNotFound, name, err)
	}

	l := &Library{lib: lib, opts: o}
	if err := call(l, symInit, func(fn initFunc) Return { return fn() }); err != nil {
		_ = lib.Close()
		var ce *CallError
		if errors.As(err, &ce) {
			return nil, &InitError{CallError: ce}
		}
		return nil, err
	}

	o.logger.Debug("nvml initialized", "library", name)
	return l, nil
}

// Close shuts NVML down and releases the library. Shutdown failures are
// logged and reported, never returned, so Close is always safe to call
// during teardown. Calling Close more than once is a no-op.
func (l *Library) Close() error {
	if l == nil || l.lib == nil {
		return nil
	}

	if err := call(l, symShutdown, func(fn shutdownFunc) Return { return fn() }); err != nil {
		l.opts.logger.Error("nvml shutdown failed", "error", err)
		l.opts.report("shutdown", err)
	}

	if err := l.lib.Close(); err != nil {
		l.opts.logger.Warn("failed to release nvml library", "error", err)
	}
	l.lib = nil
	return nil
}

// call is the single path into the foreign library: resolve symbol as a
// function of type F, run invoke with it and translate a nonzero status
// into a *CallError.
func call[F any](l *Library, symbol string, invoke func(F) Return) error {
	if l.lib == nil {
		return fmt.Errorf("%s: %w", symbol, ErrClosed)
	}

	var fn F
	if err := l.lib.Bind(&fn, symbol); err != nil {
		return &SymbolError{Symbol: symbol, Err: err}
	}

	if ret := invoke(fn); ret != Success {
		return &CallError{Symbol: symbol, Code: ret}
	}
	return nil
}
