package nvml

import "log/slog"

// Loader opens a native shared library by its platform-specific name.
type Loader interface {
	Open(name string) (SharedLibrary, error)
}

// SharedLibrary is an opened native library.
type SharedLibrary interface {
	// Bind resolves symbol and stores a callable into fptr, which must be
	// a pointer to a variable of func type describing the entry point's
	// signature. It fails if the library does not export symbol.
	Bind(fptr any, symbol string) error
	Close() error
}

// LibraryName returns the name passed to Loader.Open on this platform.
func LibraryName() string {
	return libraryName
}

// ErrorHandler receives failures that are logged and swallowed: skipped
// devices during enumeration, failed telemetry queries and shutdown errors.
// op is one of "enumerate", "measure" or "shutdown".
type ErrorHandler func(op string, err error)

type options struct {
	logger  *slog.Logger
	onError ErrorHandler
}

// Option configures a Library or Registry.
type Option func(*options)

// WithLogger sets the logger used for swallowed failures. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithErrorHandler registers a callback for swallowed failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		o.onError = h
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) report(op string, err error) {
	if o.onError != nil {
		o.onError(op, err)
	}
}
