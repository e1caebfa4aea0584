package collector

import "context"

// Collector is the interface implemented by everything that runs in the
// background and feeds the store: the GPU telemetry poller and the node
// annotation writer.
type Collector interface {
	// Name returns the collector's name (e.g., "gpu", "labeler").
	Name() string
	// Start launches the collector's loop. It must not block.
	Start(ctx context.Context) error
	// WaitForSync blocks until the collector has completed its first pass.
	WaitForSync(ctx context.Context) error
	// Stop stops the collector and waits for its loop to exit.
	Stop()
}
