// Package labeler publishes the local GPU inventory on the Kubernetes Node
// object as annotations, so schedulers and operators can see it without
// talking to the agent.
package labeler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
	"k8s.io/utils/ptr"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/errors"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// Node annotations owned by the agent.
const (
	AnnotationCount         = "gpu.kubeadapt.io/count"
	AnnotationDriverVersion = "gpu.kubeadapt.io/driver-version"
	AnnotationDevices       = "gpu.kubeadapt.io/devices"
)

const component = "labeler"

var managedAnnotations = []string{AnnotationCount, AnnotationDriverVersion, AnnotationDevices}

// Inventory is the device view the labeler publishes.
type Inventory interface {
	Devices() ([]nvml.DeviceIdentity, error)
	DriverVersion() (nvml.Version, bool)
}

// DeviceAnnotation is one entry of the gpu.kubeadapt.io/devices annotation.
type DeviceAnnotation struct {
	Index             int    `json:"index"`
	Key               string `json:"key"`
	ComputeCapability string `json:"compute_capability"`
	PCIBus            uint32 `json:"pci_bus"`
	PCISlot           uint32 `json:"pci_slot"`
}

// NodeLabeler keeps the agent's annotations on one Node current. It
// implements the collector.Collector interface.
type NodeLabeler struct {
	client    kubernetes.Interface
	nodeName  string
	inventory Inventory
	interval  time.Duration
	metrics   *observability.Metrics
	errors    *errors.ErrorCollector
	backoff   wait.Backoff

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	syncOnce sync.Once
	synced   chan struct{}

	mu      sync.Mutex
	applied map[string]string
}

// New creates a NodeLabeler for nodeName. metrics and errCollector may be nil.
func New(client kubernetes.Interface, nodeName string, inventory Inventory, interval time.Duration, metrics *observability.Metrics, errCollector *errors.ErrorCollector) *NodeLabeler {
	return &NodeLabeler{
		client:    client,
		nodeName:  nodeName,
		inventory: inventory,
		interval:  interval,
		metrics:   metrics,
		errors:    errCollector,
		backoff:   retry.DefaultRetry,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		synced:    make(chan struct{}),
	}
}

// Name returns the collector name.
func (l *NodeLabeler) Name() string { return "labeler" }

// Start launches the refresh goroutine.
func (l *NodeLabeler) Start(ctx context.Context) error {
	l.started.Store(true)
	go l.run(ctx)
	return nil
}

// WaitForSync blocks until the first reconcile attempt has finished,
// whether or not the patch succeeded.
func (l *NodeLabeler) WaitForSync(ctx context.Context) error {
	select {
	case <-l.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the labeler to stop and waits for the goroutine to exit.
// It returns at once if Start was never called and is safe to call twice.
func (l *NodeLabeler) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.started.Load() {
		<-l.done
	}
}

// Applied returns the annotations written by the last successful patch.
func (l *NodeLabeler) Applied() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.applied)
}

func (l *NodeLabeler) run(ctx context.Context) {
	defer close(l.done)

	_ = l.Reconcile(ctx)
	l.syncOnce.Do(func() { close(l.synced) })

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.Reconcile(ctx)
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Reconcile renders the annotations and patches the Node if they differ
// from what was last applied.
func (l *NodeLabeler) Reconcile(ctx context.Context) error {
	want, err := l.render()
	if err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	unchanged := l.applied != nil && maps.Equal(l.applied, want)
	l.mu.Unlock()
	if unchanged {
		slog.Debug("labeler: annotations unchanged", "node", l.nodeName)
		return nil
	}

	body, err := mergePatch(want)
	if err != nil {
		return l.fail(err)
	}
	if err := l.patch(ctx, body); err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.applied = want
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.LabelPatchTotal.WithLabelValues("success").Inc()
	}
	if l.errors != nil {
		l.errors.Resolve(errors.ErrLabelPatchFailed, component)
	}
	slog.Info("labeler: node annotations updated", "node", l.nodeName, "gpu_count", want[AnnotationCount])
	return nil
}

func (l *NodeLabeler) fail(err error) error {
	slog.Warn("labeler: failed to update node annotations", "node", l.nodeName, "error", err)
	if l.metrics != nil {
		l.metrics.LabelPatchTotal.WithLabelValues("error").Inc()
	}
	if l.errors != nil {
		l.errors.ReportErr(errors.ErrLabelPatchFailed, component, err)
	}
	return err
}

// render builds the desired annotations. Without a usable library the node
// is advertised with zero GPUs, an empty device list and no driver version.
func (l *NodeLabeler) render() (map[string]string, error) {
	devices, err := l.inventory.Devices()
	if err != nil {
		return map[string]string{AnnotationCount: "0", AnnotationDevices: "[]"}, nil
	}

	entries := make([]DeviceAnnotation, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, DeviceAnnotation{
			Index:             d.DeviceIndex,
			Key:               d.Key,
			ComputeCapability: d.ComputeVersion.String(),
			PCIBus:            d.PCIBus,
			PCISlot:           d.PCISlot,
		})
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encoding device annotation: %w", err)
	}

	out := map[string]string{
		AnnotationCount:   strconv.Itoa(len(devices)),
		AnnotationDevices: string(encoded),
	}
	if v, ok := l.inventory.DriverVersion(); ok {
		out[AnnotationDriverVersion] = v.String()
	}
	return out, nil
}

// mergePatch sets every annotation in want and deletes the managed ones
// that are absent.
func mergePatch(want map[string]string) ([]byte, error) {
	annotations := make(map[string]*string, len(managedAnnotations))
	for _, k := range managedAnnotations {
		annotations[k] = nil
	}
	for k, v := range want {
		annotations[k] = ptr.To(v)
	}

	patch := map[string]any{
		"metadata": map[string]any{"annotations": annotations},
	}
	return json.Marshal(patch)
}

func (l *NodeLabeler) patch(ctx context.Context, body []byte) error {
	return retry.OnError(l.backoff, isRetryableError, func() error {
		_, err := l.client.CoreV1().Nodes().Patch(ctx, l.nodeName, types.MergePatchType, body, metav1.PatchOptions{})
		if err != nil && isRetryableError(err) {
			slog.Warn("labeler: retryable error patching node, retrying", "node", l.nodeName, "error", err)
		}
		if err != nil {
			return fmt.Errorf("patching node %s: %w", l.nodeName, err)
		}
		return nil
	})
}

func isRetryableError(err error) bool {
	return apierrors.IsConflict(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsServiceUnavailable(err)
}
