package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/yaml.v3"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/agent"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/cloud"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/collector"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/collector/gpu"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/config"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/dynlib"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/errors"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/health"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/labeler"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/logging"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/snapshot"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/store"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/transport"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const module = "kubeadapt-gpu-agent"

func main() {
	var (
		once   bool
		output string
	)
	flagSet := pflag.NewFlagSet(module, pflag.ContinueOnError)
	flagSet.BoolVar(&once, "once", false, "poll the GPUs once, print the snapshot and exit")
	flagSet.StringVarP(&output, "output", "o", "json", "output format for --once: json or yaml")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println(module, version)
		return
	}

	logging.SetDefault(module, version)

	// 1. Load and validate config.
	cfg := config.Load()
	cfg.AgentVersion = version

	if once {
		if err := runOnce(os.Stdout, &cfg, output); err != nil {
			slog.Error("one-shot poll failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("kubeadapt-gpu-agent starting",
		"cluster_id", cfg.ClusterID,
		"node", cfg.NodeName,
		"backend_url", cfg.BackendURL,
		"snapshot_interval", cfg.SnapshotInterval,
		"gpu_poll_interval", cfg.GPUPollInterval,
	)

	// 3. Create shared infrastructure.
	metrics := observability.NewMetrics()
	errCollector := errors.NewErrorCollector(errors.RealClock{})
	st := store.NewStore()
	sm := agent.NewStateMachine(errors.RealClock{})
	sm.SetCancelFunc(cancel)

	// 4. GPU source. The library is loaded lazily by the first poll.
	source := gpu.NewSource(dynlib.Loader{}, gpu.SourceOptions{
		RetryCooldown:  cfg.LibraryRetryCooldown,
		ErrorCollector: errCollector,
		Metrics:        metrics,
	})
	defer func() {
		if err := source.Close(); err != nil {
			slog.Warn("closing GPU library", "error", err)
		}
	}()

	// 5. Register collectors.
	registry := collector.NewRegistry()
	gpuCollector := gpu.NewGPUMetricsCollector(source, st, metrics, errCollector, cfg.GPUPollInterval)
	registry.Register(gpuCollector)

	if cfg.NodeLabelingEnabled {
		if restCfg, err := buildKubeConfig(); err != nil {
			slog.Warn("node labeling disabled, no kubernetes config", "error", err)
		} else if client, err := kubernetes.NewForConfig(restCfg); err != nil {
			slog.Warn("node labeling disabled", "error", err)
		} else if ok, err := labeler.CanPatchNode(ctx, client, cfg.NodeName); err != nil || !ok {
			slog.Warn("node labeling disabled, cannot patch own node", "node", cfg.NodeName, "error", err)
		} else {
			registry.Register(labeler.New(client, cfg.NodeName, source, cfg.LabelRefreshInterval, metrics, errCollector))
		}
	}

	// 6. Snapshot builder, transport and agent.
	builder := snapshot.NewSnapshotBuilder(st, &cfg, metrics, errCollector, source, gpuCollector)
	if cfg.CloudMetadataEnabled {
		builder.SetCloud(cloud.NewProber(cloud.DefaultEndpoints, cfg.CloudMetadataTimeout))
	}
	transportClient := transport.NewClient(&cfg, metrics, errCollector)
	ag := agent.NewAgent(&cfg, registry, builder, transportClient, sm, errCollector, metrics)

	// 7. Start health server.
	healthSrv := health.NewServer(cfg.HealthPort, metrics, ag, ag, st, source, cfg.DebugEndpoints)
	if err := healthSrv.Start(); err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}

	// 8. Start memory pressure monitor.
	memMon := agent.NewMemoryPressureMonitor(0.8, func(agent.MemoryPressure) { runtime.GC() }, 30*time.Second, nil)
	memMon.Start()

	// 9. Run agent (blocks until context is canceled or the backend stops us).
	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent exited with error", "error", err)
	}

	// 10. Graceful shutdown.
	memMon.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	slog.Info("kubeadapt-gpu-agent stopped")
}

// runOnce polls every GPU a single time and writes the resulting snapshot
// to w. No backend or cluster access is needed.
func runOnce(w io.Writer, cfg *config.Config, output string) error {
	if output != "json" && output != "yaml" {
		return fmt.Errorf("unknown output format %q", output)
	}
	if err := cfg.ValidateLocal(); err != nil {
		return err
	}

	errCollector := errors.NewErrorCollector(errors.RealClock{})
	st := store.NewStore()
	source := gpu.NewSource(dynlib.Loader{}, gpu.SourceOptions{ErrorCollector: errCollector})
	defer source.Close()

	c := gpu.NewGPUMetricsCollector(source, st, nil, errCollector, cfg.GPUPollInterval)
	c.Poll()

	snap := snapshot.NewSnapshotBuilder(st, cfg, nil, errCollector, source, c).Build(context.Background())
	return writeSnapshot(w, snap, output)
}

// writeSnapshot renders v as indented JSON, or as YAML with the same field
// names as the JSON form.
func writeSnapshot(w io.Writer, v any, output string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if output == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// buildKubeConfig creates a Kubernetes REST config.
// It tries in-cluster config first, then falls back to kubeconfig file
// (from $KUBECONFIG or the default ~/.kube/config).
func buildKubeConfig() (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		slog.Info("using in-cluster kubernetes config")
		return cfg, nil
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}

	cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes config: %w", err)
	}
	slog.Info("using kubeconfig file", "path", kubeconfig)
	return cfg, nil
}
