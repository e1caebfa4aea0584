package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/collector/gpu"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// ReadinessChecker reports whether the agent is ready to serve traffic.
type ReadinessChecker interface {
	IsReady() bool
}

// SnapshotProvider returns the latest node snapshot for debugging.
type SnapshotProvider interface {
	LatestSnapshot() interface{}
}

// StoreStats exposes the GPU store for debugging.
type StoreStats interface {
	ItemCounts() map[string]int
	DevicesWithSamples() []model.GPUDevice
}

// LibraryStatus reports the state of the GPU management library.
type LibraryStatus interface {
	Status() gpu.Status
}

// Server exposes health, readiness, metrics, and debug endpoints.
type Server struct {
	httpServer *http.Server
	metrics    *observability.Metrics
	readiness  ReadinessChecker
	snapshot   SnapshotProvider
	store      StoreStats
	library    LibraryStatus
	listener   net.Listener
}

// NewServer creates a new health server on the given port.
// Pass port=0 to let the OS pick a free port (useful for tests).
// When enableDebug is true, pprof and debug endpoints are registered.
// library may be nil, in which case /debug/library answers 204.
func NewServer(port int, metrics *observability.Metrics, readiness ReadinessChecker, snapshot SnapshotProvider, store StoreStats, library LibraryStatus, enableDebug bool) *Server {
	s := &Server{
		metrics:   metrics,
		readiness: readiness,
		snapshot:  snapshot,
		store:     store,
		library:   library,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if enableDebug {
		// pprof handlers, only enabled when KUBEADAPT_DEBUG_ENDPOINTS=true
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		mux.HandleFunc("GET /debug/snapshot", s.handleDebugSnapshot)
		mux.HandleFunc("GET /debug/store", s.handleDebugStore)
		mux.HandleFunc("GET /debug/devices", s.handleDebugDevices)
		mux.HandleFunc("GET /debug/library", s.handleDebugLibrary)
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Start begins listening and serving HTTP in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	s.listener = ln
	// Update Addr to the actual address (important when port=0).
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server exited", "error", err)
		}
	}()
	return nil
}

// Addr returns the listen address. It is only meaningful after Start.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz does not look at the GPU library: a node without a driver is
// still a healthy agent.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	ready := s.readiness.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}

func (s *Server) handleDebugSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshot.LatestSnapshot()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDebugStore(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ItemCounts())
}

func (s *Server) handleDebugDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.store.DevicesWithSamples()
	if devices == nil {
		devices = []model.GPUDevice{}
	}
	writeJSON(w, http.StatusOK, devices)
}

type libraryView struct {
	Name           string `json:"name"`
	Path           string `json:"path"`
	Available      bool   `json:"available"`
	DriverVersion  string `json:"driver_version,omitempty"`
	Error          string `json:"error,omitempty"`
	OpenedAt       int64  `json:"opened_at,omitempty"`
	LastAttempt    int64  `json:"last_attempt,omitempty"`
	DevicesSkipped int    `json:"devices_skipped"`
	QueryFailures  uint64 `json:"query_failures"`
}

func (s *Server) handleDebugLibrary(w http.ResponseWriter, _ *http.Request) {
	if s.library == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	st := s.library.Status()
	v := libraryView{
		Name:           nvml.Name,
		Path:           nvml.LibraryName(),
		Available:      st.Available,
		Error:          st.Error,
		DevicesSkipped: st.DevicesSkipped,
		QueryFailures:  st.QueryFailures,
	}
	if st.Available {
		v.DriverVersion = st.DriverVersion.String()
		v.OpenedAt = st.OpenedAt.UnixMilli()
	}
	if !st.LastAttempt.IsZero() {
		v.LastAttempt = st.LastAttempt.UnixMilli()
	}
	writeJSON(w, http.StatusOK, v)
}
