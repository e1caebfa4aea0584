package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/collector/gpu"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/nvml"
)

// --- Mock implementations ---

type mockReadiness struct {
	ready bool
}

func (m *mockReadiness) IsReady() bool { return m.ready }

type mockSnapshot struct {
	data interface{}
}

func (m *mockSnapshot) LatestSnapshot() interface{} { return m.data }

type mockStore struct {
	counts  map[string]int
	devices []model.GPUDevice
}

func (m *mockStore) ItemCounts() map[string]int           { return m.counts }
func (m *mockStore) DevicesWithSamples() []model.GPUDevice { return m.devices }

type mockLibrary struct {
	status gpu.Status
}

func (m *mockLibrary) Status() gpu.Status { return m.status }

// --- Helper to build a test server's mux ---

func newTestServer(ready bool, snapshot interface{}, st *mockStore, lib LibraryStatus) *Server {
	metrics := observability.NewMetrics()
	if st == nil {
		st = &mockStore{}
	}
	return NewServer(0, metrics, &mockReadiness{ready: ready}, &mockSnapshot{data: snapshot}, st, lib, true)
}

func get(t *testing.T, srv *Server, path string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	t.Cleanup(func() { resp.Body.Close() })
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

// --- Tests ---

func TestHealthz(t *testing.T) {
	srv := newTestServer(true, nil, nil, nil)
	resp, body := get(t, srv, "/healthz")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result["status"] != "ok" {
		t.Fatalf("expected status=ok, got %s", result["status"])
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		ready      bool
		wantStatus int
	}{
		{ready: true, wantStatus: http.StatusOK},
		{ready: false, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		srv := newTestServer(tt.ready, nil, nil, nil)
		resp, body := get(t, srv, "/readyz")

		if resp.StatusCode != tt.wantStatus {
			t.Fatalf("ready=%v: expected %d, got %d", tt.ready, tt.wantStatus, resp.StatusCode)
		}
		var result map[string]bool
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if result["ready"] != tt.ready {
			t.Fatalf("expected ready=%v, got %v", tt.ready, result["ready"])
		}
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(true, nil, nil, nil)
	resp, body := get(t, srv, "/metrics")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "kubeadapt_agent_") {
		t.Fatal("expected Prometheus metrics containing kubeadapt_agent_ prefix")
	}
}

func TestDebugStoreItemCounts(t *testing.T) {
	st := &mockStore{counts: map[string]int{"devices": 8, "samples": 7}}
	srv := newTestServer(true, nil, st, nil)
	resp, body := get(t, srv, "/debug/store")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]int
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result["devices"] != 8 || result["samples"] != 7 {
		t.Fatalf("unexpected counts: %v", result)
	}
}

func TestDebugDevices(t *testing.T) {
	st := &mockStore{devices: []model.GPUDevice{
		{Index: 0, UUID: "GPU-a", ComputeCapability: "9.0", Sample: &model.GPUSample{TemperatureC: 61}},
		{Index: 1, UUID: "GPU-b", ComputeCapability: "9.0"},
	}}
	srv := newTestServer(true, nil, st, nil)
	resp, body := get(t, srv, "/debug/devices")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result []model.GPUDevice
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(result))
	}
	if result[0].Sample == nil || result[0].Sample.TemperatureC != 61 {
		t.Fatalf("expected sample on first device, got %+v", result[0].Sample)
	}
	if result[1].Sample != nil {
		t.Fatalf("expected no sample on second device, got %+v", result[1].Sample)
	}
}

func TestDebugDevicesEmptyIsArray(t *testing.T) {
	srv := newTestServer(true, nil, nil, nil)
	_, body := get(t, srv, "/debug/devices")

	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected [], got %s", body)
	}
}

func TestDebugLibrary(t *testing.T) {
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lib := &mockLibrary{status: gpu.Status{
		Available:      true,
		DriverVersion:  nvml.Version{Major: 12, Minor: 4},
		OpenedAt:       opened,
		LastAttempt:    opened,
		DevicesSkipped: 1,
		QueryFailures:  3,
	}}
	srv := newTestServer(true, nil, nil, lib)
	resp, body := get(t, srv, "/debug/library")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result libraryView
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.Name != nvml.Name || result.Path != nvml.LibraryName() {
		t.Fatalf("unexpected library identity: %+v", result)
	}
	if !result.Available || result.DriverVersion != "12.4" {
		t.Fatalf("expected available driver 12.4, got %+v", result)
	}
	if result.OpenedAt != opened.UnixMilli() {
		t.Fatalf("expected opened_at=%d, got %d", opened.UnixMilli(), result.OpenedAt)
	}
	if result.DevicesSkipped != 1 || result.QueryFailures != 3 {
		t.Fatalf("unexpected counters: %+v", result)
	}
}

func TestDebugLibraryUnavailable(t *testing.T) {
	lib := &mockLibrary{status: gpu.Status{Error: "nvml: library not found"}}
	srv := newTestServer(true, nil, nil, lib)
	_, body := get(t, srv, "/debug/library")

	var result libraryView
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.Available || result.DriverVersion != "" || result.OpenedAt != 0 {
		t.Fatalf("unavailable library should carry no driver details: %+v", result)
	}
	if result.Error != "nvml: library not found" {
		t.Fatalf("unexpected error: %q", result.Error)
	}
}

func TestDebugLibraryNoSource(t *testing.T) {
	srv := newTestServer(true, nil, nil, nil)
	resp, _ := get(t, srv, "/debug/library")

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestDebugSnapshotNoData(t *testing.T) {
	srv := newTestServer(true, nil, nil, nil)
	resp, _ := get(t, srv, "/debug/snapshot")

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestDebugSnapshotWithData(t *testing.T) {
	snapshot := &model.NodeGPUSnapshot{ClusterID: "test-cluster", NodeName: "gpu-node-1"}
	srv := newTestServer(true, snapshot, nil, nil)
	resp, body := get(t, srv, "/debug/snapshot")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result model.NodeGPUSnapshot
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.ClusterID != "test-cluster" || result.NodeName != "gpu-node-1" {
		t.Fatalf("unexpected snapshot identity: %+v", result)
	}
}

func TestDebugEndpointsDisabled(t *testing.T) {
	metrics := observability.NewMetrics()
	srv := NewServer(0, metrics, &mockReadiness{ready: true}, &mockSnapshot{data: "x"}, &mockStore{}, &mockLibrary{}, false)

	for _, path := range []string{"/debug/store", "/debug/snapshot", "/debug/devices", "/debug/library"} {
		resp, _ := get(t, srv, path)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 for %s when debug disabled, got %d", path, resp.StatusCode)
		}
	}

	// /healthz should still work
	resp, _ := get(t, srv, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /healthz, got %d", resp.StatusCode)
	}
}

func TestServerStartStop(t *testing.T) {
	metrics := observability.NewMetrics()
	srv := NewServer(0, metrics, &mockReadiness{ready: true}, &mockSnapshot{}, &mockStore{}, nil, false)

	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("failed to reach server: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}

	if _, err := http.Get("http://" + srv.Addr() + "/healthz"); err == nil {
		t.Fatal("expected error after stop")
	}
}
