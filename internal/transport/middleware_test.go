package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

func TestWithAuth_SetsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("Authorization")
		if got != "Bearer test-token-xyz" {
			t.Errorf("expected Authorization 'Bearer test-token-xyz', got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{
		Transport: WithAuth("test-token-xyz", http.DefaultTransport),
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWithLogging_LogsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := &http.Client{Transport: WithLogging(logger, http.DefaultTransport)}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/gpu/ingest", nil)
	req.Header.Set("X-Snapshot-ID", "snap-42")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	out := buf.String()
	for _, want := range []string{`"status":202`, `"snapshot_id":"snap-42"`, `"path":"/api/v1/gpu/ingest"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log line, got %q", want, out)
		}
	}
}

func testResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestParseResponse_200(t *testing.T) {
	body, _ := json.Marshal(model.SnapshotResponse{
		Success:   true,
		Message:   "ok",
		ClusterID: "cluster-1",
	})

	result, err := ParseResponse(testResponse(http.StatusOK, nil, string(body)))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected Success=true")
	}
	if result.ClusterID != "cluster-1" {
		t.Fatalf("expected ClusterID 'cluster-1', got %q", result.ClusterID)
	}
}

func TestParseResponse_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    http.Header
		body      string
		wantMsg   string
		wantRetry int
		retryable bool
	}{
		{name: "401", status: 401, wantMsg: "authentication failed"},
		{name: "403", status: 403, wantMsg: "authentication failed"},
		{name: "402 with body", status: 402, body: `{"message":"gpu limit reached","retry_after_seconds":600}`, wantMsg: "quota exceeded: gpu limit reached", wantRetry: 600},
		{name: "410", status: 410, wantMsg: "agent deprecated"},
		{name: "429 header", status: 429, header: http.Header{"Retry-After": []string{"30"}}, wantMsg: "rate limited", wantRetry: 30},
		{name: "429 no hint", status: 429, wantMsg: "rate limited"},
		{name: "503", status: 503, wantMsg: "server error", retryable: true},
		{name: "418", status: 418, wantMsg: "unexpected status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(testResponse(tt.status, tt.header, tt.body))

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StatusError, got %v", err)
			}
			if se.StatusCode != tt.status {
				t.Errorf("StatusCode: want %d, got %d", tt.status, se.StatusCode)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("message: want %q in %q", tt.wantMsg, err.Error())
			}
			if se.RetryAfterSeconds != tt.wantRetry {
				t.Errorf("RetryAfterSeconds: want %d, got %d", tt.wantRetry, se.RetryAfterSeconds)
			}
			if se.Retryable() != tt.retryable {
				t.Errorf("Retryable: want %v", tt.retryable)
			}
		})
	}
}
