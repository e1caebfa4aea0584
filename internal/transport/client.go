package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/config"
	agenterrors "github.com/kubeadapt/kubeadapt-gpu-agent/internal/errors"
	"github.com/kubeadapt/kubeadapt-gpu-agent/internal/observability"
	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

// IngestPath is the backend endpoint that receives node GPU snapshots.
const IngestPath = "/api/v1/gpu/ingest"

// Client sends NodeGPUSnapshots to the backend over HTTP with streaming
// zstd compression. It never buffers the full JSON payload in memory.
type Client struct {
	httpClient     *http.Client
	config         *config.Config
	metrics        *observability.Metrics
	errorCollector *agenterrors.ErrorCollector
	level          zstd.EncoderLevel

	last atomic.Pointer[SendStats]
}

// NewClient creates a transport Client with middleware applied.
// Retry is handled at the Send level (not the RoundTripper) because
// the streaming io.Pipe body must be re-created on each attempt.
func NewClient(cfg *config.Config, metrics *observability.Metrics, errCollector *agenterrors.ErrorCollector) *Client {
	// Use an explicit transport instead of http.DefaultTransport to avoid
	// sharing mutable state with other code in the process.
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	transport := WithAuth(cfg.APIKey, WithLogging(slog.Default(), base))

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		config:         cfg,
		metrics:        metrics,
		errorCollector: errCollector,
		level:          encoderLevel(cfg.CompressionLevel),
	}
}

// encoderLevel maps the 1-4 config scale onto zstd's speed presets.
func encoderLevel(level int) zstd.EncoderLevel {
	l := zstd.EncoderLevel(level)
	if l < zstd.SpeedFastest || l > zstd.SpeedBestCompression {
		return zstd.SpeedDefault
	}
	return l
}

// LastStats returns the sizes of the most recent send attempt.
func (c *Client) LastStats() SendStats {
	if s := c.last.Load(); s != nil {
		return *s
	}
	return SendStats{}
}

// Send streams a NodeGPUSnapshot to the backend using io.Pipe + zstd compression.
// It re-creates the io.Pipe on each retry attempt since a pipe can only be consumed once.
// Only network failures and 5xx answers are retried; any other backend
// answer is returned as a *StatusError.
func (c *Client) Send(ctx context.Context, snapshot *model.NodeGPUSnapshot) (*model.SnapshotResponse, error) {
	start := time.Now()

	var result *model.SnapshotResponse
	var stats SendStats
	var lastErr error

	maxAttempts := c.config.MaxRetries + 1
	for attempt := range maxAttempts {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.TransportRetries.Inc()
			}
			if err := sleepWithBackoff(ctx, attempt-1); err != nil {
				lastErr = fmt.Errorf("transport: context canceled before attempt %d: %w", attempt+1, err)
				break
			}
		}

		if err := ctx.Err(); err != nil {
			lastErr = fmt.Errorf("transport: context canceled before attempt %d: %w", attempt+1, err)
			break
		}

		resp, s, err := c.doSend(ctx, snapshot)
		stats = s
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				break
			}
			slog.Warn("snapshot send attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		result = resp
		lastErr = nil
		break
	}

	stats.Duration = time.Since(start)
	c.last.Store(&stats)
	c.record(stats, lastErr)

	if lastErr != nil {
		return nil, lastErr
	}
	return result, nil
}

func (c *Client) record(stats SendStats, err error) {
	if c.metrics != nil {
		c.metrics.SnapshotSendDuration.Observe(stats.Duration.Seconds())
		if stats.CompressedBytes > 0 {
			c.metrics.SnapshotSizeBytes.WithLabelValues("original").Observe(float64(stats.OriginalBytes))
			c.metrics.SnapshotSizeBytes.WithLabelValues("compressed").Observe(float64(stats.CompressedBytes))
			c.metrics.CompressionRatio.Set(stats.Ratio())
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.SnapshotSendTotal.WithLabelValues(status).Inc()
	}

	if c.errorCollector == nil {
		return
	}
	if err == nil {
		c.errorCollector.Resolve(agenterrors.ErrBackendUnreachable, "transport")
		c.errorCollector.Resolve(agenterrors.ErrAuthFailed, "transport")
		c.errorCollector.Resolve(agenterrors.ErrTimeout, "transport")
		return
	}
	c.errorCollector.ReportErr(errorCode(err), "transport", err)
}

func errorCode(err error) agenterrors.Code {
	var se *StatusError
	switch {
	case stderrors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden):
		return agenterrors.ErrAuthFailed
	case stderrors.Is(err, context.DeadlineExceeded):
		return agenterrors.ErrTimeout
	case stderrors.Is(err, errCompression):
		return agenterrors.ErrCompressionFailed
	default:
		return agenterrors.ErrBackendUnreachable
	}
}

var errCompression = stderrors.New("transport: compression failed")

// doSend performs a single HTTP POST with streaming compression.
// Each call creates a fresh io.Pipe so it can be called multiple times for retries.
func (c *Client) doSend(ctx context.Context, snapshot *model.NodeGPUSnapshot) (*model.SnapshotResponse, SendStats, error) {
	pr, pw := io.Pipe()

	// compressed counts what goes on the wire, original what the JSON
	// encoder produced.
	compressed := newByteCounter(pw)

	zw, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(c.level))
	if err != nil {
		_ = pw.Close()
		return nil, SendStats{}, fmt.Errorf("%w: %v", errCompression, err)
	}
	original := newByteCounter(zw)

	// Goroutine: encode JSON → zstd → pipe.
	go func() {
		encStart := time.Now()
		encodeErr := json.NewEncoder(original).Encode(snapshot)
		// Close zstd first to flush, then close the pipe.
		closeErr := zw.Close()
		if c.metrics != nil {
			c.metrics.CompressionDuration.Observe(time.Since(encStart).Seconds())
		}
		switch {
		case encodeErr != nil:
			pw.CloseWithError(fmt.Errorf("transport: JSON encode failed: %w", encodeErr))
		case closeErr != nil:
			pw.CloseWithError(fmt.Errorf("%w: %v", errCompression, closeErr))
		default:
			_ = pw.Close()
		}
	}()

	stats := func() SendStats {
		return SendStats{OriginalBytes: original.Count(), CompressedBytes: compressed.Count()}
	}

	url := c.config.BackendURL + IngestPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		_ = pr.Close()
		return nil, SendStats{}, fmt.Errorf("transport: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set("X-Cluster-ID", c.config.ClusterID)
	req.Header.Set("X-Node-Name", c.config.NodeName)
	req.Header.Set("X-Agent-Version", c.config.AgentVersion)
	req.Header.Set("X-Snapshot-ID", snapshot.SnapshotID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, stats(), fmt.Errorf("transport: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	result, err := ParseResponse(resp)
	if err != nil {
		return nil, stats(), err
	}
	return result, stats(), nil
}

// isRetryable reports whether a failed attempt should be repeated.
func isRetryable(err error) bool {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Retryable()
	}
	return !stderrors.Is(err, errCompression) && !stderrors.Is(err, context.Canceled)
}

// sleepWithBackoff sleeps for exponential backoff: 1s * 2^attempt, or
// returns early with the context's error.
func sleepWithBackoff(ctx context.Context, attempt int) error {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
