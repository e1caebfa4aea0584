package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kubeadapt/kubeadapt-gpu-agent/pkg/model"
)

// authTransport adds an Authorization: Bearer header to every request.
type authTransport struct {
	token string
	next  http.RoundTripper
}

// WithAuth wraps a RoundTripper with bearer-token authorization.
func WithAuth(token string, next http.RoundTripper) http.RoundTripper {
	return &authTransport{token: token, next: next}
}

func (a *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+a.token)
	return a.next.RoundTrip(req)
}

// loggingTransport logs each ingest request with its snapshot id.
type loggingTransport struct {
	logger *slog.Logger
	next   http.RoundTripper
}

// WithLogging wraps a RoundTripper with request/response logging.
func WithLogging(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	return &loggingTransport{logger: logger, next: next}
}

func (l *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := l.next.RoundTrip(req)

	attrs := []any{
		"snapshot_id", req.Header.Get("X-Snapshot-ID"),
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		l.logger.Error("ingest request failed", append(attrs, "error", err)...)
		return resp, err
	}
	l.logger.Debug("ingest request completed", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}

// StatusError is a non-200 answer from the backend. The agent's state
// machine is driven from StatusCode and RetryAfterSeconds.
type StatusError struct {
	StatusCode        int
	RetryAfterSeconds int
	Message           string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("transport: %s (HTTP %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("transport: unexpected status (HTTP %d)", e.StatusCode)
}

// Retryable reports whether the same payload may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// retryAfterDelay extracts the delay from a 429 or 402 response.
// It checks the Retry-After header first, then falls back to
// parsing the response body for retry_after_seconds.
func retryAfterDelay(resp *http.Response, body *model.SnapshotErrorResponse) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if body != nil && body.RetryAfterSeconds != nil && *body.RetryAfterSeconds > 0 {
		return time.Duration(*body.RetryAfterSeconds) * time.Second
	}
	return 0
}

// drainAndClose reads remaining body bytes and closes, preventing connection leaks.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}

// ParseResponse reads an HTTP response and returns the decoded result, or
// a *StatusError for any status other than 200.
func ParseResponse(resp *http.Response) (*model.SnapshotResponse, error) {
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusOK {
		var result model.SnapshotResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("transport: failed to decode 200 response: %w", err)
		}
		return &result, nil
	}

	var body *model.SnapshotErrorResponse
	var decoded model.SnapshotErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
		body = &decoded
	}

	se := &StatusError{StatusCode: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		se.Message = "authentication failed"
	case resp.StatusCode == http.StatusPaymentRequired:
		se.Message = "quota exceeded"
		if body != nil && body.Message != "" {
			se.Message += ": " + body.Message
		}
	case resp.StatusCode == http.StatusGone:
		se.Message = "agent deprecated"
	case resp.StatusCode == http.StatusTooManyRequests:
		se.Message = "rate limited"
	case resp.StatusCode >= 500:
		se.Message = "server error"
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired {
		se.RetryAfterSeconds = int(retryAfterDelay(resp, body) / time.Second)
	}
	return nil, se
}
