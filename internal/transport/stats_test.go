package transport

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func TestSendStats_Ratio(t *testing.T) {
	tests := []struct {
		name  string
		stats SendStats
		want  float64
	}{
		{"nothing sent", SendStats{}, 0},
		{"encoder failed before output", SendStats{OriginalBytes: 100}, 0},
		{"four to one", SendStats{OriginalBytes: 4000, CompressedBytes: 1000}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stats.Ratio(); got != tt.want {
				t.Fatalf("Ratio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestByteCounter_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	bc := newByteCounter(&buf)

	for _, chunk := range []string{"hello, ", "", "world"} {
		if _, err := bc.Write([]byte(chunk)); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
	}

	if bc.Count() != int64(len("hello, world")) {
		t.Fatalf("expected count %d, got %d", len("hello, world"), bc.Count())
	}
	if buf.String() != "hello, world" {
		t.Fatalf("unexpected buffer content: %q", buf.String())
	}
}

type shortWriter struct{ limit int }

func (s shortWriter) Write(p []byte) (int, error) {
	if len(p) > s.limit {
		return s.limit, errors.New("short write")
	}
	return len(p), nil
}

func TestByteCounter_CountsOnlyWrittenBytes(t *testing.T) {
	bc := newByteCounter(shortWriter{limit: 3})

	n, err := bc.Write([]byte("abcdef"))
	if err == nil {
		t.Fatal("expected short write error")
	}
	if n != 3 || bc.Count() != 3 {
		t.Fatalf("expected 3 bytes counted, got n=%d count=%d", n, bc.Count())
	}
}

func TestByteCounter_ConcurrentReads(t *testing.T) {
	bc := newByteCounter(&bytes.Buffer{})
	chunk := make([]byte, 64)

	var wg sync.WaitGroup
	wg.Go(func() {
		for range 1000 {
			bc.Write(chunk)
		}
	})
	wg.Go(func() {
		for range 1000 {
			_ = bc.Count()
		}
	})
	wg.Wait()

	if bc.Count() != 64*1000 {
		t.Fatalf("expected %d, got %d", 64*1000, bc.Count())
	}
}
