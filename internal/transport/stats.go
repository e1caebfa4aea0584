package transport

import (
	"io"
	"sync/atomic"
	"time"
)

// SendStats describes the payload of the last attempted send.
type SendStats struct {
	OriginalBytes   int64
	CompressedBytes int64
	Duration        time.Duration
}

// Ratio returns original/compressed, or 0 when nothing was compressed.
func (s SendStats) Ratio() float64 {
	if s.CompressedBytes == 0 {
		return 0
	}
	return float64(s.OriginalBytes) / float64(s.CompressedBytes)
}

// byteCounter counts what passes through to w. It is read from the request
// goroutine while the encoder goroutine is still writing.
type byteCounter struct {
	w io.Writer
	n atomic.Int64
}

func newByteCounter(w io.Writer) *byteCounter {
	return &byteCounter{w: w}
}

func (b *byteCounter) Write(p []byte) (int, error) {
	n, err := b.w.Write(p)
	b.n.Add(int64(n))
	return n, err
}

func (b *byteCounter) Count() int64 {
	return b.n.Load()
}
