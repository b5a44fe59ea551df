// Package buffer implements the prebuffer byte queue and the policy that
// decides when playback may start or must fall back to buffering.
package buffer

import (
	"sync"

	"github.com/smallnest/ringbuffer"
)

// Governor tracks the number of prebuffered bytes against the configured
// threshold and carries the received-but-not-yet-decoded byte queue between
// the network reader and the decoder.
//
// The ring buffer operates in blocking mode: a full queue blocks the network
// reader, which is how backpressure reaches the transport.
type Governor struct {
	rb        *ringbuffer.RingBuffer
	threshold int

	mu          sync.Mutex
	prebuffered int
	received    int // cumulative bytes since start or last rebuffering
	eof         bool
	events      chan struct{}
}

// New creates a Governor with the given playback threshold and queue
// capacity, both in bytes. The capacity is raised to the threshold if it is
// smaller, otherwise the threshold could never be reached.
func New(threshold, capacity int) *Governor {
	if capacity < threshold {
		capacity = threshold
	}
	return &Governor{
		rb:        ringbuffer.New(capacity).SetBlocking(true),
		threshold: threshold,
		events:    make(chan struct{}, 1),
	}
}

// Events signals threshold crossings in either direction. The channel has a
// one-slot buffer; consumers re-evaluate CanStartOrResumePlayback and the
// current byte count on every signal.
func (g *Governor) Events() <-chan struct{} {
	return g.events
}

func (g *Governor) signal() {
	select {
	case g.events <- struct{}{}:
	default:
	}
}

// Write appends received bytes to the queue, blocking when the queue is
// full. It updates the prebuffered byte count.
func (g *Governor) Write(p []byte) (int, error) {
	n, err := g.rb.Write(p)
	if n > 0 {
		g.RecordBytesReceived(n)
	}
	return n, err
}

// Read removes bytes from the queue for decoding, blocking until data is
// available. After SetEOF the final read returns io.EOF once the queue has
// drained. It updates the prebuffered byte count.
func (g *Governor) Read(p []byte) (int, error) {
	n, err := g.rb.Read(p)
	if n > 0 {
		g.RecordBytesConsumed(n)
	}
	return n, err
}

// RecordBytesReceived adds n to the prebuffered byte count and signals when
// the cumulative received count crosses the playback threshold. The crossing
// is measured on cumulative bytes, not the current queue depth: a decoder
// that keeps pace with the network would otherwise hold the queue near empty
// and playback would never be released.
func (g *Governor) RecordBytesReceived(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	before := g.received
	g.prebuffered += n
	g.received += n
	crossed := before < g.threshold && g.received >= g.threshold
	g.mu.Unlock()
	if crossed {
		g.signal()
	}
}

// RecordBytesConsumed subtracts n from the prebuffered byte count. The count
// never goes negative. Draining to zero signals an underrun crossing.
func (g *Governor) RecordBytesConsumed(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	before := g.prebuffered
	g.prebuffered -= n
	if g.prebuffered < 0 {
		g.prebuffered = 0
	}
	drained := before > 0 && g.prebuffered == 0
	g.mu.Unlock()
	if drained {
		g.signal()
	}
}

// Prebuffered returns the current prebuffered byte count.
func (g *Governor) Prebuffered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prebuffered
}

// CanStartOrResumePlayback reports whether enough bytes have arrived since
// the last rebuffering start, or the end of the stream has been reached with
// fewer bytes than the threshold.
func (g *Governor) CanStartOrResumePlayback() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.received >= g.threshold || g.eof
}

// ResetAccumulation restarts the cumulative received count. Called when
// playback falls back to buffering, so the same threshold applies to the
// rebuffering period.
func (g *Governor) ResetAccumulation() {
	g.mu.Lock()
	g.received = 0
	g.mu.Unlock()
}

// SetEOF marks the end of the incoming stream. Pending and subsequent reads
// drain the queue and then return io.EOF.
func (g *Governor) SetEOF() {
	g.mu.Lock()
	g.eof = true
	g.mu.Unlock()
	g.rb.CloseWriter()
	g.signal()
}

// EOF reports whether the end of the incoming stream has been reached.
func (g *Governor) EOF() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eof
}

// Close aborts the queue with the given error, unblocking any reader or
// writer. Used on stop and on fatal errors.
func (g *Governor) Close(err error) {
	g.rb.CloseWithError(err)
}

// Reset empties the queue and counters for a fresh connection, keeping the
// configured threshold. Used when a seek restarts the stream.
func (g *Governor) Reset() {
	g.rb.Reset()
	g.mu.Lock()
	g.prebuffered = 0
	g.received = 0
	g.eof = false
	g.mu.Unlock()
}
