// Package output delivers decoded PCM to the platform audio device.
package output

import (
	"math"
	"sync"
	"sync/atomic"
)

// Sink accepts PCM samples at the configured sample rate and channel count.
// WriteSamples applies backpressure: it blocks while the device drains, which
// paces the whole decode pipeline to the playback rate.
type Sink interface {
	// Start opens the device for the given stream parameters.
	Start(sampleRate, channels int) error
	// WriteSamples queues interleaved 16-bit samples for playback.
	WriteSamples(samples []int16) error
	// SetVolume scales playback amplitude, 0.0 to 1.0.
	SetVolume(v float64)
	// SetPlayRate adjusts playback speed, 0.5 to 2.0.
	SetPlayRate(r float64)
	// Pause suspends or resumes the device without dropping queued audio.
	Pause(paused bool) error
	// Underruns signals that the device ran out of queued audio.
	Underruns() <-chan struct{}
	// Drain blocks until all queued audio has been played.
	Drain()
	// Close stops the device and releases it.
	Close() error
}

// volume holds an atomically updated scaling factor.
type volume struct {
	bits atomic.Uint64
}

func (v *volume) set(f float64) {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	v.bits.Store(math.Float64bits(f))
}

func (v *volume) get() float64 {
	return math.Float64frombits(v.bits.Load())
}

// playRate holds an atomically updated rate factor clamped to 0.5-2.0.
type playRate struct {
	bits atomic.Uint64
}

func (p *playRate) set(f float64) {
	if f < 0.5 {
		f = 0.5
	}
	if f > 2.0 {
		f = 2.0
	}
	p.bits.Store(math.Float64bits(f))
}

func (p *playRate) get() float64 {
	return math.Float64frombits(p.bits.Load())
}

// applyVolume scales samples in place.
func applyVolume(samples []int16, vol float64) {
	if vol >= 1.0 {
		return
	}
	for i, s := range samples {
		samples[i] = int16(float64(s) * vol)
	}
}

// resample performs nearest-neighbour rate conversion on interleaved frames.
// A rate above 1.0 drops frames, below 1.0 repeats them. Returns the input
// slice unchanged at rate 1.0.
func resample(samples []int16, channels int, rate float64) []int16 {
	if rate == 1.0 || channels <= 0 {
		return samples
	}
	frames := len(samples) / channels
	outFrames := int(float64(frames) / rate)
	if outFrames == 0 {
		return nil
	}
	out := make([]int16, 0, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		src := int(float64(i) * rate)
		if src >= frames {
			src = frames - 1
		}
		out = append(out, samples[src*channels:(src+1)*channels]...)
	}
	return out
}

// NullSink consumes samples without a device. Used by tests and by hosts
// that take PCM through the sample delegate only.
type NullSink struct {
	mu      sync.Mutex
	samples []int16
	started bool
	paused  bool

	vol  volume
	rate playRate

	underruns chan struct{}
}

// NewNullSink creates a sink that records everything written to it.
func NewNullSink() *NullSink {
	s := &NullSink{underruns: make(chan struct{}, 1)}
	s.vol.set(1.0)
	s.rate.set(1.0)
	return s
}

func (s *NullSink) Start(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *NullSink) WriteSamples(samples []int16) error {
	out := make([]int16, len(samples))
	copy(out, samples)
	applyVolume(out, s.vol.get())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, out...)
	return nil
}

func (s *NullSink) SetVolume(v float64)   { s.vol.set(v) }
func (s *NullSink) SetPlayRate(r float64) { s.rate.set(r) }

func (s *NullSink) Pause(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

// Paused reports whether the sink is paused.
func (s *NullSink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *NullSink) Underruns() <-chan struct{} { return s.underruns }

// TriggerUnderrun simulates a device underrun.
func (s *NullSink) TriggerUnderrun() {
	select {
	case s.underruns <- struct{}{}:
	default:
	}
}

func (s *NullSink) Drain() {}

func (s *NullSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Samples returns a copy of everything written so far.
func (s *NullSink) Samples() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int16, len(s.samples))
	copy(out, s.samples)
	return out
}
