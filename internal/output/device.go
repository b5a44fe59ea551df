package output

import (
	"log/slog"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/audiostream-go/internal/errors"
	"github.com/tphakala/audiostream-go/internal/logging"
)

// queuedAudioSeconds is how much decoded audio the device sink buffers
// between the decoder and the hardware callback.
const queuedAudioSeconds = 2

// DeviceSink plays PCM through the default output device via miniaudio.
// The device callback pulls from a ring buffer in non-blocking mode; the
// decode side writes in blocking mode, which paces the pipeline.
type DeviceSink struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rb     *ringbuffer.RingBuffer

	channels int
	vol      volume
	rate     playRate

	// hadData tracks whether audio flowed since the last starvation.
	// Touched only on the device callback thread.
	hadData bool

	underruns chan struct{}
	logger    *slog.Logger
}

// NewDeviceSink creates an unstarted device sink.
func NewDeviceSink() *DeviceSink {
	s := &DeviceSink{
		underruns: make(chan struct{}, 1),
		logger:    logging.ForService("output"),
	}
	s.vol.set(1.0)
	s.rate.set(1.0)
	return s
}

// Start initializes the playback device for the given stream parameters.
func (s *DeviceSink) Start(sampleRate, channels int) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioOutput).
			Build()
	}
	s.ctx = ctx
	s.channels = channels
	s.rb = ringbuffer.New(sampleRate * channels * 2 * queuedAudioSeconds).SetBlocking(true)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: s.onDeviceData,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioOutput).
			Context("sample_rate", sampleRate).
			Context("channels", channels).
			Build()
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioOutput).
			Build()
	}

	s.logger.Debug("playback device started", "sample_rate", sampleRate, "channels", channels)
	return nil
}

// onDeviceData runs on the audio thread. It must never block: missing bytes
// are zero-filled, and running dry after audio has flowed signals exactly one
// underrun until data returns.
func (s *DeviceSink) onDeviceData(pOutput, pInput []byte, framecount uint32) {
	n, _ := s.rb.TryRead(pOutput)
	if n > 0 {
		s.hadData = true
	}
	if n == len(pOutput) {
		return
	}
	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}
	if s.hadData {
		s.hadData = false
		select {
		case s.underruns <- struct{}{}:
		default:
		}
	}
}

// WriteSamples queues samples for the device, blocking while the queue is
// full. Volume and play rate are applied here, off the audio thread.
func (s *DeviceSink) WriteSamples(samples []int16) error {
	out := resample(samples, s.channels, s.rate.get())
	if len(out) == 0 {
		return nil
	}
	if &out[0] == &samples[0] {
		out = make([]int16, len(samples))
		copy(out, samples)
	}
	applyVolume(out, s.vol.get())

	buf := make([]byte, len(out)*2)
	for i, sample := range out {
		buf[2*i] = byte(sample)
		buf[2*i+1] = byte(uint16(sample) >> 8)
	}

	if _, err := s.rb.Write(buf); err != nil {
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioOutput).
			Build()
	}
	return nil
}

func (s *DeviceSink) SetVolume(v float64)   { s.vol.set(v) }
func (s *DeviceSink) SetPlayRate(r float64) { s.rate.set(r) }

// Pause stops or restarts the device. Queued audio stays in the ring buffer,
// so resuming continues exactly where playback left off.
func (s *DeviceSink) Pause(paused bool) error {
	if s.device == nil {
		return nil
	}
	var err error
	if paused {
		err = s.device.Stop()
	} else {
		err = s.device.Start()
	}
	if err != nil {
		return errors.New(err).
			Component("output").
			Category(errors.CategoryAudioOutput).
			Context("paused", paused).
			Build()
	}
	return nil
}

func (s *DeviceSink) Underruns() <-chan struct{} { return s.underruns }

// Drain waits for the device callback to consume everything queued.
func (s *DeviceSink) Drain() {
	if s.rb == nil {
		return
	}
	for s.rb.Length() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
}

// Close stops and releases the device.
func (s *DeviceSink) Close() error {
	if s.rb != nil {
		s.rb.CloseWithError(errors.NewStd("sink closed"))
	}
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}
