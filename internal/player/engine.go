package player

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiostream-go/internal/buffer"
	"github.com/tphakala/audiostream-go/internal/cachestore"
	"github.com/tphakala/audiostream-go/internal/conf"
	"github.com/tphakala/audiostream-go/internal/decoder"
	"github.com/tphakala/audiostream-go/internal/errors"
	"github.com/tphakala/audiostream-go/internal/logging"
	"github.com/tphakala/audiostream-go/internal/observability"
	"github.com/tphakala/audiostream-go/internal/output"
	"github.com/tphakala/audiostream-go/internal/seek"
	"github.com/tphakala/audiostream-go/internal/stall"
	"github.com/tphakala/audiostream-go/internal/transport"
)

// Transport opens audio streams. Satisfied by *transport.Client.
type Transport interface {
	Open(ctx context.Context, url string, offset uint64) (*transport.Stream, error)
}

// SampleDelegate receives every decoded PCM batch before it reaches the
// audio output. Called from the decode goroutine; implementations must copy
// the slice if they keep it.
type SampleDelegate interface {
	SamplesAvailable(samples []int16)
}

// Options configures an AudioStream. Zero-value fields fall back to the
// loaded application settings, a pooled HTTP transport and the platform
// audio device.
type Options struct {
	Settings       *conf.StreamSettings
	Transport      Transport
	SinkFactory    func() output.Sink
	Store          *cachestore.Store
	Metrics        *observability.StreamMetrics
	SampleDelegate SampleDelegate
}

var errSessionClosed = errors.NewStd("playback session closed")

// AudioStream plays one stream URL at a time through the audio output.
//
// All state transitions happen on a single control goroutine; control calls
// hand closures to that goroutine and background goroutines post events to
// it. Callbacks are invoked from the control goroutine: set them before the
// first play call and do not call control methods from inside them.
type AudioStream struct {
	// OnStateChange is called after every state transition.
	OnStateChange func(State)
	// OnMetadata is called for in-stream tag updates such as ICY titles.
	OnMetadata func(map[string]string)
	// OnFailure is called once when playback enters StateFailed.
	OnFailure func(kind StreamError, err error)
	// OnCompletion is called when a stream with known length finishes.
	OnCompletion func()

	cfg         *conf.StreamSettings
	transport   Transport
	sinkFactory func() output.Sink
	store       *cachestore.Store
	metrics     *observability.StreamMetrics
	delegate    SampleDelegate
	logger      *slog.Logger

	cmds      chan func()
	closed    chan struct{}
	closeOnce sync.Once

	// mu guards the fields below plus the published fields of the active
	// session. The control goroutine writes, getters read.
	mu           sync.RWMutex
	state        State
	lastErr      StreamError
	url          string
	contentType  string
	continuous   bool
	cached       bool
	duration     time.Duration
	totalBytes   uint64
	baseFraction float64
	sess         *session

	// format discovered by the most recent playback, kept across sessions
	// so a later PlayFromOffset can re-enter the stream mid-file
	lastFormat      decoder.Format
	lastFormatKnown bool

	// control-goroutine only
	det    *stall.Detector
	volume float64
	rate   float64
}

// session is one network connection or cache read feeding the pipeline.
// A seek or a new play request replaces the session wholesale.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	// published under AudioStream.mu
	gov         *buffer.Governor
	sink        output.Sink
	format      decoder.Format
	formatKnown bool
	startOffset uint64

	// confined to the goroutine that owns them
	body        io.ReadCloser
	dec         decoder.Decoder
	cacheHandle *cachestore.Handle
	metadata    <-chan map[string]string

	contentType  string
	fromCache    bool
	resumeFormat *decoder.Format

	encodedConsumed atomic.Uint64
	playedSamples   atomic.Uint64
}

// New creates an idle AudioStream and starts its control goroutine.
func New(opts Options) *AudioStream {
	cfg := opts.Settings
	if cfg == nil {
		cfg = &conf.Setting().Stream
	}
	tr := opts.Transport
	if tr == nil {
		tr = transport.New(transport.Config{UserAgent: cfg.UserAgent})
	}
	sf := opts.SinkFactory
	if sf == nil {
		sf = func() output.Sink { return output.NewDeviceSink() }
	}

	e := &AudioStream{
		cfg:         cfg,
		transport:   tr,
		sinkFactory: sf,
		store:       opts.Store,
		metrics:     opts.Metrics,
		delegate:    opts.SampleDelegate,
		logger:      logging.ForService("player"),
		cmds:        make(chan func(), 16),
		closed:      make(chan struct{}),
		state:       StateUnknown,
		volume:      1.0,
		rate:        1.0,
	}
	go e.run()
	return e
}

func (e *AudioStream) run() {
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.closed:
			return
		}
	}
}

// do runs fn on the control goroutine and waits for it.
func (e *AudioStream) do(fn func()) {
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-e.closed:
		return
	}
	select {
	case <-done:
	case <-e.closed:
	}
}

// post hands fn to the control goroutine without waiting. Used by background
// goroutines to report events.
func (e *AudioStream) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.closed:
	}
}

// Close stops playback and shuts the control goroutine down. The stream
// cannot be used afterwards.
func (e *AudioStream) Close() {
	e.do(func() {
		if e.det != nil {
			e.det.Stop()
		}
		e.teardownSession()
	})
	e.closeOnce.Do(func() { close(e.closed) })
}

// PlayURL starts playback of the given URL, replacing any active playback.
func (e *AudioStream) PlayURL(url string) {
	e.do(func() { e.playFrom(url, 0, 0, nil) })
}

// Play restarts playback of the last URL from the beginning.
func (e *AudioStream) Play() {
	e.do(func() { e.playFrom(e.url, 0, 0, nil) })
}

// PlayFromOffset resumes the last URL from a saved byte offset, typically
// one captured with CurrentSeekByteOffset before the host shut down. The
// format discovered by the earlier playback drives mid-stream re-entry;
// when no format is known yet the stream restarts from the beginning.
func (e *AudioStream) PlayFromOffset(off seek.ByteOffset) {
	e.do(func() {
		start, fraction := off.Start, off.Position
		var resume *decoder.Format
		switch {
		case start > 0 && e.lastFormatKnown:
			f := e.lastFormat
			if off.End > 0 {
				alignToFrame(&off, f, off.End)
				start = off.Start
			}
			resume = &f
		case start > 0:
			// nothing known to re-enter with
			start, fraction = 0, 0
		}
		e.playFrom(e.url, start, fraction, resume)
	})
}

// Stop ends playback. Safe to call from any state.
func (e *AudioStream) Stop() {
	e.do(func() {
		if e.det != nil {
			e.det.Stop()
		}
		e.teardownSession()
		e.setState(StateStopped)
	})
}

// Pause toggles between playing and paused. Queued audio is kept, not
// dropped, so resuming continues seamlessly.
func (e *AudioStream) Pause() {
	e.do(func() {
		s := e.sess
		switch e.state {
		case StatePlaying, StateBuffering:
			if s != nil && s.sink != nil {
				if err := s.sink.Pause(true); err != nil {
					e.logger.Warn("pause failed", "error", err)
				}
			}
			e.setState(StatePaused)
		case StatePaused:
			if s != nil && s.sink != nil {
				if err := s.sink.Pause(false); err != nil {
					e.logger.Warn("resume failed", "error", err)
				}
			}
			e.setState(StatePlaying)
		}
	})
}

// SeekToPosition moves playback to the given time position. Seeking is only
// possible on streams with a known duration; on continuous streams the
// request is rejected without touching playback.
func (e *AudioStream) SeekToPosition(pos seek.Position) error {
	var err error
	e.do(func() { err = e.seekTo(pos) })
	return err
}

// SetVolume scales the output amplitude, 0.0 to 1.0. The value carries over
// to subsequent play sessions.
func (e *AudioStream) SetVolume(v float64) {
	e.do(func() {
		e.volume = v
		if s := e.sess; s != nil && s.sink != nil {
			s.sink.SetVolume(v)
		}
	})
}

// SetPlayRate adjusts playback speed, 0.5 to 2.0.
func (e *AudioStream) SetPlayRate(r float64) {
	e.do(func() {
		e.rate = r
		if s := e.sess; s != nil && s.sink != nil {
			s.sink.SetPlayRate(r)
		}
	})
}

// State returns the current playback state.
func (e *AudioStream) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastError returns the failure classification after StateFailed.
func (e *AudioStream) LastError() StreamError {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// IsPlaying reports whether audio is actively being played.
func (e *AudioStream) IsPlaying() bool {
	return e.State() == StatePlaying
}

// URL returns the stream URL of the current or last playback.
func (e *AudioStream) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.url
}

// ContentType returns the effective content type of the stream.
func (e *AudioStream) ContentType() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.contentType
}

// SuggestedFileExtension returns the file extension matching the stream
// content type.
func (e *AudioStream) SuggestedFileExtension() string {
	return decoder.SuggestedFileExtension(e.ContentType())
}

// Continuous reports whether the stream has no known end, like live radio.
func (e *AudioStream) Continuous() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.continuous
}

// Cached reports whether the current playback is served from the disk cache.
func (e *AudioStream) Cached() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cached
}

// Duration returns the stream duration, or the zero position when unknown.
func (e *AudioStream) Duration() seek.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return seek.PositionFromDuration(e.duration)
}

// CurrentTimePlayed returns the playback position as a time coordinate.
func (e *AudioStream) CurrentTimePlayed() seek.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	base := time.Duration(e.baseFraction * float64(e.duration))
	var played time.Duration
	if s := e.sess; s != nil && s.formatKnown && s.format.SampleRate > 0 && s.format.Channels > 0 {
		frames := s.playedSamples.Load() / uint64(s.format.Channels)
		played = time.Duration(float64(frames) / float64(s.format.SampleRate) * float64(time.Second))
	}
	return seek.PositionFromDuration(base + played)
}

// CurrentSeekByteOffset returns the byte position playback has reached.
// Hosts persist it to resume with PlayFromOffset later. The zero offset is
// returned for continuous streams.
func (e *AudioStream) CurrentSeekByteOffset() seek.ByteOffset {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.continuous || e.totalBytes == 0 {
		return seek.ByteOffset{}
	}
	var start uint64
	if s := e.sess; s != nil {
		start = s.startOffset + s.encodedConsumed.Load()
	}
	if start > e.totalBytes {
		start = e.totalBytes
	}
	return seek.ByteOffset{
		Start:    start,
		End:      e.totalBytes,
		Position: float64(start) / float64(e.totalBytes),
	}
}

// PrebufferedByteCount returns the bytes received but not yet decoded.
func (e *AudioStream) PrebufferedByteCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s := e.sess; s != nil && s.gov != nil {
		return s.gov.Prebuffered()
	}
	return 0
}

// ---- control-goroutine internals ----

// setState publishes a state transition and notifies the host.
func (e *AudioStream) setState(next State) {
	e.mu.Lock()
	if e.state == next {
		e.mu.Unlock()
		return
	}
	e.state = next
	e.mu.Unlock()

	e.logger.Debug("state transition", "state", next.String())
	if e.metrics != nil {
		e.metrics.StateTransitions.WithLabelValues(next.String()).Inc()
	}
	if cb := e.OnStateChange; cb != nil {
		cb(next)
	}
}

// playFrom starts a fresh playback attempt for url at the given byte offset.
// A non-nil resume format re-enters the stream mid-file with a headerless
// decoder.
func (e *AudioStream) playFrom(url string, offset uint64, fraction float64, resume *decoder.Format) {
	if url == "" {
		e.fail(ErrOpen, errors.Newf("no stream url to play").
			Component("player").
			Category(errors.CategoryValidation).
			Build())
		return
	}
	if result := conf.ValidateStream(e.cfg); !result.Valid() {
		e.fail(ErrOpen, conf.StreamConfigError(result))
		return
	}

	if e.det != nil {
		e.det.Stop()
	}
	e.teardownSession()

	e.mu.Lock()
	if url != e.url {
		e.lastFormatKnown = false
	}
	e.url = url
	e.lastErr = ErrNone
	e.contentType = ""
	e.continuous = false
	e.cached = false
	e.duration = 0
	e.totalBytes = 0
	e.baseFraction = fraction
	e.mu.Unlock()

	e.det = stall.New(
		time.Duration(e.cfg.StartupWatchdogPeriod)*time.Second,
		time.Duration(e.cfg.BounceInterval)*time.Second,
		e.cfg.MaxBounceCount,
	)
	e.setState(StateRetrievingURL)
	e.det.ArmWatchdog()
	e.startSession(url, offset, resume)
}

// startSession opens the byte source, preferring a complete cache record
// over the network.
func (e *AudioStream) startSession(url string, offset uint64, resumeFormat *decoder.Format) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: ctx, cancel: cancel, resumeFormat: resumeFormat}

	e.mu.Lock()
	s.startOffset = offset
	e.sess = s
	e.mu.Unlock()

	if e.store != nil && e.cfg.Cache.Enabled {
		if r, rec, ok := e.store.OpenForRead(url); ok {
			if offset > 0 {
				if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
					_ = r.Close()
					e.fail(ErrOpen, errors.New(err).
						Component("player").
						Category(errors.CategoryCacheIO).
						Build())
					return
				}
			}
			if e.metrics != nil {
				e.metrics.CacheHits.Inc()
			}
			e.logger.Info("playing from cache", "url", url)
			s.body = r
			s.contentType = rec.ContentType
			s.fromCache = true
			e.mu.Lock()
			e.cached = true
			e.mu.Unlock()
			e.onConnected(s, rec.Size)
			return
		}
	}

	go func() {
		st, err := e.transport.Open(ctx, url, offset)
		e.post(func() {
			if e.sess != s {
				if err == nil {
					_ = st.Body.Close()
				}
				return
			}
			if err != nil {
				e.fail(openFailureKind(err), err)
				return
			}
			if offset > 0 && st.Offset == 0 {
				// the server ignored the range request and restarted the
				// stream from the top: decode it from scratch instead
				s.resumeFormat = nil
				e.mu.Lock()
				s.startOffset = 0
				e.baseFraction = 0
				e.mu.Unlock()
			}
			s.body = st.Body
			s.metadata = st.Metadata
			s.contentType = st.ContentType
			e.onConnected(s, st.ContentLength)
		})
	}()
}

// openFailureKind maps a transport open error to the host-visible kind.
func openFailureKind(err error) StreamError {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.Category == errors.CategoryNetwork {
		return ErrNetwork
	}
	return ErrOpen
}

// onConnected runs on the control goroutine once the byte source is open.
// It applies the content type policy, builds the decode pipeline and starts
// the session goroutines.
func (e *AudioStream) onConnected(s *session, length int64) {
	ct := s.contentType
	if ct == "" || !decoder.IsAudioContentType(ct) {
		if e.cfg.StrictContentTypeChecking {
			_ = s.body.Close()
			e.fail(ErrUnsupportedFormat, errors.Newf("refusing content type %q", ct).
				Component("player").
				Category(errors.CategoryFormat).
				Context("content_type", ct).
				Build())
			return
		}
		ct = e.cfg.DefaultContentType
	}
	s.contentType = ct

	var dec decoder.Decoder
	var err error
	h := &sessionHandler{e: e, s: s}
	if s.resumeFormat != nil {
		dec, err = decoder.NewResuming(ct, *s.resumeFormat, h)
	} else {
		dec, err = decoder.NewForContentType(ct, h)
	}
	if err != nil {
		_ = s.body.Close()
		e.fail(ErrUnsupportedFormat, err)
		return
	}
	s.dec = dec

	gov := buffer.New(e.cfg.MaxPrebufferedByteCount, e.cfg.BufferCount*e.cfg.BufferSize)

	e.mu.Lock()
	s.gov = gov
	e.contentType = ct
	if length > 0 {
		e.totalBytes = uint64(length)
		e.continuous = false
	} else {
		e.continuous = true
	}
	e.mu.Unlock()

	if !s.fromCache && s.startOffset == 0 && e.store != nil && e.cfg.Cache.Enabled {
		handle, cerr := e.store.BeginCaching(e.url)
		if cerr != nil {
			// playback carries on without the cache mirror
			e.logger.Warn("disk caching unavailable", "error", cerr)
		} else {
			s.cacheHandle = handle
		}
	}

	e.setState(StateBuffering)

	det := e.det
	go e.readLoop(s)
	go e.decodeLoop(s)
	go e.watchSession(s, det)
}

// readLoop pumps bytes from the source into the governor queue, mirroring
// them to the cache handle. It owns the body and the cache handle.
func (e *AudioStream) readLoop(s *session) {
	defer func() {
		_ = s.body.Close()
		if s.cacheHandle != nil {
			s.cacheHandle.Abort()
			s.cacheHandle = nil
		}
	}()

	buf := make([]byte, e.cfg.HTTPBufferSize)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			if s.cacheHandle != nil {
				if cerr := s.cacheHandle.Append(buf[:n]); cerr != nil {
					e.logger.Warn("cache write failed, disabling mirror", "error", cerr)
					s.cacheHandle.Abort()
					s.cacheHandle = nil
				}
			}
			if e.metrics != nil {
				e.metrics.BytesReceived.Add(float64(n))
			}
			if _, werr := s.gov.Write(buf[:n]); werr != nil {
				return // session torn down
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if s.cacheHandle != nil {
					if cerr := s.cacheHandle.MarkComplete(s.contentType); cerr != nil {
						e.logger.Warn("cache completion failed", "error", cerr)
					}
					s.cacheHandle = nil
				}
				s.gov.SetEOF()
				return
			}
			if s.ctx.Err() != nil {
				return // cancelled by stop or seek
			}
			e.post(func() {
				if e.sess == s {
					e.fail(ErrNetwork, err)
				}
			})
			return
		}
	}
}

// decodeLoop feeds governor bytes to the decoder until the queue drains.
func (e *AudioStream) decodeLoop(s *session) {
	buf := make([]byte, e.cfg.BufferSize)
	for {
		n, err := s.gov.Read(buf)
		if n > 0 {
			s.encodedConsumed.Add(uint64(n))
			if e.metrics != nil {
				e.metrics.PrebufferedBytes.Set(float64(s.gov.Prebuffered()))
			}
			if _, derr := s.dec.Write(buf[:n]); derr != nil {
				if s.ctx.Err() == nil {
					e.post(func() {
						if e.sess == s {
							e.onDecodeError(derr)
						}
					})
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return // session torn down
			}
			cerr := s.dec.Close()
			if s.ctx.Err() != nil {
				return
			}
			if cerr != nil {
				e.post(func() {
					if e.sess == s {
						e.onDecodeError(cerr)
					}
				})
				return
			}
			e.post(func() {
				if e.sess == s {
					e.onDrained(s)
				}
			})
			return
		}
	}
}

// watchSession relays governor, stall and metadata events to the control
// goroutine for the lifetime of the session.
func (e *AudioStream) watchSession(s *session, det *stall.Detector) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case cause := <-det.Fatal():
			e.post(func() {
				if e.sess == s {
					e.onStallFatal(cause)
				}
			})
		case <-s.gov.Events():
			e.post(func() {
				if e.sess == s {
					e.onBufferEvent(s)
				}
			})
		case md, ok := <-s.metadata:
			if !ok {
				s.metadata = nil
				continue
			}
			e.post(func() {
				if e.sess == s {
					if cb := e.OnMetadata; cb != nil {
						cb(md)
					}
				}
			})
		}
	}
}

// watchUnderruns relays sink underruns once the sink exists.
func (e *AudioStream) watchUnderruns(s *session, sink output.Sink) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-sink.Underruns():
			if !ok {
				return
			}
			e.post(func() {
				if e.sess == s {
					e.onUnderrun(s)
				}
			})
		}
	}
}

// onBufferEvent re-evaluates the buffering policy after a threshold signal.
func (e *AudioStream) onBufferEvent(s *session) {
	if e.metrics != nil {
		e.metrics.PrebufferedBytes.Set(float64(s.gov.Prebuffered()))
	}
	if e.state == StateBuffering && s.gov.CanStartOrResumePlayback() {
		e.setState(StatePlaying)
		e.det.MarkPlaying()
	}
}

// onUnderrun handles the audio output running dry while playing: a bounce
// back to buffering, counted by the stall detector.
func (e *AudioStream) onUnderrun(s *session) {
	if e.state != StatePlaying {
		return
	}
	if s.gov.EOF() {
		// the tail of the stream drains through the sink, not an underrun
		return
	}
	e.logger.Info("audio output underrun, rebuffering")
	if e.metrics != nil {
		e.metrics.Bounces.Inc()
	}
	s.gov.ResetAccumulation()
	e.det.RecordBounce()
	e.setState(StateBuffering)
}

// onStallFatal handles a stall policy giving up on the stream.
func (e *AudioStream) onStallFatal(cause stall.Cause) {
	switch cause {
	case stall.CauseBouncing:
		e.fail(ErrStreamBouncing, errors.Newf("stream kept bouncing between playing and buffering").
			Component("player").
			Category(errors.CategoryTimeout).
			Build())
	default:
		e.fail(ErrNetwork, errors.Newf("stream did not reach playback within the watchdog period").
			Component("player").
			Category(errors.CategoryTimeout).
			Build())
	}
}

// onDecodeError classifies a decoder failure and fails playback.
func (e *AudioStream) onDecodeError(err error) {
	kind := ErrStreamParse
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.Category == errors.CategoryFormat {
		kind = ErrUnsupportedFormat
	}
	e.fail(kind, err)
}

// onDrained runs when the decoder has consumed the whole stream.
func (e *AudioStream) onDrained(s *session) {
	e.mu.RLock()
	continuous := e.continuous
	e.mu.RUnlock()

	if continuous {
		// a continuous source has no legitimate end
		e.fail(ErrNetwork, errors.Newf("continuous stream ended unexpectedly").
			Component("player").
			Category(errors.CategoryNetwork).
			Build())
		return
	}

	sink := s.sink
	if sink == nil {
		e.finish()
		return
	}
	// let queued audio play out before announcing the end
	go func() {
		sink.Drain()
		e.post(func() {
			if e.sess == s {
				e.finish()
			}
		})
	}()
}

// finish completes playback of a stream with known length.
func (e *AudioStream) finish() {
	if e.det != nil {
		e.det.Stop()
	}
	e.teardownSession()
	e.setState(StateEndOfFile)
	if cb := e.OnCompletion; cb != nil {
		cb()
	}
}

// fail tears the session down and enters the terminal failure state.
func (e *AudioStream) fail(kind StreamError, err error) {
	e.mu.RLock()
	already := e.state == StateFailed
	e.mu.RUnlock()
	if already {
		return
	}

	e.logger.Error("playback failed", "kind", kind.String(), "error", err)
	if e.metrics != nil {
		e.metrics.Failures.WithLabelValues(kind.String()).Inc()
	}
	if e.det != nil {
		e.det.Stop()
	}
	e.teardownSession()

	e.mu.Lock()
	e.lastErr = kind
	e.mu.Unlock()

	e.setState(StateFailed)
	if cb := e.OnFailure; cb != nil {
		cb(kind, err)
	}
}

// seekTo restarts the stream at the byte offset matching pos.
func (e *AudioStream) seekTo(pos seek.Position) error {
	e.mu.RLock()
	s := e.sess
	state := e.state
	continuous := e.continuous
	duration := e.duration
	totalBytes := e.totalBytes
	url := e.url
	e.mu.RUnlock()

	if s == nil || state.terminal() {
		return errors.Newf("no active stream to seek").
			Component("player").
			Category(errors.CategorySeek).
			Build()
	}
	if continuous || duration <= 0 || totalBytes == 0 {
		return errors.Newf("cannot seek in a continuous stream").
			Component("player").
			Category(errors.CategorySeek).
			Build()
	}
	if !s.formatKnown {
		return errors.Newf("cannot seek before the stream format is known").
			Component("player").
			Category(errors.CategorySeek).
			Build()
	}

	off := seek.PositionToByteOffset(pos, duration, totalBytes)

	if pos.Duration() >= duration {
		// past the end: finish once queued audio has drained
		e.setState(StateSeeking)
		sink := s.sink
		e.teardownSessionKeepSink(s)
		if sink == nil {
			e.finish()
			return nil
		}
		go func() {
			sink.Drain()
			_ = sink.Close()
			e.post(func() {
				if e.State() == StateSeeking {
					e.finish()
				}
			})
		}()
		return nil
	}

	alignToFrame(&off, s.format, totalBytes)
	resume := s.format

	e.setState(StateSeeking)
	e.teardownSession()

	e.mu.Lock()
	e.baseFraction = off.Position
	e.mu.Unlock()

	e.logger.Info("seeking", "minute", pos.Minute, "second", pos.Second, "offset", off.Start)
	e.startSession(url, off.Start, &resume)
	return nil
}

// alignToFrame rounds a seek offset down to a whole sample frame within the
// audio payload, so decoding does not resume between the bytes of a sample.
func alignToFrame(off *seek.ByteOffset, f decoder.Format, totalBytes uint64) {
	block := uint64(f.Channels) * uint64(f.BitsPerSample/8)
	if block == 0 || f.DataBytes <= 0 || uint64(f.DataBytes) > totalBytes {
		return
	}
	dataStart := totalBytes - uint64(f.DataBytes)
	if off.Start <= dataStart {
		off.Start = dataStart
		return
	}
	rel := off.Start - dataStart
	off.Start = dataStart + rel - rel%block
}

// teardownSession cancels the active session and releases its pipeline.
func (e *AudioStream) teardownSession() {
	e.mu.Lock()
	s := e.sess
	e.sess = nil
	e.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	if s.gov != nil {
		s.gov.Close(errSessionClosed)
	}
	if s.dec != nil {
		// Close blocks until the parse goroutine exits; it needs no help
		// from the control goroutine, so let it finish on its own.
		dec := s.dec
		go func() { _ = dec.Close() }()
	}
	if s.sink != nil {
		_ = s.sink.Close()
	}
}

// teardownSessionKeepSink is the seek-past-end variant: the sink stays open
// so already queued audio can drain.
func (e *AudioStream) teardownSessionKeepSink(s *session) {
	e.mu.Lock()
	if e.sess == s {
		e.sess = nil
	}
	e.mu.Unlock()

	s.cancel()
	if s.gov != nil {
		s.gov.Close(errSessionClosed)
	}
	if s.dec != nil {
		dec := s.dec
		go func() { _ = dec.Close() }()
	}
}

// ---- decoder handler ----

// sessionHandler receives decoder output on the decode goroutine.
type sessionHandler struct {
	e    *AudioStream
	s    *session
	sink output.Sink
}

func (h *sessionHandler) OnFormat(f decoder.Format) {
	sink := h.e.sinkFactory()
	if err := sink.Start(f.SampleRate, f.Channels); err != nil {
		h.e.post(func() {
			if h.e.sess == h.s {
				h.e.fail(ErrOpen, err)
			}
		})
		return
	}
	h.sink = sink
	h.e.post(func() {
		if h.e.sess != h.s {
			_ = sink.Close()
			return
		}
		h.e.applyFormat(h.s, sink, f)
	})
}

func (h *sessionHandler) OnSamples(samples []int16) {
	if h.sink == nil {
		return
	}
	if d := h.e.delegate; d != nil {
		d.SamplesAvailable(samples)
	}
	if err := h.sink.WriteSamples(samples); err != nil {
		return // sink closed by teardown
	}
	h.s.playedSamples.Add(uint64(len(samples)))
}

func (h *sessionHandler) OnMetadata(md map[string]string) {
	h.e.post(func() {
		if h.e.sess == h.s {
			if cb := h.e.OnMetadata; cb != nil {
				cb(md)
			}
		}
	})
}

// applyFormat publishes the discovered stream format, derives the duration
// and attaches the started sink to the session.
func (e *AudioStream) applyFormat(s *session, sink output.Sink, f decoder.Format) {
	sink.SetVolume(e.volume)
	sink.SetPlayRate(e.rate)

	e.mu.Lock()
	s.sink = sink
	s.format = f
	s.formatKnown = true
	e.lastFormat = f
	e.lastFormatKnown = true
	switch {
	case f.DataBytes > 0 && f.ByteRate > 0:
		if e.totalBytes == 0 {
			e.totalBytes = uint64(f.DataBytes)
		}
		e.duration = time.Duration(float64(f.DataBytes) / float64(f.ByteRate) * float64(time.Second))
		e.continuous = false
	case e.totalBytes > 0 && f.ByteRate > 0:
		e.duration = time.Duration(float64(e.totalBytes) / float64(f.ByteRate) * float64(time.Second))
		e.continuous = false
	default:
		e.continuous = true
	}
	paused := e.state == StatePaused
	e.mu.Unlock()

	if paused {
		_ = sink.Pause(true)
	}
	e.logger.Info("stream format",
		"sample_rate", f.SampleRate,
		"channels", f.Channels,
		"bits", f.BitsPerSample,
		"continuous", e.Continuous())

	go e.watchUnderruns(s, sink)
}
