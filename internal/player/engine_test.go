package player

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream-go/internal/cachestore"
	"github.com/tphakala/audiostream-go/internal/conf"
	"github.com/tphakala/audiostream-go/internal/output"
	"github.com/tphakala/audiostream-go/internal/seek"
)

const waitTimeout = 10 * time.Second

func testSettings() *conf.StreamSettings {
	return &conf.StreamSettings{
		BufferCount:             2,
		BufferSize:              1024,
		MaxPacketDescs:          16,
		DecodeQueueSize:         16,
		HTTPBufferSize:          1024,
		OutputSampleRate:        44100,
		OutputChannels:          2,
		BounceInterval:          10,
		MaxBounceCount:          4,
		StartupWatchdogPeriod:   0,
		MaxPrebufferedByteCount: 2048,
		UserAgent:               "audiostream-go test",
		DefaultContentType:      "audio/mpeg",
	}
}

// wavFixture encodes seconds of a mono sine tone as a complete WAV file.
func wavFixture(t *testing.T, seconds, sampleRate int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	n := seconds * sampleRate
	data := make([]int, n)
	for i := range data {
		data[i] = int(2000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

type stateRecorder struct {
	ch chan State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan State, 64)}
}

func (r *stateRecorder) record(s State) {
	select {
	case r.ch <- s:
	default:
	}
}

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

// wavServer serves the fixture with range support, one throttled chunk at a
// time, so a playback session stays alive long enough to manipulate.
func wavServer(t *testing.T, data []byte, chunk int, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := 0
		if rng := r.Header.Get("Range"); rng != "" {
			if _, err := fmt.Sscanf(rng, "bytes=%d-", &start); err == nil && start < len(data) {
				w.Header().Set("Content-Range",
					fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
			} else {
				start = 0
			}
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)-start))
		if start > 0 {
			w.WriteHeader(http.StatusPartialContent)
		}

		flusher := w.(http.Flusher)
		for pos := start; pos < len(data); pos += chunk {
			end := min(pos+chunk, len(data))
			if _, err := w.Write(data[pos:end]); err != nil {
				return
			}
			flusher.Flush()
			if delay > 0 {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(delay):
				}
			}
		}
	}))
}

// continuousServer streams endless audio/l16 zeros without a content length.
func continuousServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/l16")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		buf := make([]byte, 4096)
		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			if _, err := w.Write(buf); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
}

func newTestStream(t *testing.T, cfg *conf.StreamSettings, sink *output.NullSink, opts Options) (*AudioStream, *stateRecorder) {
	t.Helper()
	opts.Settings = cfg
	opts.SinkFactory = func() output.Sink { return sink }
	e := New(opts)
	rec := newStateRecorder()
	e.OnStateChange = rec.record
	t.Cleanup(e.Close)
	return e, rec
}

func TestPlayWavToCompletion(t *testing.T) {
	data := wavFixture(t, 2, 8000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		http.ServeContent(w, r, "stream.wav", time.Now(), bytes.NewReader(data))
	}))
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	completed := make(chan struct{}, 1)
	e.OnCompletion = func() { completed <- struct{}{} }

	e.PlayURL(srv.URL)
	rec.waitFor(t, StateRetrievingURL)
	rec.waitFor(t, StateBuffering)
	rec.waitFor(t, StatePlaying)
	rec.waitFor(t, StateEndOfFile)

	select {
	case <-completed:
	case <-time.After(waitTimeout):
		t.Fatal("completion callback never fired")
	}

	assert.False(t, e.IsPlaying())
	assert.False(t, e.Continuous())
	assert.Equal(t, ErrNone, e.LastError())
	assert.Equal(t, "audio/wav", e.ContentType())
	assert.Equal(t, "wav", e.SuggestedFileExtension())
	assert.Equal(t, seek.Position{Minute: 0, Second: 2}, e.Duration())
	assert.Len(t, sink.Samples(), 2*8000)
}

func TestStopFromPlaying(t *testing.T) {
	srv := continuousServer(t)
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	e.PlayURL(srv.URL)
	rec.waitFor(t, StatePlaying)
	assert.True(t, e.IsPlaying())
	assert.True(t, e.Continuous())

	e.Stop()
	rec.waitFor(t, StateStopped)
	assert.False(t, e.IsPlaying())
	assert.Equal(t, StateStopped, e.State())
}

func TestPauseToggle(t *testing.T) {
	srv := continuousServer(t)
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	e.PlayURL(srv.URL)
	rec.waitFor(t, StatePlaying)

	e.Pause()
	rec.waitFor(t, StatePaused)
	assert.False(t, e.IsPlaying())

	e.Pause()
	rec.waitFor(t, StatePlaying)
	assert.True(t, e.IsPlaying())

	e.Stop()
	rec.waitFor(t, StateStopped)
}

func TestSeekRejectedOnContinuousStream(t *testing.T) {
	srv := continuousServer(t)
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	e.PlayURL(srv.URL)
	rec.waitFor(t, StatePlaying)

	err := e.SeekToPosition(seek.Position{Second: 30})
	require.Error(t, err)
	assert.Equal(t, StatePlaying, e.State())

	e.Stop()
	rec.waitFor(t, StateStopped)
}

func TestSeekRestartsAtOffset(t *testing.T) {
	const seconds, rate = 8, 8000
	data := wavFixture(t, seconds, rate)
	srv := wavServer(t, data, 2048, 20*time.Millisecond)
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	completed := make(chan struct{}, 1)
	e.OnCompletion = func() { completed <- struct{}{} }

	e.PlayURL(srv.URL)
	rec.waitFor(t, StatePlaying)

	// the format is discovered asynchronously; retry until seekable
	target := seek.Position{Second: 4}
	require.Eventually(t, func() bool {
		return e.SeekToPosition(target) == nil
	}, waitTimeout, 10*time.Millisecond)

	rec.waitFor(t, StateSeeking)
	rec.waitFor(t, StateBuffering)
	rec.waitFor(t, StateEndOfFile)

	select {
	case <-completed:
	case <-time.After(waitTimeout):
		t.Fatal("completion callback never fired")
	}

	// roughly the second half of the file plays after the seek, plus
	// whatever was delivered before it
	played := len(sink.Samples())
	assert.GreaterOrEqual(t, played, seconds*rate/2-rate)
	assert.Less(t, played, seconds*rate)

	got := e.CurrentTimePlayed()
	assert.GreaterOrEqual(t, got.Duration(), target.Duration())
}

func TestSeekPastEndFinishes(t *testing.T) {
	data := wavFixture(t, 8, 8000)
	srv := wavServer(t, data, 2048, 20*time.Millisecond)
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	completed := make(chan struct{}, 1)
	e.OnCompletion = func() { completed <- struct{}{} }

	e.PlayURL(srv.URL)
	rec.waitFor(t, StatePlaying)

	require.Eventually(t, func() bool {
		return e.SeekToPosition(seek.Position{Minute: 10}) == nil
	}, waitTimeout, 10*time.Millisecond)

	rec.waitFor(t, StateSeeking)
	rec.waitFor(t, StateEndOfFile)

	select {
	case <-completed:
	case <-time.After(waitTimeout):
		t.Fatal("completion callback never fired")
	}
}

func TestPlayFromOffsetResumesMidStream(t *testing.T) {
	const seconds, rate = 4, 8000
	data := wavFixture(t, seconds, rate)
	srv := wavServer(t, data, 4096, time.Millisecond)
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	completed := make(chan struct{}, 2)
	e.OnCompletion = func() { completed <- struct{}{} }

	e.PlayURL(srv.URL)
	rec.waitFor(t, StateEndOfFile)
	select {
	case <-completed:
	case <-time.After(waitTimeout):
		t.Fatal("completion callback never fired")
	}
	before := len(sink.Samples())

	// resume at the halfway byte, as a host would after persisting
	// CurrentSeekByteOffset
	e.PlayFromOffset(seek.ByteOffset{
		Start:    uint64(len(data) / 2),
		End:      uint64(len(data)),
		Position: 0.5,
	})
	rec.waitFor(t, StatePlaying)
	rec.waitFor(t, StateEndOfFile)

	assert.Equal(t, ErrNone, e.LastError())

	// roughly the second half of the file plays
	delta := len(sink.Samples()) - before
	assert.GreaterOrEqual(t, delta, seconds*rate/2-rate)
	assert.Less(t, delta, seconds*rate*3/4)

	assert.Equal(t, seek.Position{Minute: 0, Second: seconds}, e.Duration())
	assert.Equal(t, seek.Position{Minute: 0, Second: seconds / 2}, e.CurrentTimePlayed())
}

func TestPlayFromOffsetFallsBackWhenRangeIgnored(t *testing.T) {
	const seconds, rate = 2, 8000
	data := wavFixture(t, seconds, rate)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// range requests deliberately not honored: always the full file
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	e.PlayURL(srv.URL)
	rec.waitFor(t, StateEndOfFile)
	before := len(sink.Samples())

	e.PlayFromOffset(seek.ByteOffset{
		Start:    uint64(len(data) / 2),
		End:      uint64(len(data)),
		Position: 0.5,
	})
	rec.waitFor(t, StateEndOfFile)

	// the server restarted from byte zero, so the whole stream plays again
	// and the reported position is not biased by the requested offset
	assert.Equal(t, ErrNone, e.LastError())
	assert.Equal(t, seconds*rate, len(sink.Samples())-before)
	assert.Equal(t, seek.Position{}, e.CurrentTimePlayed())
}

func TestUnderrunBouncesToBuffering(t *testing.T) {
	srv := continuousServer(t)
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	e.PlayURL(srv.URL)
	rec.waitFor(t, StatePlaying)

	sink.TriggerUnderrun()
	rec.waitFor(t, StateBuffering)
	// fresh bytes keep arriving, so playback resumes
	rec.waitFor(t, StatePlaying)

	e.Stop()
	rec.waitFor(t, StateStopped)
}

func TestStartupWatchdogFailsSilentStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/l16")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testSettings()
	cfg.StartupWatchdogPeriod = 1

	sink := output.NewNullSink()
	e, rec := newTestStream(t, cfg, sink, Options{})

	failures := make(chan StreamError, 1)
	e.OnFailure = func(kind StreamError, err error) { failures <- kind }

	e.PlayURL(srv.URL)
	rec.waitFor(t, StateFailed)

	select {
	case kind := <-failures:
		assert.Equal(t, ErrNetwork, kind)
	case <-time.After(waitTimeout):
		t.Fatal("failure callback never fired")
	}
	assert.Equal(t, ErrNetwork, e.LastError())
}

func TestStrictContentTypeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not a stream</html>"))
	}))
	defer srv.Close()

	cfg := testSettings()
	cfg.StrictContentTypeChecking = true

	sink := output.NewNullSink()
	e, rec := newTestStream(t, cfg, sink, Options{})

	failures := make(chan StreamError, 1)
	e.OnFailure = func(kind StreamError, err error) { failures <- kind }

	e.PlayURL(srv.URL)
	rec.waitFor(t, StateFailed)

	select {
	case kind := <-failures:
		assert.Equal(t, ErrUnsupportedFormat, kind)
	case <-time.After(waitTimeout):
		t.Fatal("failure callback never fired")
	}
}

func TestInvalidCacheConfigFailsOpen(t *testing.T) {
	cfg := testSettings()
	cfg.Cache.Enabled = true // no directory configured

	sink := output.NewNullSink()
	e, rec := newTestStream(t, cfg, sink, Options{})

	e.PlayURL("http://example.invalid/stream")
	rec.waitFor(t, StateFailed)
	assert.Equal(t, ErrOpen, e.LastError())
}

func TestCacheServesSecondPlay(t *testing.T) {
	data := wavFixture(t, 2, 8000)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "audio/wav")
		http.ServeContent(w, r, "stream.wav", time.Now(), bytes.NewReader(data))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store, err := cachestore.New(dir, 1<<20)
	require.NoError(t, err)

	cfg := testSettings()
	cfg.Cache = conf.CacheSettings{Enabled: true, Directory: dir, MaxSize: 1 << 20}

	sink := output.NewNullSink()
	e, rec := newTestStream(t, cfg, sink, Options{Store: store})

	e.PlayURL(srv.URL)
	rec.waitFor(t, StateEndOfFile)
	assert.True(t, store.IsCached(srv.URL))
	assert.False(t, e.Cached())
	assert.Equal(t, int32(1), requests.Load())

	// the second play of the same URL never touches the network
	e.Play()
	rec.waitFor(t, StateEndOfFile)
	assert.True(t, e.Cached())
	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, "audio/wav", e.ContentType())
}

func TestIcyMetadataDelivered(t *testing.T) {
	const metaint = 32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/l16")
		w.Header().Set("icy-metaint", fmt.Sprintf("%d", metaint))
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		title := []byte("StreamTitle='Test Song';")
		pad := (16 - len(title)%16) % 16
		block := append([]byte{byte((len(title) + pad) / 16)}, title...)
		block = append(block, make([]byte, pad)...)

		audioBytes := make([]byte, metaint)
		first := true
		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			if _, err := w.Write(audioBytes); err != nil {
				return
			}
			if first {
				first = false
				if _, err := w.Write(block); err != nil {
					return
				}
			} else if _, err := w.Write([]byte{0}); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(2 * time.Millisecond)
		}
	}))
	defer srv.Close()

	sink := output.NewNullSink()
	e, rec := newTestStream(t, testSettings(), sink, Options{})

	titles := make(chan map[string]string, 4)
	e.OnMetadata = func(md map[string]string) {
		select {
		case titles <- md:
		default:
		}
	}

	e.PlayURL(srv.URL)
	rec.waitFor(t, StateBuffering)

	select {
	case md := <-titles:
		assert.Equal(t, "Test Song", md["StreamTitle"])
	case <-time.After(waitTimeout):
		t.Fatal("metadata never delivered")
	}

	e.Stop()
	rec.waitFor(t, StateStopped)
}
