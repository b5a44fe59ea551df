package decoder

import (
	stderrors "errors"
	"io"
	"sync"

	"github.com/go-audio/riff"

	"github.com/tphakala/audiostream-go/internal/errors"
)

const sampleChunkSize = 8192

// wavDecoder parses a RIFF/WAVE stream incrementally. Bytes written to the
// decoder feed a pipe read by the parse goroutine, so backpressure from the
// audio output propagates to the byte queue.
type wavDecoder struct {
	h  Handler
	pw *io.PipeWriter

	mu   sync.Mutex
	err  error
	done chan struct{}
}

func newWAVDecoder(h Handler) *wavDecoder {
	pr, pw := io.Pipe()
	d := &wavDecoder{
		h:    h,
		pw:   pw,
		done: make(chan struct{}),
	}
	go d.run(pr)
	return d
}

func (d *wavDecoder) Write(p []byte) (int, error) {
	return d.pw.Write(p)
}

// Close ends the input and waits for the parse goroutine.
func (d *wavDecoder) Close() error {
	_ = d.pw.Close()
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// fail records the parse error and propagates it to pending writers.
func (d *wavDecoder) fail(pr *io.PipeReader, err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	_ = pr.CloseWithError(err)
}

func (d *wavDecoder) run(pr *io.PipeReader) {
	defer close(d.done)

	parser := riff.New(pr)
	if err := parser.ParseHeaders(); err != nil {
		d.fail(pr, errors.New(err).
			Component("decoder").
			Category(errors.CategoryStreamParse).
			Context("container", "riff").
			Build())
		return
	}

	var formatSeen, formatEmitted bool
	for {
		chunk, err := parser.NextChunk()
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			_ = pr.Close()
			return
		}
		if err != nil {
			d.fail(pr, errors.New(err).
				Component("decoder").
				Category(errors.CategoryStreamParse).
				Build())
			return
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			if err := chunk.DecodeWavHeader(parser); err != nil {
				d.fail(pr, errors.New(err).
					Component("decoder").
					Category(errors.CategoryStreamParse).
					Build())
				return
			}
			if parser.WavAudioFormat != 1 || parser.BitsPerSample != 16 {
				d.fail(pr, errors.Newf("unsupported wav encoding: format %d, %d bits",
					parser.WavAudioFormat, parser.BitsPerSample).
					Component("decoder").
					Category(errors.CategoryFormat).
					Build())
				return
			}
			formatSeen = true
		case "data":
			if !formatSeen {
				d.fail(pr, errors.Newf("wav data chunk before fmt chunk").
					Component("decoder").
					Category(errors.CategoryStreamParse).
					Build())
				return
			}
			// the format is announced once; further data chunks continue
			// the same stream
			if !formatEmitted {
				formatEmitted = true
				d.h.OnFormat(Format{
					SampleRate:    int(parser.SampleRate),
					Channels:      int(parser.NumChannels),
					BitsPerSample: int(parser.BitsPerSample),
					ByteRate:      int(parser.AvgBytesPerSec),
					DataBytes:     int64(chunk.Size),
				})
			}
			if err := d.emitSamples(chunk); err != nil {
				if !stderrors.Is(err, io.EOF) && !stderrors.Is(err, io.ErrUnexpectedEOF) {
					d.fail(pr, errors.New(err).
						Component("decoder").
						Category(errors.CategoryStreamParse).
						Build())
					return
				}
				// truncated data chunk: deliver what we got
				_ = pr.Close()
				return
			}
		default:
			chunk.Drain()
		}
	}
}

// emitSamples streams the data chunk to the handler in bounded batches.
func (d *wavDecoder) emitSamples(chunk *riff.Chunk) error {
	buf := make([]byte, sampleChunkSize)
	var leftover byte
	var hasLeftover bool

	for !chunk.IsFullyRead() {
		n, err := chunk.Read(buf)
		if n > 0 {
			data := buf[:n]
			if hasLeftover {
				data = append([]byte{leftover}, data...)
				hasLeftover = false
			}
			if len(data)%2 == 1 {
				leftover = data[len(data)-1]
				hasLeftover = true
				data = data[:len(data)-1]
			}
			if len(data) > 0 {
				d.h.OnSamples(samplesFromLE(data))
			}
		}
		if err != nil {
			return err
		}
	}
	chunk.Done()
	return nil
}

// samplesFromLE converts little-endian byte pairs to int16 samples.
func samplesFromLE(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return samples
}
