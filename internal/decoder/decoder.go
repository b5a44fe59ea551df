// Package decoder turns raw stream bytes into PCM samples.
//
// Decoders follow a push model: the engine writes received bytes in, the
// decoder parses them on its own goroutine and delivers format information,
// samples and metadata through a Handler. Malformed input surfaces as a
// stream parse error on Write, codecs we cannot decode as an unsupported
// format error.
package decoder

import (
	"io"

	"github.com/tphakala/audiostream-go/internal/errors"
)

// Format describes the decoded PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// ByteRate is the average encoded byte rate, used to derive the
	// stream duration. Zero when unknown.
	ByteRate int

	// DataBytes is the total size of the audio payload in bytes, or -1
	// for continuous streams.
	DataBytes int64
}

// Handler receives decoder output. All calls are made from the decoder's
// parse goroutine and must not block for long.
type Handler interface {
	// OnFormat is called once, before the first OnSamples call.
	OnFormat(Format)
	// OnSamples delivers decoded 16-bit PCM samples, interleaved.
	OnSamples([]int16)
	// OnMetadata delivers tag updates found in the stream.
	OnMetadata(map[string]string)
}

// Decoder consumes raw stream bytes. Close signals the end of input and
// waits for parsing to finish; it returns the first parse error, if any.
type Decoder interface {
	io.Writer
	Close() error
}

// NewForContentType selects a decoder implementation for the given content
// type. An unsupported format error is returned for audio types this build
// cannot decode.
func NewForContentType(contentType string, h Handler) (Decoder, error) {
	switch contentType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return newWAVDecoder(h), nil
	case "audio/l16", "audio/l16;rate=44100":
		return newL16Decoder(h, 44100, 2), nil
	default:
		return nil, errors.Newf("no decoder for content type %q", contentType).
			Component("decoder").
			Category(errors.CategoryFormat).
			Context("content_type", contentType).
			Build()
	}
}

// NewResuming selects a decoder for re-entering a stream mid-file, after a
// seek. The container header was consumed by the session that discovered the
// format, so the new session sees raw sample data only. Formats that cannot
// be re-entered this way return an unsupported format error; callers treat
// it as a non-fatal seek failure.
func NewResuming(contentType string, f Format, h Handler) (Decoder, error) {
	switch contentType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return newRawPCMDecoder(h, f, false), nil
	case "audio/l16", "audio/l16;rate=44100":
		return newRawPCMDecoder(h, f, true), nil
	default:
		return nil, errors.Newf("content type %q does not support mid-stream entry", contentType).
			Component("decoder").
			Category(errors.CategoryFormat).
			Context("content_type", contentType).
			Build()
	}
}
