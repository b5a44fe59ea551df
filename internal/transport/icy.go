package transport

import (
	"io"
	"strings"
)

// icyReader strips interleaved ICY metadata blocks from a shoutcast stream.
// The wire format alternates metaint bytes of audio with one length byte
// (block length / 16) followed by that many bytes of zero-padded metadata
// such as "StreamTitle='Artist - Song';".
type icyReader struct {
	src       io.ReadCloser
	metaint   int
	remaining int // audio bytes until the next metadata block
	metadata  chan<- map[string]string
	lastTitle string
	closed    bool
}

func newIcyReader(src io.ReadCloser, metaint int, metadata chan<- map[string]string) *icyReader {
	return &icyReader{
		src:       src,
		metaint:   metaint,
		remaining: metaint,
		metadata:  metadata,
	}
}

func (r *icyReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		if err := r.readMetadataBlock(); err != nil {
			return 0, err
		}
		r.remaining = r.metaint
	}

	if len(p) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.src.Read(p)
	r.remaining -= n
	return n, err
}

func (r *icyReader) readMetadataBlock() error {
	var lengthByte [1]byte
	if _, err := io.ReadFull(r.src, lengthByte[:]); err != nil {
		return err
	}
	length := int(lengthByte[0]) * 16
	if length == 0 {
		return nil
	}

	block := make([]byte, length)
	if _, err := io.ReadFull(r.src, block); err != nil {
		return err
	}

	if title, ok := parseStreamTitle(string(block)); ok && title != r.lastTitle {
		r.lastTitle = title
		select {
		case r.metadata <- map[string]string{"StreamTitle": title}:
		default:
			// a slow consumer never blocks the stream
		}
	}
	return nil
}

func (r *icyReader) Close() error {
	if !r.closed {
		r.closed = true
		close(r.metadata)
	}
	return r.src.Close()
}

// parseStreamTitle extracts the title from a metadata block of the form
// "StreamTitle='...';StreamUrl='...';" with zero padding.
func parseStreamTitle(block string) (string, bool) {
	block = strings.TrimRight(block, "\x00")
	const prefix = "StreamTitle='"
	start := strings.Index(block, prefix)
	if start < 0 {
		return "", false
	}
	rest := block[start+len(prefix):]
	end := strings.Index(rest, "';")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
