package decoder

import "sync"

// rawPCMDecoder handles headerless signed 16-bit PCM. It backs two cases:
// audio/L16 network streams (big-endian) and mid-stream re-entry after a
// seek, where the container header was consumed by an earlier session and
// only raw little-endian sample data follows.
type rawPCMDecoder struct {
	h         Handler
	format    Format
	bigEndian bool

	mu          sync.Mutex
	formatSent  bool
	leftover    byte
	hasLeftover bool
}

func newL16Decoder(h Handler, sampleRate, channels int) *rawPCMDecoder {
	return &rawPCMDecoder{
		h: h,
		format: Format{
			SampleRate:    sampleRate,
			Channels:      channels,
			BitsPerSample: 16,
			ByteRate:      sampleRate * channels * 2,
			DataBytes:     -1,
		},
		bigEndian: true,
	}
}

func newRawPCMDecoder(h Handler, f Format, bigEndian bool) *rawPCMDecoder {
	return &rawPCMDecoder{h: h, format: f, bigEndian: bigEndian}
}

func (d *rawPCMDecoder) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.formatSent {
		d.formatSent = true
		d.h.OnFormat(d.format)
	}

	data := p
	if d.hasLeftover {
		data = append([]byte{d.leftover}, data...)
		d.hasLeftover = false
	}
	if len(data)%2 == 1 {
		d.leftover = data[len(data)-1]
		d.hasLeftover = true
		data = data[:len(data)-1]
	}

	if len(data) > 0 {
		samples := make([]int16, len(data)/2)
		if d.bigEndian {
			for i := range samples {
				samples[i] = int16(uint16(data[2*i])<<8 | uint16(data[2*i+1]))
			}
		} else {
			for i := range samples {
				samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
			}
		}
		d.h.OnSamples(samples)
	}
	return len(p), nil
}

func (d *rawPCMDecoder) Close() error {
	return nil
}
