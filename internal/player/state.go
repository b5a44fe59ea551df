// Package player implements the playback engine: a state machine that wires
// the transport, the prebuffer governor, the decoder, the disk cache and the
// audio output into one streaming pipeline.
package player

// State is the playback state visible to the host application.
type State int

const (
	// StateUnknown is the state before the first play request.
	StateUnknown State = iota
	// StateRetrievingURL means the stream request is in flight.
	StateRetrievingURL
	// StateStopped means playback was stopped by the host.
	StateStopped
	// StateBuffering means bytes are accumulating before playback starts
	// or resumes.
	StateBuffering
	// StatePlaying means audio is being delivered to the output.
	StatePlaying
	// StatePaused means playback is suspended and can be resumed.
	StatePaused
	// StateSeeking means the stream is restarting at a new position.
	StateSeeking
	// StateEndOfFile means a stream with known length played to its end.
	StateEndOfFile
	// StateFailed is the terminal error state.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRetrievingURL:
		return "retrieving-url"
	case StateStopped:
		return "stopped"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	case StateEndOfFile:
		return "end-of-file"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions happen without a new play
// request.
func (s State) terminal() bool {
	return s == StateStopped || s == StateEndOfFile || s == StateFailed
}

// StreamError classifies playback failures for the host application.
type StreamError int

const (
	// ErrNone means no failure has occurred.
	ErrNone StreamError = iota
	// ErrOpen means the stream could not be opened: bad URL, rejected
	// request, invalid configuration or an audio device failure.
	ErrOpen
	// ErrStreamParse means the stream bytes could not be parsed.
	ErrStreamParse
	// ErrNetwork means the connection failed or was lost.
	ErrNetwork
	// ErrUnsupportedFormat means the content type or codec is not playable.
	ErrUnsupportedFormat
	// ErrStreamBouncing means playback kept falling back to buffering and
	// the bounce policy gave up.
	ErrStreamBouncing
)

func (e StreamError) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrOpen:
		return "open"
	case ErrStreamParse:
		return "stream-parse"
	case ErrNetwork:
		return "network"
	case ErrUnsupportedFormat:
		return "unsupported-format"
	case ErrStreamBouncing:
		return "stream-bouncing"
	default:
		return "unknown"
	}
}
