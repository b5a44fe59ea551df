package conf

import (
	"github.com/tphakala/audiostream-go/internal/errors"
)

// ValidationResult holds validation outcomes separately from configuration.
type ValidationResult struct {
	Warnings []string
	Errors   []string
}

// Valid reports whether validation found no errors. Warnings do not
// prevent startup.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddWarning adds a warning to the validation result.
func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// AddError adds a critical issue to the validation result.
func (r *ValidationResult) AddError(message string) {
	r.Errors = append(r.Errors, message)
}

// ValidateStream checks the streaming engine tunables. Validation is lazy:
// the engine calls this when playback starts, not at configuration load, so
// that partially configured settings can still be edited interactively.
func ValidateStream(s *StreamSettings) *ValidationResult {
	result := &ValidationResult{}

	if s.BufferCount <= 0 {
		result.AddError("stream.buffercount must be greater than zero")
	}
	if s.BufferSize <= 0 {
		result.AddError("stream.buffersize must be greater than zero")
	}
	if s.MaxPacketDescs <= 0 {
		result.AddError("stream.maxpacketdescs must be greater than zero")
	}
	if s.DecodeQueueSize <= 0 {
		result.AddError("stream.decodequeuesize must be greater than zero")
	}
	if s.HTTPBufferSize <= 0 {
		result.AddError("stream.httpbuffersize must be greater than zero")
	}
	if s.OutputSampleRate <= 0 {
		result.AddError("stream.outputsamplerate must be greater than zero")
	}
	if s.OutputChannels <= 0 {
		result.AddError("stream.outputchannels must be greater than zero")
	}
	if s.MaxPrebufferedByteCount <= 0 {
		result.AddError("stream.maxprebufferedbytecount must be greater than zero")
	}
	if s.Cache.Enabled {
		if s.Cache.Directory == "" {
			result.AddError("stream.cache.directory is required when stream.cache.enabled is true")
		}
		if s.Cache.MaxSize <= 0 {
			result.AddError("stream.cache.maxsize must be greater than zero when caching is enabled")
		}
	}
	if s.BounceInterval <= 0 {
		result.AddWarning("stream.bounceinterval is not positive, bounce detection is disabled")
	}
	if s.StartupWatchdogPeriod <= 0 {
		result.AddWarning("stream.startupwatchdogperiod is not positive, startup watchdog is disabled")
	}

	return result
}

// StreamConfigError converts a failed validation result into an engine error.
func StreamConfigError(result *ValidationResult) error {
	return errors.Newf("invalid stream configuration: %v", result.Errors).
		Component("conf").
		Category(errors.CategoryValidation).
		Build()
}
