package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultStreamSettings(t *testing.T) *StreamSettings {
	t.Helper()
	settings, err := Load()
	require.NoError(t, err)
	return &settings.Stream
}

func TestDefaults(t *testing.T) {
	s := defaultStreamSettings(t)

	assert.Equal(t, 64, s.BufferCount)
	assert.Equal(t, 8192, s.BufferSize)
	assert.Equal(t, 44100, s.OutputSampleRate)
	assert.Equal(t, 2, s.OutputChannels)
	assert.Equal(t, 4, s.MaxBounceCount)
	assert.Equal(t, 10, s.BounceInterval)
	assert.Equal(t, 256000, s.MaxPrebufferedByteCount)
	assert.False(t, s.Cache.Enabled)
	assert.NotEmpty(t, s.UserAgent)
}

func TestValidateStreamDefaultsAreValid(t *testing.T) {
	s := defaultStreamSettings(t)
	result := ValidateStream(s)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
}

func TestValidateStreamCacheRequiresDirectory(t *testing.T) {
	s := defaultStreamSettings(t)
	s.Cache.Enabled = true
	s.Cache.Directory = ""

	result := ValidateStream(s)
	assert.False(t, result.Valid())
}

func TestValidateStreamRejectsZeroSizes(t *testing.T) {
	s := defaultStreamSettings(t)
	s.BufferSize = 0
	s.MaxPrebufferedByteCount = 0

	result := ValidateStream(s)
	assert.False(t, result.Valid())
	assert.Len(t, result.Errors, 2)
}

func TestValidateStreamWarnsOnDisabledTimers(t *testing.T) {
	s := defaultStreamSettings(t)
	s.BounceInterval = 0
	s.StartupWatchdogPeriod = 0

	result := ValidateStream(s)
	assert.True(t, result.Valid())
	assert.Len(t, result.Warnings, 2)
}
