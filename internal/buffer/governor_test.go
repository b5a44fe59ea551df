package buffer

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdCrossing(t *testing.T) {
	g := New(1000, 4096)

	g.RecordBytesReceived(999)
	assert.False(t, g.CanStartOrResumePlayback())
	assert.Equal(t, 999, g.Prebuffered())

	g.RecordBytesReceived(1)
	assert.True(t, g.CanStartOrResumePlayback())
}

func TestPlaybackReleaseSurvivesFastConsumer(t *testing.T) {
	g := New(1000, 4096)

	// a consumer keeping pace with the producer must not hold playback back
	for i := 0; i < 10; i++ {
		g.RecordBytesReceived(100)
		g.RecordBytesConsumed(100)
	}
	assert.Equal(t, 0, g.Prebuffered())
	assert.True(t, g.CanStartOrResumePlayback())

	// a rebuffering start re-applies the threshold to fresh arrivals
	g.ResetAccumulation()
	assert.False(t, g.CanStartOrResumePlayback())
	g.RecordBytesReceived(1000)
	assert.True(t, g.CanStartOrResumePlayback())
}

func TestCountNeverNegative(t *testing.T) {
	g := New(100, 4096)
	g.RecordBytesReceived(10)
	g.RecordBytesConsumed(50)
	assert.Equal(t, 0, g.Prebuffered())
}

func TestEOFAllowsPlaybackBelowThreshold(t *testing.T) {
	g := New(1000, 4096)
	g.RecordBytesReceived(10)
	assert.False(t, g.CanStartOrResumePlayback())

	g.SetEOF()
	assert.True(t, g.CanStartOrResumePlayback())
	assert.True(t, g.EOF())
}

func TestEventsSignalledOnCrossings(t *testing.T) {
	g := New(100, 4096)

	g.RecordBytesReceived(100)
	select {
	case <-g.Events():
	default:
		t.Fatal("expected a signal after crossing the threshold from below")
	}

	g.RecordBytesConsumed(100)
	select {
	case <-g.Events():
	default:
		t.Fatal("expected a signal after draining to zero")
	}
}

func TestQueueReadWrite(t *testing.T) {
	g := New(4, 4096)

	n, err := g.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, g.Prebuffered())

	buf := make([]byte, 6)
	n, err = g.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("abcdef"), buf)
	assert.Equal(t, 0, g.Prebuffered())
}

func TestReadReturnsEOFAfterDrain(t *testing.T) {
	g := New(4, 4096)
	_, err := g.Write([]byte("xy"))
	require.NoError(t, err)
	g.SetEOF()

	buf := make([]byte, 8)
	n, err := g.Read(buf)
	if err != nil {
		require.ErrorIs(t, err, io.EOF)
	}
	assert.Equal(t, 2, n)

	_, err = g.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestResetClearsState(t *testing.T) {
	g := New(4, 4096)
	_, err := g.Write([]byte("data"))
	require.NoError(t, err)
	g.SetEOF()

	g.Reset()
	assert.Equal(t, 0, g.Prebuffered())
	assert.False(t, g.EOF())
}
