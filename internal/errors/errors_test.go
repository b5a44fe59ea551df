package errors

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	ee := Newf("boom").Build()
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.Equal(t, "boom", ee.Error())
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuilderContext(t *testing.T) {
	ee := Newf("read failed").
		Component("cachestore").
		Category(CategoryCacheIO).
		Context("url", "http://example.com/a.wav").
		Build()

	assert.Equal(t, "cachestore", ee.Component)
	assert.Equal(t, CategoryCacheIO, ee.Category)
	assert.Equal(t, "http://example.com/a.wav", ee.Context["url"])
}

func TestIsMatchesByCategory(t *testing.T) {
	a := Newf("timeout a").Category(CategoryTimeout).Build()
	b := Newf("timeout b").Category(CategoryTimeout).Build()
	c := Newf("parse").Category(CategoryStreamParse).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestUnwrap(t *testing.T) {
	base := NewStd("base")
	ee := New(base).Category(CategoryNetwork).Build()
	assert.True(t, Is(ee, base))
}

type captureReporter struct {
	mu   sync.Mutex
	seen []*EnhancedError
}

func (c *captureReporter) ReportError(ee *EnhancedError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, ee)
}

func TestTelemetryReporter(t *testing.T) {
	rep := &captureReporter{}
	SetTelemetryReporter(rep)
	defer SetTelemetryReporter(nil)

	Newf("reported").Category(CategoryNetwork).Build()

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.Len(t, rep.seen, 1)
	assert.Equal(t, CategoryNetwork, rep.seen[0].Category)
}
