package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReleaseVersion(t *testing.T) {
	v := ReleaseVersion()
	assert.Contains(t, v, "audiostream-go")
	assert.Contains(t, v, "1.0.0")
}
