// Package seek converts between playback time positions and byte offsets
// for streams with a known duration.
package seek

import (
	"math"
	"time"
)

// Position is a coarse playback time coordinate. It is only meaningful for
// streams with a known duration.
type Position struct {
	Minute uint
	Second uint
}

// ByteOffset maps a playback position to an absolute byte range in the
// source stream. Position is the fractional marker (0.0-1.0) used to
// re-derive the time position after a seek.
type ByteOffset struct {
	Start    uint64
	End      uint64
	Position float64
}

// PositionFromDuration converts an elapsed duration to a Position,
// truncating to whole seconds.
func PositionFromDuration(d time.Duration) Position {
	if d < 0 {
		d = 0
	}
	totalSeconds := uint(d / time.Second)
	return Position{
		Minute: totalSeconds / 60,
		Second: totalSeconds % 60,
	}
}

// Duration returns the position as an elapsed duration.
func (p Position) Duration() time.Duration {
	return time.Duration(p.Minute)*time.Minute + time.Duration(p.Second)*time.Second
}

// PositionToByteOffset maps a time position to a byte range by linear
// interpolation over the total byte length. Positions past the end of the
// stream clamp to the final byte, positions before the start clamp to zero.
func PositionToByteOffset(pos Position, totalDuration time.Duration, totalBytes uint64) ByteOffset {
	fraction := 0.0
	if totalDuration > 0 {
		fraction = float64(pos.Duration()) / float64(totalDuration)
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return ByteOffset{
		Start:    uint64(math.Floor(float64(totalBytes) * fraction)),
		End:      totalBytes,
		Position: fraction,
	}
}

// ByteOffsetToPosition is the inverse mapping, used to report the current
// time played during and after a seek.
func ByteOffsetToPosition(off ByteOffset, totalDuration time.Duration) Position {
	fraction := off.Position
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return PositionFromDuration(time.Duration(fraction * float64(totalDuration)))
}
