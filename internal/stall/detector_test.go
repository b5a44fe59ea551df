package stall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func expectFatal(t *testing.T, d *Detector, want Cause, within time.Duration) {
	t.Helper()
	select {
	case got := <-d.Fatal():
		assert.Equal(t, want, got)
	case <-time.After(within):
		t.Fatalf("expected fatal %v within %v", want, within)
	}
}

func expectNoFatal(t *testing.T, d *Detector, within time.Duration) {
	t.Helper()
	select {
	case got := <-d.Fatal():
		t.Fatalf("unexpected fatal signal: %v", got)
	case <-time.After(within):
	}
}

func TestWatchdogFires(t *testing.T) {
	d := New(30*time.Millisecond, time.Second, 3)
	defer d.Stop()

	d.ArmWatchdog()
	expectFatal(t, d, CauseStartupTimeout, time.Second)
}

func TestWatchdogFiresOnlyOnce(t *testing.T) {
	d := New(10*time.Millisecond, time.Second, 3)
	defer d.Stop()

	d.ArmWatchdog()
	expectFatal(t, d, CauseStartupTimeout, time.Second)
	expectNoFatal(t, d, 50*time.Millisecond)
}

func TestWatchdogDisarmedOnPlaying(t *testing.T) {
	d := New(30*time.Millisecond, time.Second, 3)
	defer d.Stop()

	d.ArmWatchdog()
	d.MarkPlaying()
	expectNoFatal(t, d, 80*time.Millisecond)
}

func TestBounceLimit(t *testing.T) {
	d := New(0, time.Second, 3)
	defer d.Stop()

	for i := 0; i < 3; i++ {
		d.RecordBounce()
	}
	expectNoFatal(t, d, 20*time.Millisecond)

	d.RecordBounce()
	expectFatal(t, d, CauseBouncing, time.Second)
}

func TestBounceCounterResetsAfterContinuousPlayback(t *testing.T) {
	d := New(0, 30*time.Millisecond, 3)
	defer d.Stop()

	for i := 0; i < 3; i++ {
		d.RecordBounce()
	}
	d.MarkPlaying()
	time.Sleep(60 * time.Millisecond) // let the reset timer fire

	for i := 0; i < 3; i++ {
		d.RecordBounce()
	}
	expectNoFatal(t, d, 20*time.Millisecond)
}

func TestNewBounceCancelsPendingReset(t *testing.T) {
	d := New(0, 40*time.Millisecond, 3)
	defer d.Stop()

	d.RecordBounce()
	d.RecordBounce()
	d.RecordBounce()
	d.MarkPlaying()
	d.RecordBounce() // before reset timer fires: over the limit
	expectFatal(t, d, CauseBouncing, time.Second)
}

func TestStopCancelsTimers(t *testing.T) {
	d := New(20*time.Millisecond, time.Second, 3)
	d.ArmWatchdog()
	d.Stop()
	expectNoFatal(t, d, 60*time.Millisecond)
}

func TestDisabledWatchdogNeverFires(t *testing.T) {
	d := New(0, time.Second, 3)
	defer d.Stop()
	d.ArmWatchdog()
	expectNoFatal(t, d, 30*time.Millisecond)
}
