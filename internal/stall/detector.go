// Package stall implements the failure detection policies for playback:
// the startup watchdog and bounce counting.
package stall

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/audiostream-go/internal/logging"
)

// Cause identifies which policy declared the stream dead.
type Cause int

const (
	// CauseStartupTimeout means playback was not reached within the
	// startup watchdog period.
	CauseStartupTimeout Cause = iota
	// CauseBouncing means the stream re-entered buffering too many times
	// within the bounce interval.
	CauseBouncing
)

func (c Cause) String() string {
	switch c {
	case CauseStartupTimeout:
		return "startup timeout"
	case CauseBouncing:
		return "stream bouncing"
	default:
		return "unknown"
	}
}

// Detector watches for playback stalls. Fatal signals are delivered on a
// buffered channel consumed by the engine loop; at most one fatal signal is
// delivered per playback attempt.
type Detector struct {
	watchdogPeriod time.Duration
	bounceInterval time.Duration
	maxBounceCount int

	mu         sync.Mutex
	watchdog   *time.Timer
	resetTimer *time.Timer
	bounces    int
	fired      bool
	stopped    bool

	fatal  chan Cause
	logger *slog.Logger
}

// New creates a Detector. A non-positive watchdog period disables the
// startup watchdog; a non-positive bounce interval disables bounce counting.
func New(watchdogPeriod, bounceInterval time.Duration, maxBounceCount int) *Detector {
	return &Detector{
		watchdogPeriod: watchdogPeriod,
		bounceInterval: bounceInterval,
		maxBounceCount: maxBounceCount,
		fatal:          make(chan Cause, 1),
		logger:         logging.ForService("stall"),
	}
}

// Fatal returns the channel on which fatal causes are delivered.
func (d *Detector) Fatal() <-chan Cause {
	return d.fatal
}

func (d *Detector) signal(c Cause) {
	// callers hold d.mu
	if d.fired || d.stopped {
		return
	}
	d.fired = true
	select {
	case d.fatal <- c:
	default:
	}
}

// ArmWatchdog starts the startup watchdog. Re-arming while armed is a no-op,
// so the watchdog measures from the first entry into a non-playing state.
func (d *Detector) ArmWatchdog() {
	if d.watchdogPeriod <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watchdog != nil || d.stopped {
		return
	}
	d.watchdog = time.AfterFunc(d.watchdogPeriod, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.logger.Warn("startup watchdog expired", "period", d.watchdogPeriod)
		d.signal(CauseStartupTimeout)
	})
}

// DisarmWatchdog cancels the startup watchdog.
func (d *Detector) DisarmWatchdog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmWatchdogLocked()
}

func (d *Detector) disarmWatchdogLocked() {
	if d.watchdog != nil {
		d.watchdog.Stop()
		d.watchdog = nil
	}
}

// RecordBounce registers a transition from playing back to buffering. When
// the count exceeds the configured maximum within the rolling interval the
// detector signals CauseBouncing.
func (d *Detector) RecordBounce() {
	if d.bounceInterval <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	// a new bounce invalidates any pending counter reset
	if d.resetTimer != nil {
		d.resetTimer.Stop()
		d.resetTimer = nil
	}
	d.bounces++
	d.logger.Debug("bounce recorded", "count", d.bounces, "max", d.maxBounceCount)
	if d.bounces > d.maxBounceCount {
		d.signal(CauseBouncing)
	}
}

// MarkPlaying records that playback has started or resumed. It disarms the
// startup watchdog and arms the counter reset: after one full bounce
// interval of uninterrupted playback the bounce counter returns to zero.
func (d *Detector) MarkPlaying() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmWatchdogLocked()
	if d.bounceInterval <= 0 || d.stopped {
		return
	}
	if d.resetTimer != nil {
		d.resetTimer.Stop()
	}
	d.resetTimer = time.AfterFunc(d.bounceInterval, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.bounces = 0
	})
}

// Stop cancels both timers unconditionally. Called on stop and on entering
// a terminal state. The detector cannot be re-armed afterwards.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.disarmWatchdogLocked()
	if d.resetTimer != nil {
		d.resetTimer.Stop()
		d.resetTimer = nil
	}
}
