package playback

import (
	"sync"
	"sync/atomic"
	"time"
)

// Unit is one decoded inbound chunk placed on the playback timeline.
type Unit struct {
	// ID is unique within the scheduler that created the unit.
	ID uint64

	// Samples holds the decoded mono audio.
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Duration is the playback length of Samples.
	Duration time.Duration

	// Start is the absolute position on the scheduler's clock at which the
	// first sample plays.
	Start time.Duration

	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
	onEnd   func(*Unit)
}

// End returns the clock position right after the last sample.
func (u *Unit) End() time.Duration { return u.Start + u.Duration }

// Stopped reports whether the unit was cancelled.
func (u *Unit) Stopped() bool { return u.stopped.Load() }

// Done is closed when the unit finishes playing or is cancelled.
func (u *Unit) Done() <-chan struct{} { return u.done }

// Finish marks natural completion and removes the unit from its scheduler.
// Called by the output once the last sample has been rendered.
func (u *Unit) Finish() {
	u.once.Do(func() {
		close(u.done)
		if u.onEnd != nil {
			u.onEnd(u)
		}
	})
}

// stop cancels the unit without notifying the scheduler.
func (u *Unit) stop() {
	u.stopped.Store(true)
	u.once.Do(func() { close(u.done) })
}
