package playback

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the monotonic timeline units are scheduled on. Time zero is the
// moment the clock was initialised.
type Clock interface {
	Now() time.Duration
}

// Compile-time interface assertions.
var (
	_ Clock = (*MediaClock)(nil)
	_ Clock = (*WallClock)(nil)
)

// MediaClock counts frames handed to the output device. It only advances when
// the device pulls audio, so scheduled positions stay aligned with what was
// actually rendered.
type MediaClock struct {
	rate   int64
	frames atomic.Int64
}

// NewMediaClock returns a clock at zero for a device running at rate Hz.
func NewMediaClock(rate int) *MediaClock {
	return &MediaClock{rate: int64(rate)}
}

// Now implements [Clock].
func (c *MediaClock) Now() time.Duration {
	return framesToDuration(c.frames.Load(), c.rate)
}

// Frames returns the number of frames rendered so far.
func (c *MediaClock) Frames() int64 { return c.frames.Load() }

// Advance moves the clock forward by n frames.
func (c *MediaClock) Advance(n int) { c.frames.Add(int64(n)) }

// Rate returns the frame rate in Hz.
func (c *MediaClock) Rate() int { return int(c.rate) }

// WallClock measures time since its first use.
type WallClock struct {
	once  sync.Once
	start time.Time
}

// Now implements [Clock]. The first call initialises the clock and returns 0.
func (c *WallClock) Now() time.Duration {
	c.once.Do(func() { c.start = time.Now() })
	return time.Since(c.start)
}

// framesToDuration converts a frame count at rate into a duration, rounding
// down.
func framesToDuration(frames, rate int64) time.Duration {
	if rate <= 0 {
		return 0
	}
	sec := frames / rate
	rem := frames % rate
	return time.Duration(sec)*time.Second + time.Duration(rem*int64(time.Second)/rate)
}

// durationToFrames converts a duration into a frame count at rate, rounding
// up, so that framesToDuration(durationToFrames(d)) >= d.
func durationToFrames(d time.Duration, rate int64) int64 {
	if d <= 0 || rate <= 0 {
		return 0
	}
	ns := int64(d)
	sec := ns / int64(time.Second)
	rem := ns % int64(time.Second)
	return sec*rate + (rem*rate+int64(time.Second)-1)/int64(time.Second)
}
