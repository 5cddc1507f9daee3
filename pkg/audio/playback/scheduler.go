// Package playback decodes inbound audio chunks and lays them out gaplessly on
// a monotonic media timeline.
//
// The [Scheduler] keeps a single nextStart cursor. Each enqueued unit starts at
// the cursor and advances it by its own duration, so consecutive units are
// sample-contiguous. When the cursor is strictly behind the clock (after a
// network stall) or for the very first unit it is reset to now plus a small
// lookahead. [Scheduler.CancelAll] is the barge-in primitive: it stops every
// scheduled unit at once and pulls the cursor back to now, so the next unit
// starts immediately.
//
// The [Renderer] is the pull side: the output device asks it for samples and it
// mixes whatever units overlap the requested window.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// DefaultLookahead is the safety margin applied when the cursor is behind the
// clock.
const DefaultLookahead = 50 * time.Millisecond

// Output receives units once their start position is fixed.
type Output interface {
	Schedule(u *Unit)
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithSampleRate sets the rate of inbound payloads. Defaults to 22000.
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithLookahead sets the lookahead applied when the cursor is behind.
func WithLookahead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.lookahead = d
		}
	}
}

// Scheduler places decoded units on the playback timeline.
//
// Enqueue and CancelAll are mutually atomic with respect to the cursor and the
// active set. All methods are safe for concurrent use.
type Scheduler struct {
	clock Clock
	out   Output
	rate  int

	mu        sync.Mutex
	lookahead time.Duration
	nextStart time.Duration
	primed    bool
	active    map[uint64]*Unit
	seq       uint64
	onDrain   func()
}

// New creates a Scheduler on clock that hands units to out. out may be nil
// when units are consumed some other way.
func New(clock Clock, out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:     clock,
		out:       out,
		rate:      22000,
		lookahead: DefaultLookahead,
		active:    make(map[uint64]*Unit),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes a transport-encoded PCM16 payload and schedules it. Decode
// failures and empty payloads return an error wrapping [audio.ErrDecode] and
// leave the timeline untouched.
func (s *Scheduler) Enqueue(data string) (*Unit, error) {
	samples, err := audio.DecodeSamples(data)
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("playback: %w: empty payload", audio.ErrDecode)
	}
	return s.EnqueueSamples(samples), nil
}

// EnqueueSamples schedules already decoded samples at the scheduler's rate.
func (s *Scheduler) EnqueueSamples(samples []float32) *Unit {
	u := &Unit{
		Samples:    samples,
		SampleRate: s.rate,
		Duration:   audio.SamplesDuration(len(samples), s.rate),
		done:       make(chan struct{}),
		onEnd:      s.remove,
	}

	s.mu.Lock()
	now := s.clock.Now()
	if !s.primed || s.nextStart < now {
		s.nextStart = now + s.lookahead
		s.primed = true
	}
	s.seq++
	u.ID = s.seq
	u.Start = s.nextStart
	s.nextStart += u.Duration
	s.active[u.ID] = u
	s.mu.Unlock()

	if s.out != nil {
		s.out.Schedule(u)
	}
	return u
}

// CancelAll stops every active unit immediately, empties the active set and
// resets the cursor to now. It returns the number of units stopped.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.active)
	for id, u := range s.active {
		u.stop()
		delete(s.active, id)
	}
	s.nextStart = s.clock.Now()
	return n
}

// Active returns the number of scheduled units that have neither finished nor
// been cancelled.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Drained reports whether nothing is scheduled and the cursor is not ahead of
// the clock.
func (s *Scheduler) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainedLocked()
}

// NextStartTime returns the cursor.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Now returns the current position of the scheduler's clock.
func (s *Scheduler) Now() time.Duration { return s.clock.Now() }

// SampleRate returns the rate assumed for inbound payloads.
func (s *Scheduler) SampleRate() int { return s.rate }

// Lookahead returns the current lookahead.
func (s *Scheduler) Lookahead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookahead
}

// SetLookahead replaces the lookahead for future resets of the cursor.
func (s *Scheduler) SetLookahead(d time.Duration) {
	if d < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookahead = d
}

// OnDrain registers fn to be called when a unit finishes naturally and leaves
// the scheduler drained. Only one callback may be registered; subsequent calls
// replace it. fn is called without the scheduler lock held.
func (s *Scheduler) OnDrain(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrain = fn
}

func (s *Scheduler) remove(u *Unit) {
	s.mu.Lock()
	if _, ok := s.active[u.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, u.ID)
	drained := s.drainedLocked()
	fn := s.onDrain
	s.mu.Unlock()

	if drained && fn != nil {
		fn()
	}
}

func (s *Scheduler) drainedLocked() bool {
	return len(s.active) == 0 && s.nextStart <= s.clock.Now()
}
