package playback_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
)

// fakeClock is a manually driven [playback.Clock].
type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d
}

// recordingOutput collects scheduled units.
type recordingOutput struct {
	mu    sync.Mutex
	units []*playback.Unit
}

func (o *recordingOutput) Schedule(u *playback.Unit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.units = append(o.units, u)
}

func (o *recordingOutput) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.units)
}

const eps = 10 * time.Millisecond

func encoded(n int) string {
	return audio.EncodeSamples(make([]float32, n))
}

func TestScheduler_Gapless(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Second}
	out := &recordingOutput{}
	s := playback.New(clock, out, playback.WithSampleRate(22000), playback.WithLookahead(eps))

	// 100ms, 50ms, 200ms at 22 kHz.
	var units []*playback.Unit
	for _, n := range []int{2200, 1100, 4400} {
		u, err := s.Enqueue(encoded(n))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		units = append(units, u)
	}

	want := []time.Duration{
		time.Second + eps,
		time.Second + eps + 100*time.Millisecond,
		time.Second + eps + 150*time.Millisecond,
	}
	for i, u := range units {
		if u.Start != want[i] {
			t.Errorf("unit %d start = %v, want %v", i, u.Start, want[i])
		}
	}
	if got := s.NextStartTime(); got != time.Second+eps+350*time.Millisecond {
		t.Errorf("NextStartTime = %v", got)
	}
	if s.Active() != 3 || out.Len() != 3 {
		t.Errorf("active %d, scheduled %d, want 3", s.Active(), out.Len())
	}
	if units[0].Duration != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", units[0].Duration)
	}
}

func TestScheduler_GapRecovery(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	s := playback.New(clock, nil, playback.WithSampleRate(22000), playback.WithLookahead(eps))

	if _, err := s.Enqueue(encoded(2200)); err != nil {
		t.Fatal(err)
	}
	// Network stall: the clock runs past the end of everything scheduled.
	clock.Set(5 * time.Second)
	u, err := s.Enqueue(encoded(2200))
	if err != nil {
		t.Fatal(err)
	}
	if u.Start != 5*time.Second+eps {
		t.Errorf("start = %v, want %v", u.Start, 5*time.Second+eps)
	}
}

func TestScheduler_CursorEqualToNowIsKept(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	s := playback.New(clock, nil, playback.WithSampleRate(1000), playback.WithLookahead(eps))
	u1 := s.EnqueueSamples(make([]float32, 100))
	clock.Set(u1.End())
	u2 := s.EnqueueSamples(make([]float32, 100))
	if u2.Start != u1.End() {
		t.Errorf("start = %v, want %v", u2.Start, u1.End())
	}

	// One tick later the cursor is behind and the lookahead applies.
	clock.Set(u2.End() + time.Millisecond)
	u3 := s.EnqueueSamples(make([]float32, 100))
	if u3.Start != u2.End()+time.Millisecond+eps {
		t.Errorf("start = %v, want %v", u3.Start, u2.End()+time.Millisecond+eps)
	}
}

func TestScheduler_CancelAll(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Second}
	s := playback.New(clock, nil, playback.WithSampleRate(22000), playback.WithLookahead(eps))

	var units []*playback.Unit
	for range 3 {
		u, err := s.Enqueue(encoded(2200))
		if err != nil {
			t.Fatal(err)
		}
		units = append(units, u)
	}

	clock.Set(time.Second + 30*time.Millisecond)
	if n := s.CancelAll(); n != 3 {
		t.Errorf("CancelAll = %d, want 3", n)
	}
	if s.Active() != 0 {
		t.Errorf("active = %d, want 0", s.Active())
	}
	if got := s.NextStartTime(); got != time.Second+30*time.Millisecond {
		t.Errorf("NextStartTime = %v, want now", got)
	}
	for i, u := range units {
		if !u.Stopped() {
			t.Errorf("unit %d not stopped", i)
		}
		select {
		case <-u.Done():
		default:
			t.Errorf("unit %d done channel open", i)
		}
	}

	u, err := s.Enqueue(encoded(2200))
	if err != nil {
		t.Fatal(err)
	}
	if u.Start != time.Second+30*time.Millisecond {
		t.Errorf("post-cancel start = %v, want now", u.Start)
	}
	if n := s.CancelAll(); n != 1 {
		t.Errorf("second CancelAll = %d, want 1", n)
	}
}

func TestScheduler_DecodeErrors(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	s := playback.New(clock, nil)
	for _, data := range []string{"", "%%%", audio.EncodeText([]byte{1, 2, 3})} {
		if _, err := s.Enqueue(data); !errors.Is(err, audio.ErrDecode) {
			t.Errorf("Enqueue(%q): expected ErrDecode, got %v", data, err)
		}
	}
	if s.Active() != 0 || s.NextStartTime() != 0 {
		t.Errorf("failed enqueue changed state: active %d next %v", s.Active(), s.NextStartTime())
	}
}

func TestScheduler_DrainAfterFinish(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	s := playback.New(clock, nil, playback.WithSampleRate(1000), playback.WithLookahead(0))
	var drains atomic.Int32
	s.OnDrain(func() { drains.Add(1) })

	u1 := s.EnqueueSamples(make([]float32, 100))
	u2 := s.EnqueueSamples(make([]float32, 100))
	if s.Drained() {
		t.Fatal("drained with units scheduled")
	}

	clock.Set(u1.End())
	u1.Finish()
	if drains.Load() != 0 {
		t.Error("drain reported with a unit still active")
	}

	// Finishing early (clock before cursor) is not a drain.
	clock.Set(u2.End() - time.Millisecond)
	u2.Finish()
	if drains.Load() != 0 || s.Drained() {
		t.Error("drain reported while cursor ahead of clock")
	}
	clock.Set(u2.End())
	if !s.Drained() {
		t.Error("not drained after clock caught up")
	}

	u3 := s.EnqueueSamples(make([]float32, 10))
	clock.Set(u3.End())
	u3.Finish()
	u3.Finish()
	if drains.Load() != 1 {
		t.Errorf("drains = %d, want 1", drains.Load())
	}
}

func TestScheduler_SetLookahead(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{}
	s := playback.New(clock, nil)
	if s.Lookahead() != playback.DefaultLookahead {
		t.Errorf("default lookahead = %v", s.Lookahead())
	}
	s.SetLookahead(120 * time.Millisecond)
	s.SetLookahead(-1)
	u := s.EnqueueSamples(make([]float32, 10))
	if u.Start != 120*time.Millisecond {
		t.Errorf("start = %v, want 120ms", u.Start)
	}
}

func TestScheduler_ConcurrentEnqueueCancel(t *testing.T) {
	t.Parallel()
	s := playback.New(&playback.WallClock{}, nil, playback.WithSampleRate(1000))
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 200 {
				s.EnqueueSamples(make([]float32, 10))
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				s.CancelAll()
			}
		}()
	}
	wg.Wait()
	s.CancelAll()
	if s.Active() != 0 {
		t.Errorf("active = %d after final CancelAll", s.Active())
	}
}
