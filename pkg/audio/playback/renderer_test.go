package playback_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio/playback"
)

func constant(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestRenderer_PlaysAndFinishes(t *testing.T) {
	t.Parallel()
	r := playback.NewRenderer(1000)
	s := playback.New(r.Clock(), r, playback.WithSampleRate(1000), playback.WithLookahead(0))
	var drained atomic.Bool
	s.OnDrain(func() { drained.Store(true) })

	u := s.EnqueueSamples(constant(10, 0.25))

	buf := make([]float32, 4)
	var got []float32
	for range 3 {
		r.Render(buf)
		got = append(got, buf...)
	}
	for i, v := range got {
		want := float32(0)
		if i < 10 {
			want = 0.25
		}
		if v != want {
			t.Errorf("frame %d = %v, want %v", i, v, want)
		}
	}
	select {
	case <-u.Done():
	default:
		t.Fatal("unit not finished")
	}
	if u.Stopped() {
		t.Error("naturally finished unit reported as stopped")
	}
	if s.Active() != 0 || r.Pending() != 0 {
		t.Errorf("active %d pending %d, want 0", s.Active(), r.Pending())
	}
	if !drained.Load() {
		t.Error("drain callback not invoked")
	}
	if r.Clock().Now() != 12*time.Millisecond {
		t.Errorf("clock = %v, want 12ms", r.Clock().Now())
	}
}

func TestRenderer_Gapless(t *testing.T) {
	t.Parallel()
	r := playback.NewRenderer(1000)
	s := playback.New(r.Clock(), r, playback.WithSampleRate(1000), playback.WithLookahead(2*time.Millisecond))
	s.EnqueueSamples(constant(3, 0.5))
	s.EnqueueSamples(constant(3, -0.5))

	buf := make([]float32, 10)
	r.Render(buf)
	want := []float32{0, 0, 0.5, 0.5, 0.5, -0.5, -0.5, -0.5, 0, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestRenderer_CancelIsImmediate(t *testing.T) {
	t.Parallel()
	r := playback.NewRenderer(1000)
	s := playback.New(r.Clock(), r, playback.WithSampleRate(1000), playback.WithLookahead(0))
	s.EnqueueSamples(constant(100, 0.5))

	buf := make([]float32, 10)
	r.Render(buf)
	if buf[9] != 0.5 {
		t.Fatalf("frame 9 = %v, want 0.5", buf[9])
	}
	s.CancelAll()
	r.Render(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("frame %d after cancel = %v, want silence", i, v)
		}
	}
	if r.Pending() != 0 {
		t.Errorf("pending = %d, want 0", r.Pending())
	}
}

func TestRenderer_InterpolatesUnitRate(t *testing.T) {
	t.Parallel()
	r := playback.NewRenderer(1000)
	s := playback.New(r.Clock(), r, playback.WithSampleRate(500), playback.WithLookahead(0))
	s.EnqueueSamples([]float32{0, 1})

	buf := make([]float32, 6)
	r.Render(buf)
	want := []float32{0, 0.5, 1, 1, 0, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestRenderer_ClampsMix(t *testing.T) {
	t.Parallel()
	r := playback.NewRenderer(1000)
	a := playback.New(r.Clock(), r, playback.WithSampleRate(1000), playback.WithLookahead(0))
	b := playback.New(r.Clock(), r, playback.WithSampleRate(1000), playback.WithLookahead(0))
	a.EnqueueSamples(constant(4, 0.75))
	b.EnqueueSamples(constant(4, 0.75))

	buf := make([]float32, 4)
	r.Render(buf)
	for i, v := range buf {
		if v != 1 {
			t.Errorf("frame %d = %v, want clamped 1", i, v)
		}
	}
}

func TestMediaClock(t *testing.T) {
	t.Parallel()
	c := playback.NewMediaClock(48000)
	if c.Now() != 0 {
		t.Fatalf("initial Now = %v", c.Now())
	}
	c.Advance(48000)
	c.Advance(24)
	if got := c.Now(); got != time.Second+500*time.Microsecond {
		t.Errorf("Now = %v, want 1.0005s", got)
	}
	if c.Frames() != 48024 {
		t.Errorf("Frames = %d", c.Frames())
	}
}

func TestWallClock_LazyStart(t *testing.T) {
	t.Parallel()
	var c playback.WallClock
	time.Sleep(5 * time.Millisecond)
	if got := c.Now(); got > 5*time.Millisecond {
		t.Errorf("first Now = %v, want ~0", got)
	}
}
