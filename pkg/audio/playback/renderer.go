package playback

import "sync"

// Compile-time interface assertion.
var _ Output = (*Renderer)(nil)

// Renderer mixes scheduled units into device buffers. Its [MediaClock] is the
// clock the [Scheduler] should be built on.
type Renderer struct {
	rate  int64
	clock *MediaClock

	mu    sync.Mutex
	units []*Unit
}

// NewRenderer creates a Renderer for an output device running at rate Hz.
func NewRenderer(rate int) *Renderer {
	return &Renderer{
		rate:  int64(rate),
		clock: NewMediaClock(rate),
	}
}

// Clock returns the renderer's media clock.
func (r *Renderer) Clock() *MediaClock { return r.clock }

// Schedule implements [Output].
func (r *Renderer) Schedule(u *Unit) {
	if u.Stopped() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, u)
}

// Pending returns the number of units the renderer still holds.
func (r *Renderer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}

// Render fills out with the next len(out) frames of the timeline and advances
// the clock. Cancelled units are dropped without rendering another sample.
// Units whose last sample was rendered are finished after the internal lock is
// released.
func (r *Renderer) Render(out []float32) {
	clear(out)

	var finished []*Unit
	r.mu.Lock()
	base := r.clock.Frames()
	limit := base + int64(len(out))
	kept := r.units[:0]
	for _, u := range r.units {
		if u.Stopped() {
			continue
		}
		start := durationToFrames(u.Start, r.rate)
		end := durationToFrames(u.End(), r.rate)
		if start < limit && end > base {
			r.mix(out, u, base, start, end)
		}
		if end <= limit {
			finished = append(finished, u)
			continue
		}
		kept = append(kept, u)
	}
	clear(r.units[len(kept):])
	r.units = kept
	r.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	r.clock.Advance(len(out))

	for _, u := range finished {
		u.Finish()
	}
}

// mix adds the part of u covering [base, base+len(out)) to out, linearly
// interpolating from the unit rate to the device rate.
func (r *Renderer) mix(out []float32, u *Unit, base, start, end int64) {
	from := max(start, base)
	to := min(end, base+int64(len(out)))
	step := float64(u.SampleRate) / float64(r.rate)
	n := len(u.Samples)
	for f := from; f < to; f++ {
		pos := float64(f-start) * step
		idx := int(pos)
		if idx >= n {
			break
		}
		s := u.Samples[idx]
		if idx+1 < n {
			s += float32(pos-float64(idx)) * (u.Samples[idx+1] - s)
		}
		out[f-base] += s
	}
}
