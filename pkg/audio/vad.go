package audio

import (
	"math"
	"sync/atomic"
	"time"
)

// RMS returns the root-mean-square energy of frame. An empty frame has zero
// energy.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// TriggerPolicy decides whether a run of per-frame activity decisions should
// produce a speech event. Implementations are driven from a single goroutine.
type TriggerPolicy interface {
	// Observe records whether the current frame is above threshold and
	// reports whether a speech event should be emitted for it.
	Observe(active bool) bool

	// Reset clears any accumulated run.
	Reset()
}

// SingleFrame emits a speech event for every frame above threshold.
type SingleFrame struct{}

// Observe implements [TriggerPolicy].
func (SingleFrame) Observe(active bool) bool { return active }

// Reset implements [TriggerPolicy].
func (SingleFrame) Reset() {}

// ConsecutiveFrames emits a speech event once N consecutive frames have been
// above threshold, and for every further active frame in the same run. A
// single quiet frame resets the run.
type ConsecutiveFrames struct {
	N   int
	run int
}

// Observe implements [TriggerPolicy].
func (c *ConsecutiveFrames) Observe(active bool) bool {
	if !active {
		c.run = 0
		return false
	}
	c.run++
	return c.run >= max(c.N, 1)
}

// Reset implements [TriggerPolicy].
func (c *ConsecutiveFrames) Reset() { c.run = 0 }

// NewTriggerPolicy returns [SingleFrame] for n <= 1 and a fresh
// [ConsecutiveFrames] otherwise.
func NewTriggerPolicy(n int) TriggerPolicy {
	if n <= 1 {
		return SingleFrame{}
	}
	return &ConsecutiveFrames{N: n}
}

// Detector classifies frames as speech by comparing their RMS energy against a
// threshold. Threshold and policy may be swapped at runtime from any goroutine;
// Detect itself is lock-free and must be called from one goroutine at a time.
type Detector struct {
	threshold atomic.Uint64 // math.Float64bits
	policy    atomic.Pointer[policyBox]
}

type policyBox struct{ p TriggerPolicy }

// NewDetector creates a [Detector]. A nil policy means [SingleFrame].
func NewDetector(threshold float64, policy TriggerPolicy) *Detector {
	d := &Detector{}
	d.SetThreshold(threshold)
	d.SetPolicy(policy)
	return d
}

// Detect computes the energy of frame and reports a [SpeechEvent] when the
// policy fires. Activity is strictly energy > threshold.
func (d *Detector) Detect(frame []float32) (SpeechEvent, bool) {
	energy := RMS(frame)
	threshold := d.Threshold()
	fire := d.policy.Load().p.Observe(energy > threshold)
	if !fire {
		return SpeechEvent{}, false
	}
	return SpeechEvent{Energy: energy, Threshold: threshold, At: time.Now()}, true
}

// Threshold returns the current energy threshold.
func (d *Detector) Threshold() float64 {
	return math.Float64frombits(d.threshold.Load())
}

// SetThreshold replaces the energy threshold.
func (d *Detector) SetThreshold(v float64) {
	d.threshold.Store(math.Float64bits(v))
}

// SetPolicy installs a new trigger policy. The policy starts with an empty run.
func (d *Detector) SetPolicy(p TriggerPolicy) {
	if p == nil {
		p = SingleFrame{}
	}
	p.Reset()
	d.policy.Store(&policyBox{p: p})
}

// Reset clears the accumulated run of the installed policy. Call it only from
// the goroutine that drives Detect, or while Detect is not running.
func (d *Detector) Reset() {
	d.policy.Load().p.Reset()
}
