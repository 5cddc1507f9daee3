package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS(constant(64, -0.5)); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(const -0.5) = %v, want 0.5", got)
	}
}

func TestRMS_ScalesLinearly(t *testing.T) {
	t.Parallel()
	base := []float32{0.1, -0.02, 0.03, -0.07, 0.05}
	e := audio.RMS(base)
	for _, k := range []float32{0.5, 2, 4} {
		scaled := make([]float32, len(base))
		for i, s := range base {
			scaled[i] = s * k
		}
		if got := audio.RMS(scaled); math.Abs(got-float64(k)*e) > 1e-6 {
			t.Errorf("RMS(x*%v) = %v, want %v", k, got, float64(k)*e)
		}
	}
}

func TestDetector_Threshold(t *testing.T) {
	t.Parallel()
	d := audio.NewDetector(0.01, nil)

	if _, ok := d.Detect(constant(160, 0.005)); ok {
		t.Error("quiet frame detected as speech")
	}
	ev, ok := d.Detect(constant(160, 0.2))
	if !ok {
		t.Fatal("loud frame not detected")
	}
	if math.Abs(ev.Energy-0.2) > 1e-6 || ev.Threshold != 0.01 {
		t.Errorf("event = %+v", ev)
	}
	// Energy equal to the threshold is not active.
	if _, ok := d.Detect(constant(160, 0.01)); ok {
		t.Error("frame at threshold detected as speech")
	}

	d.SetThreshold(0.5)
	if _, ok := d.Detect(constant(160, 0.2)); ok {
		t.Error("threshold update not applied")
	}
}

func TestDetector_ConsecutiveFrames(t *testing.T) {
	t.Parallel()
	d := audio.NewDetector(0.01, audio.NewTriggerPolicy(3))
	loud := constant(160, 0.3)
	quiet := constant(160, 0)

	seq := []struct {
		frame []float32
		want  bool
	}{
		{loud, false},
		{loud, false},
		{quiet, false},
		{loud, false},
		{loud, false},
		{loud, true},
		{loud, true},
		{quiet, false},
		{loud, false},
	}
	for i, s := range seq {
		if _, got := d.Detect(s.frame); got != s.want {
			t.Errorf("frame %d: got %v, want %v", i, got, s.want)
		}
	}
}

func TestDetector_SetPolicyResetsRun(t *testing.T) {
	t.Parallel()
	d := audio.NewDetector(0.01, audio.NewTriggerPolicy(2))
	loud := constant(16, 0.3)
	d.Detect(loud)
	d.SetPolicy(audio.NewTriggerPolicy(2))
	if _, ok := d.Detect(loud); ok {
		t.Error("run survived policy swap")
	}
	d.SetPolicy(nil)
	if _, ok := d.Detect(loud); !ok {
		t.Error("nil policy should default to single frame")
	}
}
