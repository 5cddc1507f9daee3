package playback

import (
	"testing"
	"time"
)

func TestFrameConversionNeverEarly(t *testing.T) {
	t.Parallel()
	for _, rate := range []int64{8000, 22000, 44100, 48000} {
		for _, d := range []time.Duration{0, 1, 999, time.Millisecond, 22727272, 3*time.Second + 7} {
			f := durationToFrames(d, rate)
			if got := framesToDuration(f, rate); got < d {
				t.Errorf("rate %d: %v -> %d frames -> %v", rate, d, f, got)
			}
			if f > 0 && framesToDuration(f-1, rate) >= d {
				t.Errorf("rate %d: %v rounded up too far (%d frames)", rate, d, f)
			}
		}
	}
}
