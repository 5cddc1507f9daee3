package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedResampleDirection is returned when a resampler is requested
// whose output rate is higher than its input rate. Only downsampling (and the
// identity ratio) is supported.
var ErrUnsupportedResampleDirection = errors.New("audio: unsupported resample direction")

// ResampleMode selects the interpolation used by a [StreamResampler].
type ResampleMode string

const (
	// ResampleLinear interpolates between the two neighbouring input samples.
	ResampleLinear ResampleMode = "linear"

	// ResampleNearest picks the input sample at the floor of the read
	// position.
	ResampleNearest ResampleMode = "nearest"
)

// ResamplerState is the continuation carried between successive buffers of a
// stream.
//
// Carry is the read position of the next output sample relative to the first
// sample of the next input buffer. It lies in [-1, ratio-1): a value in [-1, 0)
// means the next output falls between the retained Last sample and the first
// sample of the next buffer.
type ResamplerState struct {
	Carry float64
	Last  float32
}

// Resampler converts a mono float stream from one sample rate to another. The
// output of successive calls concatenated equals the output of a single call
// over the concatenated input.
type Resampler interface {
	// Resample appends the resampled form of in to dst and returns the
	// extended slice.
	Resample(dst, in []float32) []float32

	// Reset discards the carried state so the next call starts a new stream.
	Reset()

	// Ratio returns inputRate / outputRate.
	Ratio() float64
}

// Compile-time interface assertion.
var _ Resampler = (*StreamResampler)(nil)

type interpFunc func(a, b float32, frac float64) float32

func lerp(a, b float32, frac float64) float32 {
	return a + float32(frac)*(b-a)
}

func nearest(a, _ float32, _ float64) float32 { return a }

// ResampleLinearState is the stateless form of a linear [StreamResampler]: it
// appends the output for in to dst given the state left by the previous buffer
// and returns the new state. ratio is inputRate / outputRate and must be >= 1.
func ResampleLinearState(dst, in []float32, ratio float64, st ResamplerState) ([]float32, ResamplerState) {
	return resample(dst, in, ratio, st, lerp)
}

// ResampleNearestState is the floor-sample counterpart of
// [ResampleLinearState].
func ResampleNearestState(dst, in []float32, ratio float64, st ResamplerState) ([]float32, ResamplerState) {
	return resample(dst, in, ratio, st, nearest)
}

func resample(dst, in []float32, ratio float64, st ResamplerState, interp interpFunc) ([]float32, ResamplerState) {
	n := len(in)
	if n == 0 {
		return dst, st
	}
	if ratio == 1 {
		return append(dst, in...), ResamplerState{Last: in[n-1]}
	}

	at := func(i int) float32 {
		if i < 0 {
			return st.Last
		}
		return in[i]
	}

	p := st.Carry
	for p < float64(n-1) {
		idx := int(math.Floor(p))
		dst = append(dst, interp(at(idx), at(idx+1), p-float64(idx)))
		p += ratio
	}
	return dst, ResamplerState{Carry: p - float64(n), Last: in[n-1]}
}

// StreamResampler is a stateful [Resampler] for a single stream. It is not
// safe for concurrent use; the capture pipeline owns one per session.
type StreamResampler struct {
	mode   ResampleMode
	ratio  float64
	interp interpFunc
	state  ResamplerState
}

// NewResampler creates a [StreamResampler] converting inRate to outRate using
// mode. It fails fast with [ErrUnsupportedResampleDirection] when outRate is
// greater than inRate.
func NewResampler(mode ResampleMode, inRate, outRate int) (*StreamResampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rates %d -> %d", inRate, outRate)
	}
	if outRate > inRate {
		return nil, fmt.Errorf("%w: %d Hz -> %d Hz", ErrUnsupportedResampleDirection, inRate, outRate)
	}
	r := &StreamResampler{
		mode:  mode,
		ratio: float64(inRate) / float64(outRate),
	}
	switch mode {
	case ResampleLinear, "":
		r.mode = ResampleLinear
		r.interp = lerp
	case ResampleNearest:
		r.interp = nearest
	default:
		return nil, fmt.Errorf("audio: unknown resample mode %q", mode)
	}
	return r, nil
}

// Resample implements [Resampler].
func (r *StreamResampler) Resample(dst, in []float32) []float32 {
	dst, r.state = resample(dst, in, r.ratio, r.state, r.interp)
	return dst
}

// Reset implements [Resampler].
func (r *StreamResampler) Reset() { r.state = ResamplerState{} }

// Ratio implements [Resampler].
func (r *StreamResampler) Ratio() float64 { return r.ratio }

// Mode returns the interpolation mode.
func (r *StreamResampler) Mode() ResampleMode { return r.mode }

// State returns the continuation that will be applied to the next buffer.
func (r *StreamResampler) State() ResamplerState { return r.state }
