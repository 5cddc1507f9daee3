// Package mock provides in-memory mock implementations of the
// [audio.InputDevice], [audio.OutputDevice] and [audio.Stream] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.InputDevice{StreamRate: 48000}
//	p, _ := capture.New(in, detector, cfg)
//	_ = p.Start(ctx)
//	in.Emit(frame) // drives the capture callback synchronously
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
	_ audio.Stream       = (*Stream)(nil)
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu sync.Mutex

	// Rate is returned by [Stream.SampleRate].
	Rate int

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closed bool
}

// SampleRate implements [audio.Stream].
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Close implements [audio.Stream]. Records the call and returns CloseError.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── InputDevice ──────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single open invocation.
type OpenCall struct {
	// SampleRate is the requested sample rate.
	SampleRate int
}

// InputDevice is a mock implementation of [audio.InputDevice].
type InputDevice struct {
	mu sync.Mutex

	// StreamRate is the rate reported by opened streams. Zero reports the
	// requested rate.
	StreamRate int

	// OpenError is returned by OpenInput when non-nil.
	OpenError error

	// OpenCalls records all OpenInput invocations.
	OpenCalls []OpenCall

	stream  *Stream
	onFrame func([]float32)
}

// OpenInput implements [audio.InputDevice].
func (d *InputDevice) OpenInput(_ context.Context, sampleRate int, onFrame func([]float32)) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{SampleRate: sampleRate})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	rate := d.StreamRate
	if rate == 0 {
		rate = sampleRate
	}
	d.stream = &Stream{Rate: rate}
	d.onFrame = onFrame
	return d.stream, nil
}

// Emit delivers frame to the callback of the most recently opened stream,
// synchronously on the calling goroutine. It reports false when no stream is
// open.
func (d *InputDevice) Emit(frame []float32) bool {
	d.mu.Lock()
	s, cb := d.stream, d.onFrame
	d.mu.Unlock()
	if s == nil || cb == nil || s.Closed() {
		return false
	}
	cb(frame)
	return true
}

// Stream returns the most recently opened stream, or nil.
func (d *InputDevice) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// StreamRate is the rate reported by opened streams. Zero reports the
	// requested rate.
	StreamRate int

	// OpenError is returned by OpenOutput when non-nil.
	OpenError error

	// OpenCalls records all OpenOutput invocations.
	OpenCalls []OpenCall

	stream *Stream
	render func([]float32)
}

// OpenOutput implements [audio.OutputDevice].
func (d *OutputDevice) OpenOutput(_ context.Context, sampleRate int, render func([]float32)) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{SampleRate: sampleRate})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	rate := d.StreamRate
	if rate == 0 {
		rate = sampleRate
	}
	d.stream = &Stream{Rate: rate}
	d.render = render
	return d.stream, nil
}

// Pull invokes the render callback for n frames and returns the rendered
// buffer. It returns nil when no stream is open.
func (d *OutputDevice) Pull(n int) []float32 {
	d.mu.Lock()
	s, render := d.stream, d.render
	d.mu.Unlock()
	if s == nil || render == nil || s.Closed() {
		return nil
	}
	out := make([]float32, n)
	render(out)
	return out
}

// Stream returns the most recently opened stream, or nil.
func (d *OutputDevice) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}
