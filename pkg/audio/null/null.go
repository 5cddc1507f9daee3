// Package null provides clock-driven audio devices that touch no hardware.
// The input generates frames from a [Source] and the output pulls rendered
// frames and discards them. They are used for headless runs and tests.
package null

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*Device)(nil)
	_ audio.OutputDevice = (*Device)(nil)
)

// DefaultPeriod is the callback interval when none is configured.
const DefaultPeriod = 20 * time.Millisecond

// Source fills frame with the next captured samples. It is called from the
// device goroutine.
type Source func(frame []float32)

// Silence is a [Source] producing zeros.
func Silence(frame []float32) { clear(frame) }

// Option configures a [Device].
type Option func(*Device)

// WithPeriod sets the callback interval.
func WithPeriod(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.period = d
		}
	}
}

// WithSource sets the capture source. Defaults to [Silence].
func WithSource(src Source) Option {
	return func(dev *Device) {
		if src != nil {
			dev.source = src
		}
	}
}

// Device is a null input and output device.
type Device struct {
	period time.Duration
	source Source
}

// New creates a [Device].
func New(opts ...Option) *Device {
	d := &Device{period: DefaultPeriod, source: Silence}
	for _, o := range opts {
		o(d)
	}
	return d
}

// OpenInput implements [audio.InputDevice].
func (d *Device) OpenInput(_ context.Context, sampleRate int, onFrame func([]float32)) (audio.Stream, error) {
	frame := make([]float32, d.frames(sampleRate))
	return d.run(sampleRate, func() {
		d.source(frame)
		onFrame(frame)
	}), nil
}

// OpenOutput implements [audio.OutputDevice].
func (d *Device) OpenOutput(_ context.Context, sampleRate int, render func([]float32)) (audio.Stream, error) {
	buf := make([]float32, d.frames(sampleRate))
	return d.run(sampleRate, func() { render(buf) }), nil
}

func (d *Device) frames(rate int) int {
	return max(int(int64(rate)*int64(d.period)/int64(time.Second)), 1)
}

func (d *Device) run(rate int, tick func()) *stream {
	s := &stream{rate: rate, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		t := time.NewTicker(d.period)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				tick()
			}
		}
	}()
	return s
}

type stream struct {
	rate int
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (s *stream) SampleRate() int { return s.rate }

// Close stops the device goroutine and waits for the last callback to return.
func (s *stream) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
