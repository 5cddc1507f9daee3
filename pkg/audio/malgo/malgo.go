// Package malgo provides [audio.InputDevice] and [audio.OutputDevice]
// implementations backed by miniaudio through github.com/gen2brain/malgo.
//
// Both directions run mono 32-bit float streams. Samples are handed to the
// caller on miniaudio's real-time thread.
package malgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*Backend)(nil)
	_ audio.OutputDevice = (*Backend)(nil)
)

// Option configures a [Backend].
type Option func(*Backend)

// WithPeriodFrames sets the requested device period in frames. Zero leaves the
// choice to miniaudio.
func WithPeriodFrames(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.periodFrames = uint32(n)
		}
	}
}

// Backend owns a miniaudio context shared by every stream it opens.
type Backend struct {
	ctx          *ma.AllocatedContext
	periodFrames uint32
}

// New initialises the miniaudio context. Failures match
// [audio.ErrDeviceAcquisition].
func New(opts ...Option) (*Backend, error) {
	ctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(msg string) {
		slog.Debug("malgo: "+msg)
	})
	if err != nil {
		return nil, &audio.DeviceError{Device: "malgo", Err: fmt.Errorf("init context: %w", err)}
	}
	b := &Backend{ctx: ctx}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Close releases the miniaudio context. All streams must be closed first.
func (b *Backend) Close() error {
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// OpenInput implements [audio.InputDevice].
func (b *Backend) OpenInput(_ context.Context, sampleRate int, onFrame func([]float32)) (audio.Stream, error) {
	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = b.periodFrames
	cfg.Alsa.NoMMap = 1

	s := &stream{name: "capture"}
	var buf []float32
	data := func(_, pInput []byte, framecount uint32) {
		if framecount == 0 {
			return
		}
		buf = decodeF32(buf[:0], pInput, int(framecount))
		onFrame(buf)
	}
	return b.start(s, cfg, data)
}

// OpenOutput implements [audio.OutputDevice].
func (b *Backend) OpenOutput(_ context.Context, sampleRate int, render func([]float32)) (audio.Stream, error) {
	cfg := ma.DefaultDeviceConfig(ma.Playback)
	cfg.Playback.Format = ma.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = b.periodFrames
	cfg.Alsa.NoMMap = 1

	s := &stream{name: "playback"}
	var buf []float32
	data := func(pOutput, _ []byte, framecount uint32) {
		n := int(framecount)
		if cap(buf) < n {
			buf = make([]float32, n)
		}
		buf = buf[:n]
		render(buf)
		encodeF32(pOutput, buf)
	}
	return b.start(s, cfg, data)
}

func (b *Backend) start(s *stream, cfg ma.DeviceConfig, data ma.DataProc) (audio.Stream, error) {
	if b.ctx == nil {
		return nil, &audio.DeviceError{Device: s.name, Err: fmt.Errorf("backend closed")}
	}
	dev, err := ma.InitDevice(b.ctx.Context, cfg, ma.DeviceCallbacks{Data: data})
	if err != nil {
		return nil, &audio.DeviceError{Device: s.name, Err: fmt.Errorf("init device: %w", err)}
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, &audio.DeviceError{Device: s.name, Err: fmt.Errorf("start device: %w", err)}
	}
	s.dev = dev
	s.rate = int(dev.SampleRate())
	slog.Info("malgo: device started", "device", s.name, "sampleRate", s.rate)
	return s, nil
}

type stream struct {
	name string
	rate int

	once sync.Once
	dev  *ma.Device
}

func (s *stream) SampleRate() int { return s.rate }

func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.dev.Stop()
		s.dev.Uninit()
	})
	if err != nil {
		return fmt.Errorf("malgo: stop %s device: %w", s.name, err)
	}
	return nil
}

// decodeF32 appends n little-endian float32 samples from b to dst.
func decodeF32(dst []float32, b []byte, n int) []float32 {
	n = min(n, len(b)/4)
	for i := range n {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return dst
}

// encodeF32 writes samples into b as little-endian float32.
func encodeF32(b []byte, samples []float32) {
	n := min(len(samples), len(b)/4)
	for i := range n {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(samples[i]))
	}
}
