// Package capture turns a live input device into a stream of fixed-size,
// transport-encoded audio chunks.
//
// Every device callback runs voice activity detection on the raw frame first,
// so barge-in latency is not tied to the chunk size. The frame is then
// resampled to the outbound rate with state carried across callbacks, appended
// to an accumulator, and each time the accumulator holds exactly ChunkSize
// samples it is encoded (float → PCM16 → little-endian bytes → base64) and
// handed to the chunk handler. Samples beyond a full chunk carry over into the
// next one.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Chunk size bounds accepted by [New].
const (
	MinChunkSize = 256
	MaxChunkSize = 4096
)

// ErrAlreadyCapturing is returned by [Pipeline.Start] when the pipeline is not
// idle.
var ErrAlreadyCapturing = errors.New("capture: pipeline already capturing")

// State is the lifecycle state of a [Pipeline].
type State int32

const (
	// StateIdle means no device stream is held.
	StateIdle State = iota

	// StateCapturing means a device stream is open and delivering frames.
	StateCapturing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCapturing:
		return "CAPTURING"
	default:
		return "UNKNOWN"
	}
}

// FlushPolicy decides what happens to a partially filled chunk on Stop.
type FlushPolicy string

const (
	// FlushDiscard drops the partial chunk. Only full chunks are ever sent.
	FlushDiscard FlushPolicy = "discard"

	// FlushPad zero-fills the partial chunk to ChunkSize and emits it.
	FlushPad FlushPolicy = "pad"
)

// Config configures a [Pipeline].
type Config struct {
	// OutputSampleRate is the outbound wire rate in Hz.
	OutputSampleRate int

	// ChunkSize is the number of samples per emitted chunk, in
	// [MinChunkSize, MaxChunkSize].
	ChunkSize int

	// Resampler selects the interpolation mode.
	Resampler audio.ResampleMode

	// Flush is applied on Stop. Empty means [FlushDiscard].
	Flush FlushPolicy

	// DeviceSampleRate is the rate requested from the device. Zero requests
	// OutputSampleRate. The resampler is built from the rate the device
	// actually reports.
	DeviceSampleRate int
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithChunkHandler sets the function receiving each encoded chunk. It runs on
// the device thread and must not block.
func WithChunkHandler(fn func(audio.Chunk)) Option {
	return func(p *Pipeline) { p.onChunk = fn }
}

// WithSpeechHandler sets the function receiving speech events. It runs on the
// device thread and must not block.
func WithSpeechHandler(fn func(audio.SpeechEvent)) Option {
	return func(p *Pipeline) { p.onSpeech = fn }
}

// WithCallbackObserver sets a function receiving the processing time of every
// device callback.
func WithCallbackObserver(fn func(time.Duration)) Option {
	return func(p *Pipeline) { p.onCallback = fn }
}

// Pipeline owns the capture stream of one session.
//
// Start and Stop are safe for concurrent use. Frame processing is serialised
// on procMu, which is only contended during Start and Stop.
type Pipeline struct {
	device   audio.InputDevice
	detector *audio.Detector
	cfg      Config

	onChunk    func(audio.Chunk)
	onSpeech   func(audio.SpeechEvent)
	onCallback func(time.Duration)

	mu     sync.Mutex // serialises Start/Stop
	state  atomic.Int32
	stream audio.Stream

	procMu    sync.Mutex
	resampler audio.Resampler // nil until the stream rate is known
	acc       []float32
	scratch   []float32
	pcm       []int16
	raw       []byte
	seq       uint64

	dropped     atomic.Uint64
	warnedPanic sync.Once
}

// New validates cfg and returns an idle [Pipeline].
func New(device audio.InputDevice, detector *audio.Detector, cfg Config, opts ...Option) (*Pipeline, error) {
	if device == nil {
		return nil, errors.New("capture: device must not be nil")
	}
	if detector == nil {
		return nil, errors.New("capture: detector must not be nil")
	}
	if cfg.OutputSampleRate <= 0 {
		return nil, fmt.Errorf("capture: invalid output sample rate %d", cfg.OutputSampleRate)
	}
	if cfg.ChunkSize < MinChunkSize || cfg.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("capture: chunk size %d outside [%d, %d]", cfg.ChunkSize, MinChunkSize, MaxChunkSize)
	}
	switch cfg.Flush {
	case "":
		cfg.Flush = FlushDiscard
	case FlushDiscard, FlushPad:
	default:
		return nil, fmt.Errorf("capture: unknown flush policy %q", cfg.Flush)
	}
	if cfg.DeviceSampleRate == 0 {
		cfg.DeviceSampleRate = cfg.OutputSampleRate
	}
	// Fail fast on a configured upsampling ratio.
	if _, err := audio.NewResampler(cfg.Resampler, cfg.DeviceSampleRate, cfg.OutputSampleRate); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	p := &Pipeline{
		device:   device,
		detector: detector,
		cfg:      cfg,
		acc:      make([]float32, 0, cfg.ChunkSize),
		pcm:      make([]int16, 0, cfg.ChunkSize),
		raw:      make([]byte, 0, cfg.ChunkSize*2),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Start opens the device stream and moves the pipeline to [StateCapturing].
// Resampler state and the accumulator are reset. On any failure the stream is
// released and the pipeline stays idle; device failures match
// [audio.ErrDeviceAcquisition].
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if State(p.state.Load()) != StateIdle {
		return ErrAlreadyCapturing
	}

	p.procMu.Lock()
	p.resampler = nil
	p.acc = p.acc[:0]
	p.seq = 0
	p.detector.Reset()
	p.procMu.Unlock()

	stream, err := p.device.OpenInput(ctx, p.cfg.DeviceSampleRate, p.process)
	if err != nil {
		var de *audio.DeviceError
		if !errors.As(err, &de) {
			err = &audio.DeviceError{Device: "input", Err: err}
		}
		return fmt.Errorf("capture: open input: %w", err)
	}

	rs, err := audio.NewResampler(p.cfg.Resampler, stream.SampleRate(), p.cfg.OutputSampleRate)
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("capture: failed to close rejected stream", "err", cerr)
		}
		return fmt.Errorf("capture: device rate %d Hz: %w", stream.SampleRate(), err)
	}

	p.procMu.Lock()
	p.resampler = rs
	p.procMu.Unlock()

	p.stream = stream
	p.state.Store(int32(StateCapturing))
	slog.Debug("capture: started",
		"deviceRate", stream.SampleRate(),
		"outputRate", p.cfg.OutputSampleRate,
		"chunkSize", p.cfg.ChunkSize,
	)
	return nil
}

// Stop closes the device stream, applies the flush policy to any partial
// chunk and returns the pipeline to [StateIdle]. Stopping an idle pipeline is
// a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if State(p.state.Load()) == StateIdle {
		return nil
	}

	// No callbacks run after Close returns.
	err := p.stream.Close()
	p.stream = nil

	p.procMu.Lock()
	if p.cfg.Flush == FlushPad && len(p.acc) > 0 {
		for len(p.acc) < p.cfg.ChunkSize {
			p.acc = append(p.acc, 0)
		}
		p.emitLocked()
	}
	p.acc = p.acc[:0]
	p.resampler = nil
	p.procMu.Unlock()

	p.state.Store(int32(StateIdle))
	if err != nil {
		return fmt.Errorf("capture: close stream: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// DroppedFrames returns the number of device frames discarded because their
// processing panicked.
func (p *Pipeline) DroppedFrames() uint64 { return p.dropped.Load() }

// process is the device callback.
func (p *Pipeline) process(frame []float32) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.dropped.Add(1)
			p.warnedPanic.Do(func() {
				slog.Warn("capture: frame processing panicked, dropping frame", "panic", r)
			})
		}
		if p.onCallback != nil {
			p.onCallback(time.Since(start))
		}
	}()

	p.procMu.Lock()
	defer p.procMu.Unlock()

	if p.resampler == nil {
		return
	}

	if ev, ok := p.detector.Detect(frame); ok && p.onSpeech != nil {
		p.onSpeech(ev)
	}

	p.scratch = p.resampler.Resample(p.scratch[:0], frame)
	in := p.scratch
	for len(in) > 0 {
		n := min(p.cfg.ChunkSize-len(p.acc), len(in))
		p.acc = append(p.acc, in[:n]...)
		in = in[n:]
		if len(p.acc) == p.cfg.ChunkSize {
			p.emitLocked()
		}
	}
}

// emitLocked encodes the full accumulator and resets it. procMu must be held.
func (p *Pipeline) emitLocked() {
	p.pcm = audio.FloatsToInt16s(p.pcm[:0], p.acc)
	p.raw = audio.Int16sToBytes(p.raw[:0], p.pcm)
	chunk := audio.Chunk{
		Data:       audio.EncodeText(p.raw),
		Samples:    len(p.pcm),
		SampleRate: p.cfg.OutputSampleRate,
		Seq:        p.seq,
	}
	p.seq++
	p.acc = p.acc[:0]
	if p.onChunk != nil {
		p.onChunk(chunk)
	}
}
