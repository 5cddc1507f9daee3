// Package app wires the parley subsystems into a running voice session.
//
// The App struct owns the full lifecycle: New builds the detector, playback
// scheduler, transport and capture pipeline from the config, Run connects to
// the voice service and opens the devices, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithDialer,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/transport"
	"github.com/MrWong99/parley/pkg/transport/ws"
)

// App owns all subsystem lifetimes of one voice session.
type App struct {
	cfg      *config.Config
	device   config.Device
	metrics  *observe.Metrics
	dialer   transport.Dialer
	logLevel *slog.LevelVar
	onEvent  func(transport.Message)

	detector *audio.Detector
	renderer *playback.Renderer
	sched    *playback.Scheduler
	conn     *session.Reconnector
	orch     *session.Orchestrator
	capture  *capture.Pipeline

	mu     sync.Mutex
	output audio.Stream

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer injects a transport dialer instead of the websocket dialer built
// from cfg.Transport.
func WithDialer(d transport.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics injects metric instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] adjust the process log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithEventHandler receives informational service messages (welcome,
// session_started, transcription, error) in addition to the default logging.
func WithEventHandler(fn func(transport.Message)) Option {
	return func(a *App) { a.onEvent = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. device provides both
// microphone and speaker streams; it is usually created through
// [config.Registry.CreateDevice]. Nothing is opened or dialled until Run.
func New(cfg *config.Config, device config.Device, opts ...Option) (*App, error) {
	if device == nil {
		return nil, errors.New("app: device must not be nil")
	}
	a := &App{cfg: cfg, device: device}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.dialer == nil {
		d, err := websocketDialer(cfg.Transport)
		if err != nil {
			return nil, fmt.Errorf("app: init dialer: %w", err)
		}
		a.dialer = d
	}

	// ── 1. Voice activity detection ──────────────────────────────────────
	a.detector = audio.NewDetector(cfg.VAD.Threshold, audio.NewTriggerPolicy(cfg.VAD.ConsecutiveFrames))

	// ── 2. Playback timeline ─────────────────────────────────────────────
	a.renderer = playback.NewRenderer(cfg.Audio.DeviceSampleRate)
	a.sched = playback.New(a.renderer.Clock(), a.renderer,
		playback.WithSampleRate(cfg.Audio.InboundSampleRate),
		playback.WithLookahead(cfg.Playback.Lookahead),
	)

	// ── 3. Transport + orchestrator ──────────────────────────────────────
	a.conn = session.NewReconnector(session.ReconnectorConfig{
		Dialer:          a.dialer,
		MaxRetries:      cfg.Transport.MaxRetries,
		Backoff:         cfg.Transport.ReconnectBackoff,
		MaxBackoff:      cfg.Transport.MaxReconnectBackoff,
		DisconnectGrace: cfg.Transport.DisconnectGrace,
		OnReconnect:     a.handleReconnect,
		OnDown:          func(err error) { a.orch.HandleDisconnect(err) },
	})
	a.closers = append(a.closers, a.conn.Close)

	a.orch = session.New(a.conn, a.sched,
		session.WithMetrics(a.metrics),
		session.WithTurnCompleteGrace(cfg.Playback.TurnCompleteGrace),
		session.WithInputSampleRate(cfg.Audio.OutboundSampleRate),
		session.WithEventHandler(a.handleEvent),
		session.WithStateHandler(func(from, to session.State) {
			slog.Debug("session state changed", "from", from, "to", to)
		}),
	)

	// ── 4. Capture pipeline ──────────────────────────────────────────────
	pipeline, err := capture.New(device, a.detector, capture.Config{
		OutputSampleRate: cfg.Audio.OutboundSampleRate,
		ChunkSize:        cfg.Audio.ChunkSize,
		Resampler:        cfg.Audio.Resampler,
		Flush:            cfg.Audio.FlushOnStop,
		DeviceSampleRate: cfg.Audio.DeviceSampleRate,
	},
		capture.WithChunkHandler(a.orch.HandleChunk),
		capture.WithSpeechHandler(a.orch.HandleSpeech),
		capture.WithCallbackObserver(func(d time.Duration) {
			a.metrics.RecordCallback(context.Background(), d)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	a.capture = pipeline

	if c, ok := device.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	return a, nil
}

// websocketDialer builds the default dialer from the transport config. With
// fallback URLs configured, the endpoints are tried in order behind
// per-endpoint circuit breakers.
func websocketDialer(tc config.TransportConfig) (transport.Dialer, error) {
	opts := []ws.Option{ws.WithSendBuffer(tc.SendBuffer)}
	if tc.APIKey != "" {
		opts = append(opts, ws.WithAPIKey(tc.APIKey))
	}
	primary := &ws.Dialer{URL: tc.URL, Options: opts}
	if len(tc.FallbackURLs) == 0 {
		return primary, nil
	}

	endpoints := []resilience.Endpoint{{Name: tc.URL, Dialer: primary}}
	for _, u := range tc.FallbackURLs {
		endpoints = append(endpoints, resilience.Endpoint{Name: u, Dialer: &ws.Dialer{URL: u, Options: opts}})
	}
	return resilience.NewFailoverDialer(resilience.BreakerConfig{
		MaxFailures: tc.BreakerFailures,
		Cooldown:    tc.BreakerCooldown,
	}, endpoints...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects to the voice service, announces the session, opens the
// speaker and microphone and routes audio until ctx is cancelled or the
// connection is lost for good. Device acquisition failures match
// [audio.ErrDeviceAcquisition].
func (a *App) Run(ctx context.Context) error {
	if err := a.conn.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect voice service: %w", err)
	}
	a.conn.Monitor(ctx)

	if err := a.orch.StartSession(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	out, err := a.device.OpenOutput(ctx, a.cfg.Audio.DeviceSampleRate, a.renderer.Render)
	if err != nil {
		return fmt.Errorf("app: open output: %w", err)
	}
	if got := out.SampleRate(); got != a.cfg.Audio.DeviceSampleRate {
		slog.Warn("output device rate differs from requested rate",
			"requested", a.cfg.Audio.DeviceSampleRate, "actual", got)
	}
	a.mu.Lock()
	a.output = out
	a.mu.Unlock()

	if err := a.capture.Start(ctx); err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}

	slog.Info("app running",
		"device", a.cfg.Audio.Device,
		"outbound_rate", a.cfg.Audio.OutboundSampleRate,
		"inbound_rate", a.cfg.Audio.InboundSampleRate,
		"chunk_size", a.cfg.Audio.ChunkSize,
	)

	// The orchestrator returns once the connection is given up for good.
	err = a.orch.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// handleReconnect re-announces the session on a fresh connection.
func (a *App) handleReconnect() {
	if err := a.orch.StartSession(context.Background()); err != nil {
		slog.Warn("failed to restart session after reconnect", "err", err)
	}
}

// handleEvent logs informational service messages.
func (a *App) handleEvent(msg transport.Message) {
	switch msg.Type {
	case transport.TypeTranscription:
		slog.Info("transcription", "role", msg.Role, "text", msg.Text)
	case transport.TypeSessionStarted:
		slog.Info("session acknowledged", "session_id", msg.SessionID)
	case transport.TypeWelcome:
		slog.Debug("service welcome received")
	case transport.TypeError:
		// Already logged by the orchestrator.
	default:
		slog.Debug("ignoring service message", "type", msg.Type)
	}
	if a.onEvent != nil {
		a.onEvent(msg)
	}
}

// ─── Introspection ───────────────────────────────────────────────────────────

// Orchestrator returns the session orchestrator.
func (a *App) Orchestrator() *session.Orchestrator { return a.orch }

// Scheduler returns the playback scheduler.
func (a *App) Scheduler() *playback.Scheduler { return a.sched }

// Detector returns the voice activity detector.
func (a *App) Detector() *audio.Detector { return a.detector }

// Checkers returns the readiness checks for /readyz.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		health.TransportOpen(a.conn.IsOpen),
		health.CaptureRunning(func() bool { return a.capture.State() == capture.StateCapturing }),
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// Changes that need a restart are logged and ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VADThresholdChanged {
		a.detector.SetThreshold(d.NewVADThreshold)
		slog.Info("vad threshold changed", "threshold", d.NewVADThreshold)
	}
	if d.VADFramesChanged {
		a.detector.SetPolicy(audio.NewTriggerPolicy(d.NewVADFrames))
		slog.Info("vad consecutive frames changed", "frames", d.NewVADFrames)
	}
	if d.LookaheadChanged {
		a.sched.SetLookahead(d.NewLookahead)
		slog.Info("playback lookahead changed", "lookahead", d.NewLookahead)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

// SlogLevel maps a config log level to its slog level. Unknown levels map to
// info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, closes the speaker stream and then runs the
// remaining closers in order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the microphone first so no chunk races the transport close.
		if err := a.capture.Stop(); err != nil {
			slog.Warn("capture stop error", "err", err)
		}
		a.mu.Lock()
		out := a.output
		a.output = nil
		a.mu.Unlock()
		if out != nil {
			a.sched.CancelAll()
			if err := out.Close(); err != nil {
				slog.Warn("output close error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
