// Package config provides the configuration schema, loader, hot-reload
// watcher and device backend registry for parley.
package config

import (
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Reference values applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultSendBuffer          = 64
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
	DefaultMaxRetries          = 10
	DefaultDisconnectGrace     = 5 * time.Second
	DefaultOutboundSampleRate  = 16000
	DefaultInboundSampleRate   = 22000
	DefaultChunkSize           = 4096
	DefaultDevice              = "malgo"
	DefaultDeviceSampleRate    = 48000
	DefaultVADThreshold        = 0.01
	DefaultLookahead           = 50 * time.Millisecond
	DefaultTurnCompleteGrace   = 500 * time.Millisecond
)

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

// ServerConfig holds the observability HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// TransportConfig describes the connection to the voice service.
type TransportConfig struct {
	// URL is the websocket endpoint, e.g. "wss://voice.example.com/v1/talk".
	URL string `yaml:"url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key"`

	// SendBuffer is the number of outbound messages queued before sends are
	// dropped.
	SendBuffer int `yaml:"send_buffer"`

	// ReconnectBackoff is the initial delay between reconnection attempts.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectBackoff caps the exponential backoff.
	MaxReconnectBackoff time.Duration `yaml:"max_reconnect_backoff"`

	// MaxRetries is the number of reconnection attempts per outage.
	MaxRetries int `yaml:"max_retries"`

	// DisconnectGrace is how long an outage may last before it is surfaced.
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// FallbackURLs are tried in order when URL cannot be reached.
	FallbackURLs []string `yaml:"fallback_urls"`

	// BreakerFailures is the number of consecutive dial failures after which
	// an endpoint is skipped. Only used with FallbackURLs.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerCooldown is how long a failing endpoint is skipped.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// AudioConfig holds device and wire format settings.
type AudioConfig struct {
	// OutboundSampleRate is the rate of audio sent to the service.
	OutboundSampleRate int `yaml:"outbound_sample_rate"`

	// InboundSampleRate is the rate of audio received from the service.
	InboundSampleRate int `yaml:"inbound_sample_rate"`

	// ChunkSize is the number of samples per outbound chunk (256-4096).
	ChunkSize int `yaml:"chunk_size"`

	// Resampler is "linear" (default) or "nearest".
	Resampler audio.ResampleMode `yaml:"resampler"`

	// FlushOnStop is "discard" (default) or "pad".
	FlushOnStop capture.FlushPolicy `yaml:"flush_on_stop"`

	// Device names the backend in the [Registry]: "malgo" or "null".
	Device string `yaml:"device"`

	// DeviceSampleRate is the capture rate requested from the device. It must
	// not be lower than OutboundSampleRate.
	DeviceSampleRate int `yaml:"device_sample_rate"`

	// DeviceBufferFrames is the device period in frames. Zero lets the
	// backend choose.
	DeviceBufferFrames int `yaml:"device_buffer_frames"`
}

// VADConfig tunes voice activity detection. Hot-reloadable.
type VADConfig struct {
	// Threshold is the RMS energy above which a frame counts as speech.
	Threshold float64 `yaml:"threshold"`

	// ConsecutiveFrames is the number of active frames required before a
	// speech event fires. 0 and 1 both mean every active frame.
	ConsecutiveFrames int `yaml:"consecutive_frames"`
}

// PlaybackConfig tunes the playback scheduler.
type PlaybackConfig struct {
	// Lookahead is the margin applied when the playback cursor has fallen
	// behind the clock. Hot-reloadable.
	Lookahead time.Duration `yaml:"lookahead"`

	// TurnCompleteGrace bounds how long an advisory turn_complete waits for
	// playback to drain.
	TurnCompleteGrace time.Duration `yaml:"turn_complete_grace"`
}

// ApplyDefaults fills every zero-valued field of cfg with its reference
// value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	t := &cfg.Transport
	if t.SendBuffer == 0 {
		t.SendBuffer = DefaultSendBuffer
	}
	if t.ReconnectBackoff == 0 {
		t.ReconnectBackoff = DefaultReconnectBackoff
	}
	if t.MaxReconnectBackoff == 0 {
		t.MaxReconnectBackoff = DefaultMaxReconnectBackoff
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.DisconnectGrace == 0 {
		t.DisconnectGrace = DefaultDisconnectGrace
	}

	a := &cfg.Audio
	if a.OutboundSampleRate == 0 {
		a.OutboundSampleRate = DefaultOutboundSampleRate
	}
	if a.InboundSampleRate == 0 {
		a.InboundSampleRate = DefaultInboundSampleRate
	}
	if a.ChunkSize == 0 {
		a.ChunkSize = DefaultChunkSize
	}
	if a.Resampler == "" {
		a.Resampler = audio.ResampleLinear
	}
	if a.FlushOnStop == "" {
		a.FlushOnStop = capture.FlushDiscard
	}
	if a.Device == "" {
		a.Device = DefaultDevice
	}
	if a.DeviceSampleRate == 0 {
		a.DeviceSampleRate = max(DefaultDeviceSampleRate, a.OutboundSampleRate)
	}

	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = DefaultVADThreshold
	}

	if cfg.Playback.Lookahead == 0 {
		cfg.Playback.Lookahead = DefaultLookahead
	}
	if cfg.Playback.TurnCompleteGrace == 0 {
		cfg.Playback.TurnCompleteGrace = DefaultTurnCompleteGrace
	}
}
