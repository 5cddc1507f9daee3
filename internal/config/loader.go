package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
)

// ValidDeviceNames lists the device backends registered by the parley binary.
// Used by [Validate] to warn about unrecognised names.
var ValidDeviceNames = []string{"malgo", "null"}

// VAD threshold range observed in practice. Values outside it are accepted
// with a warning.
const (
	minTypicalThreshold = 0.001
	maxTypicalThreshold = 0.02
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown fields are rejected. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [ApplyDefaults]. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transport
	t := cfg.Transport
	if t.URL == "" {
		errs = append(errs, errors.New("transport.url is required"))
	} else if u, err := url.Parse(t.URL); err != nil {
		errs = append(errs, fmt.Errorf("transport.url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("transport.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	} else if u.Scheme == "ws" && t.APIKey != "" {
		slog.Warn("transport.api_key is sent over an unencrypted ws:// connection")
	}
	for i, raw := range t.FallbackURLs {
		if u, err := url.Parse(raw); err != nil {
			errs = append(errs, fmt.Errorf("transport.fallback_urls[%d]: %w", i, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("transport.fallback_urls[%d] scheme %q is invalid; valid values: ws, wss", i, u.Scheme))
		}
	}
	if t.BreakerFailures < 0 || t.BreakerCooldown < 0 {
		errs = append(errs, errors.New("transport breaker settings must not be negative"))
	}
	if t.SendBuffer < 0 {
		errs = append(errs, fmt.Errorf("transport.send_buffer %d must not be negative", t.SendBuffer))
	}
	if t.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transport.max_retries %d must not be negative", t.MaxRetries))
	}
	if t.ReconnectBackoff < 0 || t.MaxReconnectBackoff < 0 || t.DisconnectGrace < 0 {
		errs = append(errs, errors.New("transport durations must not be negative"))
	}
	if t.MaxReconnectBackoff > 0 && t.ReconnectBackoff > t.MaxReconnectBackoff {
		errs = append(errs, fmt.Errorf("transport.reconnect_backoff %v exceeds max_reconnect_backoff %v", t.ReconnectBackoff, t.MaxReconnectBackoff))
	}

	// Audio
	a := cfg.Audio
	if a.OutboundSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.outbound_sample_rate %d must be positive", a.OutboundSampleRate))
	}
	if a.InboundSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.inbound_sample_rate %d must be positive", a.InboundSampleRate))
	}
	if a.ChunkSize < capture.MinChunkSize || a.ChunkSize > capture.MaxChunkSize {
		errs = append(errs, fmt.Errorf("audio.chunk_size %d is out of range [%d, %d]", a.ChunkSize, capture.MinChunkSize, capture.MaxChunkSize))
	}
	switch a.Resampler {
	case "", audio.ResampleLinear, audio.ResampleNearest:
	default:
		errs = append(errs, fmt.Errorf("audio.resampler %q is invalid; valid values: linear, nearest", a.Resampler))
	}
	switch a.FlushOnStop {
	case "", capture.FlushDiscard, capture.FlushPad:
	default:
		errs = append(errs, fmt.Errorf("audio.flush_on_stop %q is invalid; valid values: discard, pad", a.FlushOnStop))
	}
	if a.DeviceSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.device_sample_rate %d must not be negative", a.DeviceSampleRate))
	} else if a.DeviceSampleRate > 0 && a.DeviceSampleRate < a.OutboundSampleRate {
		errs = append(errs, fmt.Errorf("audio.device_sample_rate %d is below outbound_sample_rate %d: %w",
			a.DeviceSampleRate, a.OutboundSampleRate, audio.ErrUnsupportedResampleDirection))
	}
	if a.DeviceBufferFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.device_buffer_frames %d must not be negative", a.DeviceBufferFrames))
	}
	validateDeviceName(a.Device)

	// VAD
	if cfg.VAD.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.threshold %g must be positive", cfg.VAD.Threshold))
	} else if cfg.VAD.Threshold < minTypicalThreshold || cfg.VAD.Threshold > maxTypicalThreshold {
		slog.Warn("vad.threshold is outside the usual range",
			"threshold", cfg.VAD.Threshold,
			"min", minTypicalThreshold,
			"max", maxTypicalThreshold,
		)
	}
	if cfg.VAD.ConsecutiveFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.consecutive_frames %d must not be negative", cfg.VAD.ConsecutiveFrames))
	}

	// Playback
	if cfg.Playback.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("playback.lookahead %v must not be negative", cfg.Playback.Lookahead))
	}
	if cfg.Playback.TurnCompleteGrace < 0 {
		errs = append(errs, fmt.Errorf("playback.turn_complete_grace %v must not be negative", cfg.Playback.TurnCompleteGrace))
	}

	return errors.Join(errs...)
}

// validateDeviceName logs a warning if name is non-empty and not one of
// [ValidDeviceNames]. Third-party backends may be registered at runtime, so
// an unknown name is not an error here.
func validateDeviceName(name string) {
	if name == "" || slices.Contains(ValidDeviceNames, name) {
		return
	}
	slog.Warn("unknown audio device backend, may be a typo or third-party backend",
		"name", name,
		"known", ValidDeviceNames,
	)
}
