package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VADThresholdChanged bool
	NewVADThreshold     float64

	VADFramesChanged bool
	NewVADFrames     int

	LookaheadChanged bool
	NewLookahead     time.Duration

	// RestartRequired is true when any field outside the hot-reloadable set
	// differs.
	RestartRequired bool
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VADThresholdChanged || d.VADFramesChanged || d.LookaheadChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.VAD.Threshold != new.VAD.Threshold {
		d.VADThresholdChanged = true
		d.NewVADThreshold = new.VAD.Threshold
	}
	if old.VAD.ConsecutiveFrames != new.VAD.ConsecutiveFrames {
		d.VADFramesChanged = true
		d.NewVADFrames = new.VAD.ConsecutiveFrames
	}
	if old.Playback.Lookahead != new.Playback.Lookahead {
		d.LookaheadChanged = true
		d.NewLookahead = new.Playback.Lookahead
	}

	// Compare the rest with the hot-reloadable fields masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.VAD, n.VAD = VADConfig{}, VADConfig{}
	o.Playback.Lookahead, n.Playback.Lookahead = 0, 0
	d.RestartRequired = !reflect.DeepEqual(o, n)

	return d
}
