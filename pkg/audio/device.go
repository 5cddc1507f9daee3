// Package audio defines the sample types, wire codec, resampling, voice
// activity detection and device abstractions of the parley audio core.
//
// The two device abstractions are:
//
//   - [InputDevice] opens a capture stream that pushes mono float frames to a
//     callback on the device's real-time thread.
//   - [OutputDevice] opens a playback stream that pulls mono float frames
//     from a render callback on the device's real-time thread.
//
// Backends live in sub-packages (audio/malgo, audio/null) and are selected by
// name through the config registry. The interfaces are narrow so that the
// capture pipeline and playback renderer stay independent of any audio API.
package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeviceAcquisition is the sentinel matched by every [DeviceError]. It is
// fatal to the capture session and distinct from transport failures.
var ErrDeviceAcquisition = errors.New("audio: device acquisition failed")

// DeviceError reports a failure to acquire or start an audio device.
type DeviceError struct {
	// Device is the backend or device name that failed.
	Device string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: device %q: %v", e.Device, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrDeviceAcquisition].
func (e *DeviceError) Is(target error) bool { return target == ErrDeviceAcquisition }

// Stream is an open device stream.
type Stream interface {
	// SampleRate is the rate the device actually delivers or consumes, which
	// may differ from the requested one.
	SampleRate() int

	// Close stops the stream and releases the device. After Close returns no
	// further callbacks are made. It is safe to call more than once.
	Close() error
}

// InputDevice opens capture streams.
//
// The callback receives one mono frame per device period. The slice is only
// valid for the duration of the call; it must not block and must not retain
// the slice.
type InputDevice interface {
	OpenInput(ctx context.Context, sampleRate int, onFrame func(frame []float32)) (Stream, error)
}

// OutputDevice opens playback streams.
//
// The render callback must fill out completely (zeros for silence). It runs on
// the device thread and must not block.
type OutputDevice interface {
	OpenOutput(ctx context.Context, sampleRate int, render func(out []float32)) (Stream, error)
}
