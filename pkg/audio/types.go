package audio

import "time"

// SampleBuffer is a run of mono float32 samples. Values are nominally in
// [-1.0, 1.0]; anything outside that range is clamped before it is converted
// to a wire format.
type SampleBuffer []float32

// SpeechEvent is emitted by voice activity detection when a single input frame
// is classified as speech. It carries no identity and is consumed once.
type SpeechEvent struct {
	// Energy is the RMS energy of the frame that triggered the event.
	Energy float64

	// Threshold is the detector threshold the energy was compared against.
	Threshold float64

	// At is the wall-clock time the frame was analysed.
	At time.Time
}

// Chunk is one outbound wire unit: exactly ChunkSize PCM16 samples at
// SampleRate, already encoded into transport text.
type Chunk struct {
	// Data is the base64 transport text of the little-endian PCM16 payload.
	Data string

	// Samples is the number of int16 samples encoded in Data.
	Samples int

	// SampleRate is the rate of the encoded samples in Hz.
	SampleRate int

	// Seq is the zero-based sequence number of the chunk within its capture
	// session.
	Seq uint64
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return SamplesDuration(c.Samples, c.SampleRate)
}

// SamplesDuration converts a sample count at rate into a duration. It returns
// zero for non-positive rates.
func SamplesDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(rate))
}
