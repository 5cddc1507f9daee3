package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDecode is returned when an inbound payload cannot be turned back into
// samples: invalid transport text or a byte length that is not 16-bit aligned.
// Callers treat it as recoverable and drop the offending chunk.
var ErrDecode = errors.New("audio: decode failure")

// PCM16 scale factors. Negative samples map onto the full 32768 step range of
// two's complement, non-negative samples onto 32767.
const (
	negativeScale = 32768
	positiveScale = 32767
)

// FloatToInt16 converts a float sample to a signed 16-bit PCM sample. The
// input is clamped to [-1, 1] and NaN is treated as silence.
func FloatToInt16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * negativeScale))
	}
	return int16(math.Round(v * positiveScale))
}

// Int16ToFloat is the inverse of [FloatToInt16] using the same asymmetric
// divisor, so FloatToInt16(Int16ToFloat(x)) == x for every int16.
func Int16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(s) / negativeScale
	}
	return float32(s) / positiveScale
}

// FloatsToInt16s appends the PCM16 conversion of src to dst and returns the
// extended slice. Pass dst[:0] to reuse a buffer.
func FloatsToInt16s(dst []int16, src []float32) []int16 {
	for _, s := range src {
		dst = append(dst, FloatToInt16(s))
	}
	return dst
}

// Int16sToFloats appends the float conversion of src to dst and returns the
// extended slice.
func Int16sToFloats(dst []float32, src []int16) []float32 {
	for _, s := range src {
		dst = append(dst, Int16ToFloat(s))
	}
	return dst
}

// Int16sToBytes appends src to dst as little-endian 16-bit words with no
// padding.
func Int16sToBytes(dst []byte, src []int16) []byte {
	for _, s := range src {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// BytesToInt16s decodes little-endian 16-bit words. It returns an error
// wrapping [ErrDecode] when len(b) is odd.
func BytesToInt16s(dst []int16, b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return dst, fmt.Errorf("%w: odd byte count %d in PCM16 payload", ErrDecode, len(b))
	}
	for i := 0; i+1 < len(b); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(b[i:])))
	}
	return dst, nil
}

// EncodeText maps arbitrary bytes to the printable transport encoding
// (standard padded base64).
func EncodeText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeText reverses [EncodeText]. Invalid input yields an error wrapping
// [ErrDecode].
func DecodeText(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return b, nil
}

// EncodeSamples runs the full outbound conversion: float → int16 →
// little-endian bytes → transport text.
func EncodeSamples(samples []float32) string {
	pcm := FloatsToInt16s(make([]int16, 0, len(samples)), samples)
	return EncodeText(Int16sToBytes(make([]byte, 0, len(pcm)*2), pcm))
}

// DecodeSamples runs the full inbound conversion: transport text → bytes →
// int16 → float. Any failure wraps [ErrDecode].
func DecodeSamples(data string) ([]float32, error) {
	raw, err := DecodeText(data)
	if err != nil {
		return nil, err
	}
	pcm, err := BytesToInt16s(make([]int16, 0, len(raw)/2), raw)
	if err != nil {
		return nil, err
	}
	return Int16sToFloats(make([]float32, 0, len(pcm)), pcm), nil
}
