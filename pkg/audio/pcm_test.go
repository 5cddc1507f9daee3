package audio_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestInt16RoundTrip_AllValues(t *testing.T) {
	t.Parallel()
	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		x := int16(v)
		if got := audio.FloatToInt16(audio.Int16ToFloat(x)); got != x {
			t.Fatalf("round trip of %d: got %d", x, got)
		}
	}
}

func TestFloatToInt16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"clamp high", 1.5, 32767},
		{"clamp low", -7, -32768},
		{"half positive rounds", 0.5, 16384},
		{"half negative", -0.5, -16384},
		{"nan is silence", float32(math.NaN()), 0},
		{"positive infinity", float32(math.Inf(1)), 32767},
		{"negative infinity", float32(math.Inf(-1)), -32768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.FloatToInt16(tt.in); got != tt.want {
				t.Errorf("FloatToInt16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestInt16ToFloat_Range(t *testing.T) {
	t.Parallel()
	if got := audio.Int16ToFloat(-32768); got != -1 {
		t.Errorf("min: got %v, want -1", got)
	}
	if got := audio.Int16ToFloat(32767); got != 1 {
		t.Errorf("max: got %v, want 1", got)
	}
}

func TestBytes_LittleEndian(t *testing.T) {
	t.Parallel()
	got := audio.Int16sToBytes(nil, []int16{1, -2, 0x1234})
	want := []byte{0x01, 0x00, 0xFE, 0xFF, 0x34, 0x12}
	if string(got) != string(want) {
		t.Fatalf("Int16sToBytes = %x, want %x", got, want)
	}
	back, err := audio.BytesToInt16s(nil, got)
	if err != nil {
		t.Fatalf("BytesToInt16s: %v", err)
	}
	if len(back) != 3 || back[0] != 1 || back[1] != -2 || back[2] != 0x1234 {
		t.Errorf("BytesToInt16s = %v", back)
	}
}

func TestBytesToInt16s_OddLength(t *testing.T) {
	t.Parallel()
	_, err := audio.BytesToInt16s(nil, []byte{1, 2, 3})
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestText_RoundTripAllByteValues(t *testing.T) {
	t.Parallel()
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	// Every prefix length exercises each base64 padding case.
	for n := 0; n <= len(all); n++ {
		got, err := audio.DecodeText(audio.EncodeText(all[:n]))
		if err != nil {
			t.Fatalf("len %d: %v", n, err)
		}
		if string(got) != string(all[:n]) {
			t.Fatalf("len %d: round trip mismatch", n)
		}
	}
}

func TestDecodeText_Invalid(t *testing.T) {
	t.Parallel()
	_, err := audio.DecodeText("not*base64!")
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestDecodeSamples(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		in := []float32{0, 0.25, -0.25, 1, -1}
		out, err := audio.DecodeSamples(audio.EncodeSamples(in))
		if err != nil {
			t.Fatalf("DecodeSamples: %v", err)
		}
		if len(out) != len(in) {
			t.Fatalf("len = %d, want %d", len(out), len(in))
		}
		for i := range in {
			if d := math.Abs(float64(out[i] - in[i])); d > 1.0/32767 {
				t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
			}
		}
	})

	t.Run("odd payload", func(t *testing.T) {
		t.Parallel()
		_, err := audio.DecodeSamples(audio.EncodeText([]byte{0x00, 0x01, 0x02}))
		if !errors.Is(err, audio.ErrDecode) {
			t.Fatalf("expected ErrDecode, got %v", err)
		}
	})
}
