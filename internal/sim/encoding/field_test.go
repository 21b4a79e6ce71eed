package encoding

import (
	"encoding/base64"
	"math"
	"testing"
)

func TestField_RoundTripWithinOneStep(t *testing.T) {
	in := make([]float64, 0, 300)
	for i := 0; i < 200; i++ {
		in = append(in, 1)
	}
	for i := 0; i < 100; i++ {
		in = append(in, float64(i)/100)
	}
	in = append(in, -0.5, 1.7, math.NaN())

	out, err := DecodeField(EncodeField(in))
	if err != nil {
		t.Fatalf("DecodeField: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := 0; i < 300; i++ {
		if d := math.Abs(out[i] - in[i]); d > 0.5/Levels+1e-12 {
			t.Fatalf("value %d: got %v want %v", i, out[i], in[i])
		}
	}
	if out[300] != 0 || out[301] != 1 || out[302] != 0 {
		t.Fatalf("clamped values = %v", out[300:])
	}
}

func TestField_UniformRoomIsOneRun(t *testing.T) {
	vals := make([]float64, 4096)
	for i := range vals {
		vals[i] = 0.5
	}
	raw, err := base64.StdEncoding.DecodeString(EncodeField(vals))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	// One (level, run) pair: 2 bytes for 512 and 2 bytes for 4096.
	if len(raw) != 4 {
		t.Fatalf("encoded %d bytes, want 4", len(raw))
	}
}

func TestDecodeRuns_RejectsCorruptInput(t *testing.T) {
	cases := map[string]string{
		"not base64":  "***",
		"truncated":   base64.StdEncoding.EncodeToString([]byte{0x05}),
		"zero run":    base64.StdEncoding.EncodeToString([]byte{0x05, 0x00}),
		"level > max": base64.StdEncoding.EncodeToString([]byte{0x80, 0x10, 0x01}),
		"huge run":    base64.StdEncoding.EncodeToString([]byte{0x01, 0xff, 0xff, 0xff, 0xff, 0x0f}),
	}
	for name, in := range cases {
		if _, err := DecodeRuns(in); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if out, err := DecodeRuns(""); err != nil || len(out) != 0 {
		t.Fatalf("empty: %v %v", out, err)
	}
}
