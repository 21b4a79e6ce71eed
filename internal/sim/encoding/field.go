// Package encoding packs per-voxel scalar fields for observer frames.
//
// A field is quantized to Levels steps over [0,1] and stored as
// base64(varint pairs) of (level, run_len). Rooms near equilibrium collapse
// to a handful of runs.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const Levels = 1023

// maxRun bounds a single decoded run so corrupt input cannot allocate
// unbounded memory.
const maxRun = 1 << 24

func Quantize(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return Levels
	}
	return uint16(math.Round(v * Levels))
}

func Dequantize(q uint16) float64 {
	if q >= Levels {
		return 1
	}
	return float64(q) / Levels
}

// EncodeField quantizes vals and run-length encodes the result.
func EncodeField(vals []float64) string {
	q := make([]uint16, len(vals))
	for i, v := range vals {
		q[i] = Quantize(v)
	}
	return EncodeRuns(q)
}

func DecodeField(b64 string) ([]float64, error) {
	q, err := DecodeRuns(b64)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(q))
	for i, v := range q {
		out[i] = Dequantize(v)
	}
	return out, nil
}

func EncodeRuns(levels []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(levels) {
		l := levels[i]
		run := 1
		for j := i + 1; j < len(levels) && levels[j] == l && run < maxRun; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(l))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRuns(b64 string) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		l, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if l > Levels {
			return nil, fmt.Errorf("level out of range: %d", l)
		}
		if run == 0 || run > maxRun {
			return nil, fmt.Errorf("bad run length %d", run)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(l))
		}
	}
	return out, nil
}
