package flow

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
)

// Digest hashes the full dynamic state: tick, room modes and aggregates,
// every voxel's atmosphere and flow, connector states and body ownership.
// Two simulations built from the same scene and fed the same commands
// produce the same digest tick for tick.
func (s *Simulation) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestU64(h, &tmp, s.tick)
	for _, r := range s.rooms {
		h.Write([]byte(r.id))
		h.Write([]byte{byte(r.mode)})
		digestF64(h, &tmp, r.atmosphere)
		digestVec(h, &tmp, r.cheapForce[0], r.cheapForce[1], r.cheapForce[2])
		for _, v := range r.grid {
			digestVoxel(h, &tmp, v)
		}
		for _, v := range r.extra {
			digestVoxel(h, &tmp, v)
		}
		for _, b := range r.Bodies() {
			h.Write([]byte(b))
			h.Write([]byte{0})
		}
	}
	for _, c := range s.connectors {
		h.Write([]byte(c.id))
		if c.open {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		digestF64(h, &tmp, c.flow)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestVoxel(h hash.Hash, tmp *[8]byte, v *Voxel) {
	digestF64(h, tmp, v.Atmosphere())
	digestVec(h, tmp, v.flow[0], v.flow[1], v.flow[2])
	digestU64(h, tmp, uint64(len(v.adj)))
}

func digestVec(h hash.Hash, tmp *[8]byte, x, y, z float64) {
	digestF64(h, tmp, x)
	digestF64(h, tmp, y)
	digestF64(h, tmp, z)
}

func digestF64(h hash.Hash, tmp *[8]byte, f float64) {
	digestU64(h, tmp, math.Float64bits(f))
}

func digestU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}
