package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version     int    `json:"version"`
	RunID       string `json:"run_id"`
	Tick        uint64 `json:"tick"`
	SceneDigest string `json:"scene_digest"`
}

// SnapshotV1 is the dynamic state of a run. Topology is not stored: the
// scene named by SceneDigest must be rebuilt before the snapshot is applied.
type SnapshotV1 struct {
	Header Header

	TickRateHz int
	Params     ParamsV1

	Rooms      []RoomV1
	Connectors []ConnectorV1
	Bodies     []BodyV1
}

type ParamsV1 struct {
	AmbientAtmosphere float64
	VoxelRadius       float64

	FlowRateConstant   float64
	FlowVectorConstant float64
	FlowForceConstant  float64

	CheapFlowConstant      float64
	CheapAtmoDeltaConstant float64
	CheapFlowForceConstant float64
}

type VoxelV1 struct {
	Atmosphere float64
	Flow       [3]float64
}

type RoomV1 struct {
	ID            string
	Mode          string
	Atmosphere    float64
	FlowMagnitude float64
	AvgFlow       float64
	CheapForce    [3]float64

	Voxels []VoxelV1
	Extra  []VoxelV1
}

type ConnectorV1 struct {
	ID   string
	Open bool
	Flow float64
}

type BodyV1 struct {
	Body string
	Room string
}

// Path is the canonical location of the snapshot for tick under dir.
func Path(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The JSON header line is for humans and tools; gob repeats it.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("snapshot header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d not supported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	return h, nil
}
