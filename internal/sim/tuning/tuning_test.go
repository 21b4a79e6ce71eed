package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
tick_rate_hz: 20
sim:
  ambient_atmosphere: 0.1
  voxel_radius: 1
  compute_workers: 2
`)
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickRateHz != 20 || tu.Dt() != 0.05 {
		t.Fatalf("tick rate = %d dt = %v", tu.TickRateHz, tu.Dt())
	}
	p := tu.Params()
	if p.AmbientAtmosphere != 0.1 || p.VoxelRadius != 1 || p.ComputeWorkers != 2 {
		t.Fatalf("params = %+v", p)
	}
	if p.FlowRateConstant != flow.DefaultParams().FlowRateConstant {
		t.Fatalf("missing key did not keep default: %v", p.FlowRateConstant)
	}
	if tu.SnapshotEveryTicks != Defaults().SnapshotEveryTicks {
		t.Fatalf("snapshot cadence = %d", tu.SnapshotEveryTicks)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad yaml", "tick_rate_hz: [1,2"},
		{"zero rate", "tick_rate_hz: 0"},
		{"radius out of range", "sim:\n  voxel_radius: 9\n"},
		{"ambient out of range", "sim:\n  ambient_atmosphere: 2\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	_, err := Load(writeFile(t, "sim:\n  flow_rate_constant: -1\n"))
	if !errors.Is(err, flow.ErrInvalidParams) {
		t.Fatalf("expected wrapped ErrInvalidParams, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
