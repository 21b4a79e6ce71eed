package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	// FrameEveryTicks is the default observer frame cadence.
	FrameEveryTicks int `yaml:"frame_every_ticks"`

	Sim Sim `yaml:"sim"`
}

type Sim struct {
	AmbientAtmosphere float64 `yaml:"ambient_atmosphere"`
	VoxelRadius       float64 `yaml:"voxel_radius"`

	FlowRateConstant   float64 `yaml:"flow_rate_constant"`
	FlowVectorConstant float64 `yaml:"flow_vector_constant"`
	FlowForceConstant  float64 `yaml:"flow_force_constant"`

	CheapFlowConstant      float64 `yaml:"cheap_flow_constant"`
	CheapAtmoDeltaConstant float64 `yaml:"cheap_atmo_delta_constant"`
	CheapFlowForceConstant float64 `yaml:"cheap_flow_force_constant"`

	ComputeWorkers int `yaml:"compute_workers"`
}

func Defaults() Tuning {
	p := flow.DefaultParams()
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         50,
		SnapshotEveryTicks: 3000,
		FrameEveryTicks:    5,
		Sim: Sim{
			AmbientAtmosphere:      p.AmbientAtmosphere,
			VoxelRadius:            p.VoxelRadius,
			FlowRateConstant:       p.FlowRateConstant,
			FlowVectorConstant:     p.FlowVectorConstant,
			FlowForceConstant:      p.FlowForceConstant,
			CheapFlowConstant:      p.CheapFlowConstant,
			CheapAtmoDeltaConstant: p.CheapAtmoDeltaConstant,
			CheapFlowForceConstant: p.CheapFlowForceConstant,
			ComputeWorkers:         p.ComputeWorkers,
		},
	}
}

// Load reads a tuning file on top of Defaults. Keys missing from the file
// keep their default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in (0,1000], got %d", t.TickRateHz)
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0")
	}
	if t.FrameEveryTicks < 1 {
		return fmt.Errorf("frame_every_ticks must be >= 1")
	}
	return t.Params().Validate()
}

// Dt is the fixed timestep in seconds.
func (t Tuning) Dt() float64 { return 1 / float64(t.TickRateHz) }

func (t Tuning) Params() flow.Params {
	return flow.Params{
		AmbientAtmosphere:      t.Sim.AmbientAtmosphere,
		VoxelRadius:            t.Sim.VoxelRadius,
		FlowRateConstant:       t.Sim.FlowRateConstant,
		FlowVectorConstant:     t.Sim.FlowVectorConstant,
		FlowForceConstant:      t.Sim.FlowForceConstant,
		CheapFlowConstant:      t.Sim.CheapFlowConstant,
		CheapAtmoDeltaConstant: t.Sim.CheapAtmoDeltaConstant,
		CheapFlowForceConstant: t.Sim.CheapFlowForceConstant,
		ComputeWorkers:         t.Sim.ComputeWorkers,
	}
}
