package flow

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Params are the process-wide tunables of a simulation. They are read by every
// voxel, room and connector and may only change between ticks.
type Params struct {
	AmbientAtmosphere float64
	VoxelRadius       float64

	// Full simulation.
	FlowRateConstant   float64 // diffusion rate, m = min(1, rate*dt)
	FlowVectorConstant float64 // scales voxel flow vectors
	FlowForceConstant  float64 // flow -> force

	// Cheap simulation.
	CheapFlowConstant      float64 // connector flow per unit of atmosphere difference and area
	CheapAtmoDeltaConstant float64 // k_atmo
	CheapFlowForceConstant float64 // k_force

	// ComputeWorkers bounds the goroutines used by the compute phase.
	// 0 means GOMAXPROCS, 1 keeps the whole step on the calling goroutine.
	ComputeWorkers int
}

func DefaultParams() Params {
	return Params{
		AmbientAtmosphere:      0,
		VoxelRadius:            0.5,
		FlowRateConstant:       50,
		FlowVectorConstant:     1000,
		FlowForceConstant:      5,
		CheapFlowConstant:      1,
		CheapAtmoDeltaConstant: 1,
		CheapFlowForceConstant: 5,
	}
}

func (p Params) VoxelDiameter() float64 { return 2 * p.VoxelRadius }

func (p Params) Validate() error {
	if p.AmbientAtmosphere < 0 || p.AmbientAtmosphere > 1 {
		return fmt.Errorf("%w: ambient_atmosphere %v outside [0,1]", ErrInvalidParams, p.AmbientAtmosphere)
	}
	if p.VoxelRadius < 0.5 || p.VoxelRadius > 4 {
		return fmt.Errorf("%w: voxel_radius %v outside [0.5,4]", ErrInvalidParams, p.VoxelRadius)
	}
	consts := []struct {
		name string
		v    float64
	}{
		{"flow_rate_constant", p.FlowRateConstant},
		{"flow_vector_constant", p.FlowVectorConstant},
		{"flow_force_constant", p.FlowForceConstant},
		{"cheap_flow_constant", p.CheapFlowConstant},
		{"cheap_atmo_delta_constant", p.CheapAtmoDeltaConstant},
		{"cheap_flow_force_constant", p.CheapFlowForceConstant},
	}
	for _, c := range consts {
		if c.v < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrInvalidParams, c.name)
		}
	}
	if p.ComputeWorkers < 0 {
		return fmt.Errorf("%w: compute_workers must be >= 0", ErrInvalidParams)
	}
	return nil
}

func (p Params) workers() int {
	if p.ComputeWorkers > 0 {
		return p.ComputeWorkers
	}
	return runtime.GOMAXPROCS(0)
}

// Context holds the live Params of one simulation instance. Constant voxels
// that mirror the ambient value read it through here, so retuning the ambient
// atmosphere takes effect on the next tick without touching the graph.
type Context struct {
	params Params
	inTick atomic.Bool
}

func NewContext(p Params) (*Context, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Context{params: p}, nil
}

func (c *Context) Params() Params { return c.params }

func (c *Context) Ambient() float64 { return c.params.AmbientAtmosphere }

// Reconfigure swaps the tunables. It fails while a tick is running.
func (c *Context) Reconfigure(p Params) error {
	if c.inTick.Load() {
		return ErrTickInProgress
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.params = p
	return nil
}

func (c *Context) beginTick() bool { return c.inTick.CompareAndSwap(false, true) }
func (c *Context) endTick()        { c.inTick.Store(false) }
