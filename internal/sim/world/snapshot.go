package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

// ExportSnapshot captures the state after nowTick has been simulated.
//
// This must be called only when the world is stopped or from the world loop goroutine.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	st := w.sim.ExportState()
	p := w.sim.Context().Params()
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:     snapshot.Version,
			RunID:       w.cfg.ID,
			Tick:        nowTick,
			SceneDigest: w.cfg.SceneDigest,
		},
		TickRateHz: w.cfg.TickRateHz,
		Params: snapshot.ParamsV1{
			AmbientAtmosphere:      p.AmbientAtmosphere,
			VoxelRadius:            p.VoxelRadius,
			FlowRateConstant:       p.FlowRateConstant,
			FlowVectorConstant:     p.FlowVectorConstant,
			FlowForceConstant:      p.FlowForceConstant,
			CheapFlowConstant:      p.CheapFlowConstant,
			CheapAtmoDeltaConstant: p.CheapAtmoDeltaConstant,
			CheapFlowForceConstant: p.CheapFlowForceConstant,
		},
	}
	for _, rs := range st.Rooms {
		snap.Rooms = append(snap.Rooms, snapshot.RoomV1{
			ID:            string(rs.ID),
			Mode:          rs.Mode.String(),
			Atmosphere:    rs.Atmosphere,
			FlowMagnitude: rs.FlowMagnitude,
			AvgFlow:       rs.AvgFlow,
			CheapForce:    rs.CheapForce,
			Voxels:        voxelsOut(rs.Voxels),
			Extra:         voxelsOut(rs.Extra),
		})
	}
	for _, cs := range st.Connectors {
		snap.Connectors = append(snap.Connectors, snapshot.ConnectorV1{ID: string(cs.ID), Open: cs.Open, Flow: cs.Flow})
	}
	for _, bs := range st.Bodies {
		snap.Bodies = append(snap.Bodies, snapshot.BodyV1{Body: string(bs.Body), Room: string(bs.Room)})
	}
	return snap
}

// ImportSnapshot replaces the dynamic state with the snapshot and sets the
// tick to snapshotTick+1 (the next tick to simulate). The simulation must
// have been built from the same scene.
//
// This must be called only when the world is stopped or from the world loop goroutine.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("snapshot version %d not supported", s.Header.Version)
	}
	if s.Header.SceneDigest != "" && w.cfg.SceneDigest != "" && s.Header.SceneDigest != w.cfg.SceneDigest {
		return fmt.Errorf("snapshot scene digest %.12s does not match running scene %.12s", s.Header.SceneDigest, w.cfg.SceneDigest)
	}

	ctx := w.sim.Context()
	p := ctx.Params()
	if s.Params.VoxelRadius != p.VoxelRadius {
		return fmt.Errorf("snapshot voxel radius %v differs from scene build %v", s.Params.VoxelRadius, p.VoxelRadius)
	}
	p.AmbientAtmosphere = s.Params.AmbientAtmosphere
	p.FlowRateConstant = s.Params.FlowRateConstant
	p.FlowVectorConstant = s.Params.FlowVectorConstant
	p.FlowForceConstant = s.Params.FlowForceConstant
	p.CheapFlowConstant = s.Params.CheapFlowConstant
	p.CheapAtmoDeltaConstant = s.Params.CheapAtmoDeltaConstant
	p.CheapFlowForceConstant = s.Params.CheapFlowForceConstant

	st := flow.State{Tick: s.Header.Tick + 1}
	for _, rs := range s.Rooms {
		m, err := flow.ParseMode(rs.Mode)
		if err != nil {
			return fmt.Errorf("snapshot room %q: %w", rs.ID, err)
		}
		st.Rooms = append(st.Rooms, flow.RoomState{
			ID:            flow.RoomID(rs.ID),
			Mode:          m,
			Atmosphere:    rs.Atmosphere,
			FlowMagnitude: rs.FlowMagnitude,
			AvgFlow:       rs.AvgFlow,
			CheapForce:    rs.CheapForce,
			Voxels:        voxelsIn(rs.Voxels),
			Extra:         voxelsIn(rs.Extra),
		})
	}
	for _, cs := range s.Connectors {
		st.Connectors = append(st.Connectors, flow.ConnectorState{ID: flow.ConnectorID(cs.ID), Open: cs.Open, Flow: cs.Flow})
	}
	for _, bs := range s.Bodies {
		st.Bodies = append(st.Bodies, flow.BodyState{Body: flow.BodyID(bs.Body), Room: flow.RoomID(bs.Room)})
	}

	// Validate params before touching state so a failure leaves both intact.
	if err := p.Validate(); err != nil {
		return fmt.Errorf("snapshot params: %w", err)
	}
	if err := w.sim.ImportState(st); err != nil {
		return err
	}
	if err := ctx.Reconfigure(p); err != nil {
		return fmt.Errorf("snapshot params: %w", err)
	}
	w.tick.Store(w.sim.Tick())
	w.diagSeen = w.sim.DiagnosticCount()
	return nil
}

func voxelsOut(in []flow.VoxelState) []snapshot.VoxelV1 {
	out := make([]snapshot.VoxelV1, len(in))
	for i, v := range in {
		out[i] = snapshot.VoxelV1{Atmosphere: v.Atmosphere, Flow: v.Flow}
	}
	return out
}

func voxelsIn(in []snapshot.VoxelV1) []flow.VoxelState {
	out := make([]flow.VoxelState, len(in))
	for i, v := range in {
		out[i] = flow.VoxelState{Atmosphere: v.Atmosphere, Flow: mgl64.Vec3(v.Flow)}
	}
	return out
}
