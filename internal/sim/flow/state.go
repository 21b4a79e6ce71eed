package flow

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// State is the dynamic part of a simulation. Topology (rooms, connectors,
// pairs) is rebuilt from the scene; State is laid over it by id.
type State struct {
	Tick       uint64
	Rooms      []RoomState
	Connectors []ConnectorState
	Bodies     []BodyState
}

type VoxelState struct {
	Atmosphere float64
	Flow       mgl64.Vec3
}

type RoomState struct {
	ID            RoomID
	Mode          Mode
	Atmosphere    float64
	FlowMagnitude float64
	AvgFlow       float64
	CheapForce    mgl64.Vec3
	Voxels        []VoxelState
	Extra         []VoxelState
}

type ConnectorState struct {
	ID   ConnectorID
	Open bool
	Flow float64
}

type BodyState struct {
	Body BodyID
	Room RoomID
}

func (s *Simulation) ExportState() State {
	st := State{Tick: s.tick}
	for _, r := range s.rooms {
		rs := RoomState{
			ID:            r.id,
			Mode:          r.mode,
			Atmosphere:    r.atmosphere,
			FlowMagnitude: r.flowMagnitude,
			AvgFlow:       r.avgFlow,
			CheapForce:    r.cheapForce,
			Voxels:        make([]VoxelState, len(r.grid)),
			Extra:         make([]VoxelState, len(r.extra)),
		}
		for i, v := range r.grid {
			rs.Voxels[i] = VoxelState{Atmosphere: v.Atmosphere(), Flow: v.flow}
		}
		for i, v := range r.extra {
			rs.Extra[i] = VoxelState{Atmosphere: v.Atmosphere(), Flow: v.flow}
		}
		st.Rooms = append(st.Rooms, rs)
	}
	for _, c := range s.connectors {
		st.Connectors = append(st.Connectors, ConnectorState{ID: c.id, Open: c.open, Flow: c.flow})
	}
	for _, r := range s.rooms {
		for _, b := range r.Bodies() {
			if owner, ok := s.owners[b]; ok && owner == r {
				st.Bodies = append(st.Bodies, BodyState{Body: b, Room: r.id})
			}
		}
	}
	return st
}

// ImportState overwrites the dynamic state. Every room and connector in st
// must exist with the same voxel layout.
func (s *Simulation) ImportState(st State) error {
	if s.ctx.inTick.Load() {
		return ErrTickInProgress
	}
	for _, rs := range st.Rooms {
		r, ok := s.roomByID[rs.ID]
		if !ok {
			return fmt.Errorf("import room %q: %w", rs.ID, ErrUnknownRoom)
		}
		if len(rs.Voxels) != len(r.grid) || len(rs.Extra) != len(r.extra) {
			return fmt.Errorf("import room %q: voxel layout mismatch (%d/%d grid, %d/%d extra)",
				rs.ID, len(rs.Voxels), len(r.grid), len(rs.Extra), len(r.extra))
		}
		if rs.Mode == Full && r.pinned {
			return fmt.Errorf("import room %q: %w", rs.ID, ErrPinnedCheap)
		}
	}
	for _, cs := range st.Connectors {
		if _, ok := s.connByID[cs.ID]; !ok {
			return fmt.Errorf("import connector %q: %w", cs.ID, ErrUnknownConnector)
		}
	}
	for _, bs := range st.Bodies {
		if _, ok := s.roomByID[bs.Room]; !ok {
			return fmt.Errorf("import body %q: %w", bs.Body, ErrUnknownRoom)
		}
	}

	for _, rs := range st.Rooms {
		r := s.roomByID[rs.ID]
		r.mode = rs.Mode
		r.atmosphere = rs.Atmosphere
		r.flowMagnitude = rs.FlowMagnitude
		r.avgFlow = rs.AvgFlow
		r.cheapForce = rs.CheapForce
		for i, vs := range rs.Voxels {
			r.grid[i].SetAtmosphere(vs.Atmosphere)
			r.grid[i].SetFlow(vs.Flow)
		}
		for i, vs := range rs.Extra {
			r.extra[i].SetAtmosphere(vs.Atmosphere)
			r.extra[i].SetFlow(vs.Flow)
		}
	}
	for _, cs := range st.Connectors {
		c := s.connByID[cs.ID]
		c.requested = nil
		if cs.Open {
			c.Open()
		} else {
			c.Close()
		}
		c.flow = cs.Flow
	}
	for body, r := range s.owners {
		r.bodyExit(body)
	}
	s.owners = map[BodyID]*Room{}
	for _, bs := range st.Bodies {
		r := s.roomByID[bs.Room]
		s.owners[bs.Body] = r
		r.bodyEnter(bs.Body)
	}
	s.pendingModes = s.pendingModes[:0]
	s.tick = st.Tick
	return nil
}
