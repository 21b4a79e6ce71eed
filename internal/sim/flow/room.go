package flow

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zyedidia/generic/mapset"
)

type Mode uint8

const (
	Full Mode = iota
	Cheap
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "FULL"
	case Cheap:
		return "CHEAP"
	default:
		return "UNKNOWN"
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "FULL", "full", "":
		return Full, nil
	case "CHEAP", "cheap":
		return Cheap, nil
	default:
		return Full, fmt.Errorf("flow: unknown mode %q", s)
	}
}

type RoomID string

// BodyID names an external rigid body tracked by containment events.
type BodyID string

type RoomSpec struct {
	ID         RoomID
	Box        Box
	Atmosphere float64
	Mode       Mode
	// PinCheap keeps the room in Cheap mode for its whole lifetime.
	PinCheap bool
}

// Room owns a voxel grid filling an oriented box. In Full mode every voxel
// diffuses; in Cheap mode only the aggregate atmosphere is tracked.
type Room struct {
	id  RoomID
	ctx *Context
	box Box

	diameter float64
	dims     [3]int
	grid     []*Voxel // x fastest, then y, then z
	extra    []*Voxel

	mode   Mode
	pinned bool

	atmosphere    float64
	flowMagnitude float64
	avgFlow       float64
	cheapForce    mgl64.Vec3

	connectors []*Connector
	bodies     mapset.Set[BodyID]
}

// NewRoom voxelises the box using the context's current voxel radius.
func NewRoom(ctx *Context, spec RoomSpec) (*Room, error) {
	if !spec.Box.valid() {
		return nil, fmt.Errorf("room %q: %w", spec.ID, ErrEmptyRegion)
	}
	mode := spec.Mode
	if spec.PinCheap {
		mode = Cheap
	}
	r := &Room{
		id:         spec.ID,
		ctx:        ctx,
		box:        spec.Box,
		diameter:   ctx.params.VoxelDiameter(),
		mode:       mode,
		pinned:     spec.PinCheap,
		atmosphere: spec.Atmosphere,
		bodies:     mapset.New[BodyID](),
	}
	r.buildGrid(spec.Atmosphere)
	return r, nil
}

func (r *Room) buildGrid(atmo float64) {
	for i := 0; i < 3; i++ {
		n := int(math.Floor(r.box.Size[i]/r.diameter + 1e-9))
		if n < 1 {
			n = 1
		}
		r.dims[i] = n
	}
	nx, ny, nz := r.dims[0], r.dims[1], r.dims[2]
	r.grid = make([]*Voxel, nx*ny*nz)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				v := NewVoxel(r.ctx, r.box.ToWorld(r.cellCenter(i, j, k)), atmo)
				r.grid[r.index(i, j, k)] = v
				if i > 0 {
					v.AddNeighbor(r.grid[r.index(i-1, j, k)])
				}
				if j > 0 {
					v.AddNeighbor(r.grid[r.index(i, j-1, k)])
				}
				if k > 0 {
					v.AddNeighbor(r.grid[r.index(i, j, k-1)])
				}
			}
		}
	}
}

func (r *Room) index(i, j, k int) int { return i + r.dims[0]*(j+r.dims[1]*k) }

// cellCenter is the room-local center of a grid cell. The grid is centred in
// the box, leaving an equal margin on both sides of each axis.
func (r *Room) cellCenter(i, j, k int) mgl64.Vec3 {
	idx := [3]int{i, j, k}
	var out mgl64.Vec3
	for a := 0; a < 3; a++ {
		out[a] = -float64(r.dims[a])*r.diameter/2 + (float64(idx[a])+0.5)*r.diameter
	}
	return out
}

// cellAt maps a room-local point to the grid cell containing it. Points in
// the margin map to the edge cell.
func (r *Room) cellAt(local mgl64.Vec3) *Voxel {
	var idx [3]int
	for a := 0; a < 3; a++ {
		n := int(math.Floor((local[a] + float64(r.dims[a])*r.diameter/2) / r.diameter))
		if n < 0 {
			n = 0
		}
		if n >= r.dims[a] {
			n = r.dims[a] - 1
		}
		idx[a] = n
	}
	return r.grid[r.index(idx[0], idx[1], idx[2])]
}

func (r *Room) ID() RoomID          { return r.id }
func (r *Room) Box() Box            { return r.box }
func (r *Room) Mode() Mode          { return r.mode }
func (r *Room) Pinned() bool        { return r.pinned }
func (r *Room) Dims() [3]int        { return r.dims }
func (r *Room) Volume() float64     { return r.box.Volume() }
func (r *Room) Atmosphere() float64 { return r.atmosphere }

// FlowMagnitude is the summed grid flow in Full mode and the magnitude of the
// uniform cheap force in Cheap mode.
func (r *Room) FlowMagnitude() float64 { return r.flowMagnitude }

func (r *Room) AvgFlowMagnitude() float64 { return r.avgFlow }

func (r *Room) CheapForce() mgl64.Vec3 { return r.cheapForce }

// Voxels returns the grid voxels, x fastest.
func (r *Room) Voxels() []*Voxel { return r.grid }

func (r *Room) ExtraVoxels() []*Voxel { return r.extra }

func (r *Room) VoxelAt(i, j, k int) (*Voxel, bool) {
	if i < 0 || j < 0 || k < 0 || i >= r.dims[0] || j >= r.dims[1] || k >= r.dims[2] {
		return nil, false
	}
	return r.grid[r.index(i, j, k)], true
}

func (r *Room) RandomVoxel(rng *rand.Rand) *Voxel {
	return r.grid[rng.IntN(len(r.grid))]
}

func (r *Room) Connectors() []*Connector { return r.connectors }

// Bodies returns the owned bodies in sorted order.
func (r *Room) Bodies() []BodyID {
	out := make([]BodyID, 0, r.bodies.Size())
	r.bodies.Each(func(b BodyID) { out = append(out, b) })
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Room) Owns(b BodyID) bool { return r.bodies.Has(b) }

func (r *Room) addExtraVoxel(v *Voxel) { r.extra = append(r.extra, v) }

func (r *Room) addConnector(c *Connector) { r.connectors = append(r.connectors, c) }

func (r *Room) removeConnector(c *Connector) {
	for i, x := range r.connectors {
		if x == c {
			r.connectors = append(r.connectors[:i], r.connectors[i+1:]...)
			return
		}
	}
}

func (r *Room) removeExtraVoxel(v *Voxel) {
	for i, x := range r.extra {
		if x == v {
			r.extra = append(r.extra[:i], r.extra[i+1:]...)
			return
		}
	}
}

// SetMode switches fidelity. Entering Full reseeds every voxel with the last
// aggregate; entering Cheap only flips the flag.
func (r *Room) SetMode(m Mode) error {
	if m == r.mode {
		return nil
	}
	if m == Full && r.pinned {
		return fmt.Errorf("room %q: %w", r.id, ErrPinnedCheap)
	}
	r.mode = m
	if m == Full {
		for _, v := range r.grid {
			v.SetAtmosphere(r.atmosphere)
			v.SetFlow(mgl64.Vec3{})
		}
		for _, v := range r.extra {
			v.SetAtmosphere(r.atmosphere)
		}
	}
	return nil
}

// Tick advances the room on its own. Rooms that share edges with other
// Full rooms must be stepped through Simulation so computes and commits of
// the whole graph stay separated.
func (r *Room) Tick(dt float64) {
	switch r.mode {
	case Full:
		r.snapshot()
		r.compute(dt)
		r.commit(dt)
	case Cheap:
		r.tickCheap(dt)
	}
}

// snapshot refreshes the aggregate values from the committed grid state.
func (r *Room) snapshot() {
	var atmo, flow float64
	for _, v := range r.grid {
		atmo += v.Atmosphere()
		flow += v.Flow().Len()
	}
	n := float64(len(r.grid))
	r.atmosphere = atmo / n
	r.flowMagnitude = flow
	r.avgFlow = flow / n
}

func (r *Room) compute(dt float64) {
	for _, v := range r.grid {
		v.ComputeNext(dt)
	}
	for _, v := range r.extra {
		v.ComputeNext(dt)
	}
}

func (r *Room) commit(dt float64) {
	for _, v := range r.grid {
		v.Commit(dt)
	}
	for _, v := range r.extra {
		v.Commit(dt)
	}
}

func (r *Room) tickCheap(dt float64) {
	p := r.ctx.params
	var net float64
	var force mgl64.Vec3
	for _, c := range r.connectors {
		out := c.OutflowRate(r)
		net += out
		force = force.Add(c.box.Center.Sub(r.box.Center).Mul(out * p.CheapFlowForceConstant))
	}
	r.atmosphere -= p.CheapAtmoDeltaConstant * net * dt / r.Volume()
	r.cheapForce = force
	r.flowMagnitude = force.Len()
	r.avgFlow = r.flowMagnitude
}

// ForceAt returns the flow force at a world point. ok is false when the point
// lies outside the room.
func (r *Room) ForceAt(p mgl64.Vec3) (mgl64.Vec3, bool) {
	if !r.box.Contains(p) {
		return mgl64.Vec3{}, false
	}
	switch r.mode {
	case Cheap:
		return r.cheapForce, true
	default:
		v := r.cellAt(r.box.ToLocal(p))
		return v.Flow().Mul(r.ctx.params.FlowForceConstant), true
	}
}

func (r *Room) AtmosphereAt(p mgl64.Vec3) (float64, bool) {
	if !r.box.Contains(p) {
		return 0, false
	}
	switch r.mode {
	case Cheap:
		return r.atmosphere, true
	default:
		return r.cellAt(r.box.ToLocal(p)).Atmosphere(), true
	}
}

func (r *Room) bodyEnter(b BodyID) { r.bodies.Put(b) }
func (r *Room) bodyExit(b BodyID)  { r.bodies.Remove(b) }
