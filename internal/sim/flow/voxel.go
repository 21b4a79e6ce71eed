package flow

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// VoxelKind selects how a voxel's atmosphere evolves.
type VoxelKind uint8

const (
	// Diffusing voxels blend toward their neighbours every step.
	Diffusing VoxelKind = iota
	// Constant voxels hold a fixed atmosphere (vacuum, vent, outside boundary)
	// but still act as neighbours in the diffusion of others.
	Constant
)

func (k VoxelKind) String() string {
	switch k {
	case Diffusing:
		return "DIFFUSING"
	case Constant:
		return "CONSTANT"
	default:
		return "UNKNOWN"
	}
}

// ConstSource is where a Constant voxel takes its atmosphere from.
type ConstSource struct {
	Ambient bool
	Value   float64
}

func Literal(v float64) ConstSource { return ConstSource{Value: v} }

func AmbientSource() ConstSource { return ConstSource{Ambient: true} }

const weightBaseline = 0.0001

// Voxel is a node of the diffusion graph.
//
// The visible state (atmosphere, flow) only changes in Commit. ComputeNext
// reads neighbours' visible state and writes the pending buffer, so all
// ComputeNext calls of a tick may run in any order, or concurrently for
// disjoint voxels.
type Voxel struct {
	ctx *Context

	kind   VoxelKind
	source ConstSource

	position   mgl64.Vec3
	atmosphere float64
	flow       mgl64.Vec3

	targetNext float64
	flowNext   mgl64.Vec3

	// neighbors holds the fixed edges (grid and AddNeighbor), bridges the
	// connector edges sorted by key. adj is the list ComputeNext sums over:
	// neighbors, then each distinct bridged voxel not already present.
	neighbors []*Voxel
	bridges   []bridge
	adj       []*Voxel
}

// bridgeKey orders connector edges by connector sequence, then pair index,
// so the summation order depends only on which connectors are open.
type bridgeKey struct {
	conn uint64
	pair int
}

func (k bridgeKey) less(o bridgeKey) bool {
	if k.conn != o.conn {
		return k.conn < o.conn
	}
	return k.pair < o.pair
}

type bridge struct {
	key bridgeKey
	n   *Voxel
}

func NewVoxel(ctx *Context, position mgl64.Vec3, atmosphere float64) *Voxel {
	return &Voxel{
		ctx:        ctx,
		kind:       Diffusing,
		position:   position,
		atmosphere: atmosphere,
		targetNext: atmosphere,
	}
}

func NewConstVoxel(ctx *Context, position mgl64.Vec3, src ConstSource) *Voxel {
	v := &Voxel{
		ctx:      ctx,
		kind:     Constant,
		source:   src,
		position: position,
	}
	v.atmosphere = v.Atmosphere()
	v.targetNext = v.atmosphere
	return v
}

func (v *Voxel) Kind() VoxelKind      { return v.kind }
func (v *Voxel) Position() mgl64.Vec3 { return v.position }
func (v *Voxel) Flow() mgl64.Vec3     { return v.flow }

func (v *Voxel) Atmosphere() float64 {
	switch v.kind {
	case Constant:
		if v.source.Ambient {
			return v.ctx.Ambient()
		}
		return v.source.Value
	default:
		return v.atmosphere
	}
}

// SetAtmosphere overwrites a diffusing voxel's atmosphere. It is a no-op for
// constant voxels.
func (v *Voxel) SetAtmosphere(a float64) {
	switch v.kind {
	case Constant:
		return
	default:
		v.atmosphere = a
		v.targetNext = a
	}
}

// SetFlow overwrites the visible flow vector. Used when a cheap room mirrors
// its aggregate onto connector boundary voxels.
func (v *Voxel) SetFlow(f mgl64.Vec3) {
	v.flow = f
	v.flowNext = f
}

// ComputeNext buffers the weighted neighbour target and the flow vector for
// this step. A voxel without neighbours keeps its atmosphere and has no flow.
func (v *Voxel) ComputeNext(dt float64) {
	self := v.Atmosphere()
	var (
		sumWeights float64
		weighted   float64
		netFlow    mgl64.Vec3
	)
	for _, n := range v.adj {
		w := weightBaseline + n.flow.Len()
		a := n.Atmosphere()
		weighted += w * a
		sumWeights += w
		// positive diff = inflow
		netFlow = netFlow.Add(v.position.Sub(n.position).Mul(w * (a - self)))
	}
	if sumWeights == 0 || math.IsNaN(sumWeights) {
		v.flowNext = mgl64.Vec3{}
		v.targetNext = self
		return
	}
	v.flowNext = netFlow.Mul(v.ctx.params.FlowVectorConstant * dt / sumWeights)
	v.targetNext = weighted / sumWeights
}

// Commit blends the buffered target into the visible atmosphere.
func (v *Voxel) Commit(dt float64) {
	v.flow = v.flowNext
	switch v.kind {
	case Constant:
		return
	default:
		m := math.Min(1, v.ctx.params.FlowRateConstant*dt)
		v.atmosphere = (1-m)*v.atmosphere + m*v.targetNext
	}
}

// AddNeighbor links v and n in both directions. It reports whether the
// fixed edge set changed.
func (v *Voxel) AddNeighbor(n *Voxel) bool {
	if !v.link(n) {
		return false
	}
	n.link(v)
	return true
}

// RemoveNeighbor unlinks an edge added with AddNeighbor. Connector edges are
// left alone. It reports whether the fixed edge set changed.
func (v *Voxel) RemoveNeighbor(n *Voxel) bool {
	if !v.unlink(n) {
		return false
	}
	n.unlink(v)
	return true
}

func (v *Voxel) HasNeighbor(n *Voxel) bool {
	for _, x := range v.adj {
		if x == n {
			return true
		}
	}
	return false
}

func (v *Voxel) Degree() int { return len(v.adj) }

// Neighbors returns a copy of the adjacency list in summation order.
func (v *Voxel) Neighbors() []*Voxel {
	out := make([]*Voxel, len(v.adj))
	copy(out, v.adj)
	return out
}

// link adds n to v's fixed list only.
func (v *Voxel) link(n *Voxel) bool {
	if n == nil || n == v {
		return false
	}
	for _, x := range v.neighbors {
		if x == n {
			return false
		}
	}
	v.neighbors = append(v.neighbors, n)
	v.rebuild()
	return true
}

// unlink removes n from v's fixed list only, preserving the order of the rest.
func (v *Voxel) unlink(n *Voxel) bool {
	for i, x := range v.neighbors {
		if x == n {
			v.neighbors = append(v.neighbors[:i], v.neighbors[i+1:]...)
			v.rebuild()
			return true
		}
	}
	return false
}

// bridgeTo records a connector edge in both directions. Several connectors
// may bridge the same pair; the edge lasts until the last one is removed.
func (v *Voxel) bridgeTo(n *Voxel, k bridgeKey) {
	if n == nil || n == v {
		return
	}
	v.insertBridge(bridge{key: k, n: n})
	n.insertBridge(bridge{key: k, n: v})
}

// unbridge drops the connector edge recorded under k in both directions.
func (v *Voxel) unbridge(n *Voxel, k bridgeKey) {
	v.removeBridge(bridge{key: k, n: n})
	n.removeBridge(bridge{key: k, n: v})
}

func (v *Voxel) insertBridge(b bridge) {
	i := sort.Search(len(v.bridges), func(i int) bool { return b.key.less(v.bridges[i].key) })
	v.bridges = append(v.bridges, bridge{})
	copy(v.bridges[i+1:], v.bridges[i:])
	v.bridges[i] = b
	v.rebuild()
}

func (v *Voxel) removeBridge(b bridge) {
	for i, x := range v.bridges {
		if x == b {
			v.bridges = append(v.bridges[:i], v.bridges[i+1:]...)
			v.rebuild()
			return
		}
	}
}

func (v *Voxel) rebuild() {
	v.adj = append(v.adj[:0], v.neighbors...)
	for _, b := range v.bridges {
		seen := false
		for _, x := range v.adj {
			if x == b.n {
				seen = true
				break
			}
		}
		if !seen {
			v.adj = append(v.adj, b.n)
		}
	}
}

// detach drops every edge touching v. Used when a connector's ambient voxels
// are torn down.
func (v *Voxel) detach() {
	for _, n := range v.neighbors {
		n.unlink(v)
	}
	for _, b := range v.bridges {
		n := b.n
		n.removeBridge(bridge{key: b.key, n: v})
	}
	v.neighbors = nil
	v.bridges = nil
	v.adj = nil
}
