package flow

import (
	"fmt"
	"math"
	"sort"

	"github.com/zyedidia/generic/mapset"
)

type ConnectorID string

type ConnectorSpec struct {
	ID     ConnectorID
	Box    Box
	Open   bool
	Ignore []RoomID
}

type voxelPair struct {
	a, b *Voxel
}

// Connector bridges one room to another room, or to the ambient boundary
// when RoomB is nil. The pair list is fixed at construction; opening and
// closing only add and remove the pair edges.
type Connector struct {
	id  ConnectorID
	seq uint64
	ctx *Context
	box Box

	roomA *Room
	roomB *Room

	open      bool
	requested *bool

	pairs    []voxelPair
	diameter float64
	flow     float64

	ignore mapset.Set[RoomID]
}

// newConnector pairs the region against rooms. seq fixes the position of
// this connector's edges in every voxel's adjacency list. The returned notes
// are non-fatal observations (for example a region touching too many rooms).
func newConnector(ctx *Context, seq uint64, spec ConnectorSpec, rooms []*Room) (*Connector, []string, error) {
	if !spec.Box.valid() {
		return nil, nil, fmt.Errorf("connector %q: %w", spec.ID, ErrEmptyRegion)
	}
	c := &Connector{
		id:     spec.ID,
		seq:    seq,
		ctx:    ctx,
		box:    spec.Box,
		ignore: mapset.New[RoomID](),
	}
	for _, id := range spec.Ignore {
		c.ignore.Put(id)
	}

	var hits []*Room
	for _, r := range rooms {
		if c.ignore.Has(r.id) || !r.box.Intersects(c.box) {
			continue
		}
		hits = append(hits, r)
	}
	var notes []string
	switch {
	case len(hits) == 0:
		return nil, nil, fmt.Errorf("connector %q at %v: %w", spec.ID, spec.Box.Center, ErrNoRooms)
	case len(hits) > 2:
		dist := make(map[*Room]float64, len(hits))
		for _, r := range hits {
			_, d := c.boundary(r)
			dist[r] = d
		}
		sort.SliceStable(hits, func(i, j int) bool { return dist[hits[i]] < dist[hits[j]] })
		for _, r := range hits[2:] {
			notes = append(notes, fmt.Sprintf("connector %q intersects %d rooms; ignoring room %q", spec.ID, len(hits), r.id))
		}
		hits = hits[:2]
	}

	c.roomA = hits[0]
	c.diameter = c.roomA.diameter
	if len(hits) == 2 {
		c.roomB = hits[1]
		c.pairTwoRooms()
	} else {
		c.pairAmbient()
	}
	if len(c.pairs) == 0 {
		notes = append(notes, fmt.Sprintf("connector %q produced no voxel pairs", spec.ID))
	}

	c.roomA.addConnector(c)
	if c.roomB != nil {
		c.roomB.addConnector(c)
	}
	if spec.Open {
		c.Open()
	}
	return c, notes, nil
}

// boundary returns the room's grid voxels in the layer nearest to the
// connector region, plus the distance of that layer.
func (c *Connector) boundary(r *Room) ([]*Voxel, float64) {
	dists := make([]float64, len(r.grid))
	closest := math.Inf(1)
	for i, v := range r.grid {
		dists[i] = c.box.Distance(v.position)
		if dists[i] < closest {
			closest = dists[i]
		}
	}
	limit := closest + 0.5*r.diameter
	var out []*Voxel
	for i, v := range r.grid {
		if dists[i] <= limit {
			out = append(out, v)
		}
	}
	return out, closest
}

func (c *Connector) pairAmbient() {
	layer, _ := c.boundary(c.roomA)
	for _, v := range layer {
		amb := NewConstVoxel(c.ctx, c.box.ClosestPoint(v.position), AmbientSource())
		c.roomA.addExtraVoxel(amb)
		c.pairs = append(c.pairs, voxelPair{a: v, b: amb})
	}
}

// pairTwoRooms matches each boundary voxel of A with its nearest boundary
// voxel of B. Ties go to the candidate scanned last. A voxels whose nearest
// candidate is more than one voxel diameter farther than the best match
// overall are left unpaired.
func (c *Connector) pairTwoRooms() {
	layerA, _ := c.boundary(c.roomA)
	candidates, _ := c.boundary(c.roomB)

	best := math.Inf(1)
	nearest := make([]*Voxel, len(layerA))
	nearestDist := make([]float64, len(layerA))
	for i, a := range layerA {
		nearestDist[i] = math.Inf(1)
		for _, b := range candidates {
			d := a.position.Sub(b.position).Len()
			if d <= nearestDist[i] {
				nearestDist[i] = d
				nearest[i] = b
			}
		}
		if nearestDist[i] < best {
			best = nearestDist[i]
		}
	}
	limit := best + c.diameter + 1e-9
	for i, a := range layerA {
		if nearest[i] == nil || nearestDist[i] > limit {
			continue
		}
		c.pairs = append(c.pairs, voxelPair{a: a, b: nearest[i]})
	}
}

func (c *Connector) ID() ConnectorID { return c.id }
func (c *Connector) Box() Box        { return c.box }
func (c *Connector) RoomA() *Room    { return c.roomA }

// RoomB is nil when the connector leads to the ambient boundary.
func (c *Connector) RoomB() *Room { return c.roomB }

func (c *Connector) IsOpen() bool      { return c.open }
func (c *Connector) PairCount() int    { return len(c.pairs) }
func (c *Connector) CheapFlow() float64 { return c.flow }

// Pairs returns the (A, B) voxel pairs in construction order.
func (c *Connector) Pairs() [][2]*Voxel {
	out := make([][2]*Voxel, len(c.pairs))
	for i, p := range c.pairs {
		out[i] = [2]*Voxel{p.a, p.b}
	}
	return out
}

// Open bridges every pair. Opening an open connector does nothing.
func (c *Connector) Open() {
	if c.open {
		return
	}
	c.open = true
	for i, p := range c.pairs {
		p.a.bridgeTo(p.b, bridgeKey{conn: c.seq, pair: i})
	}
}

// Close drops this connector's bridges. An edge shared with another open
// connector, or added with AddNeighbor, stays in place.
func (c *Connector) Close() {
	if !c.open {
		return
	}
	c.open = false
	c.flow = 0
	for i, p := range c.pairs {
		p.a.unbridge(p.b, bridgeKey{conn: c.seq, pair: i})
	}
}

// teardown closes c and drops the ambient voxels it created.
func (c *Connector) teardown() {
	c.Close()
	c.requested = nil
	if c.roomB == nil {
		for _, p := range c.pairs {
			p.b.detach()
			c.roomA.removeExtraVoxel(p.b)
		}
	}
	c.roomA.removeConnector(c)
	if c.roomB != nil {
		c.roomB.removeConnector(c)
	}
	c.pairs = nil
}

// RequestOpen queues an open for the next topology settle.
func (c *Connector) RequestOpen() { c.request(true) }

// RequestClose queues a close for the next topology settle.
func (c *Connector) RequestClose() { c.request(false) }

func (c *Connector) request(open bool) { c.requested = &open }

func (c *Connector) settle() bool {
	if c.requested == nil {
		return false
	}
	want := *c.requested
	c.requested = nil
	if want == c.open {
		return false
	}
	if want {
		c.Open()
	} else {
		c.Close()
	}
	return true
}

// updateCheap estimates the connector flow from the room aggregates and
// mirrors Cheap rooms onto their side of the pairs, so a Full neighbour sees
// the aggregate state at the boundary.
func (c *Connector) updateCheap() {
	if !c.open {
		c.flow = 0
		return
	}
	other := c.ctx.Ambient()
	if c.roomB != nil {
		other = c.roomB.atmosphere
	}
	area := float64(len(c.pairs)) * c.diameter * c.diameter
	c.flow = (c.roomA.atmosphere - other) * c.ctx.params.CheapFlowConstant * area

	if c.roomA.mode == Cheap {
		for _, p := range c.pairs {
			p.a.SetAtmosphere(c.roomA.atmosphere)
			p.a.SetFlow(c.roomA.cheapForce)
		}
	}
	if c.roomB != nil && c.roomB.mode == Cheap {
		for _, p := range c.pairs {
			p.b.SetAtmosphere(c.roomB.atmosphere)
			p.b.SetFlow(c.roomB.cheapForce)
		}
	}
}

// OutflowRate is the cheap flow leaving room r through this connector.
func (c *Connector) OutflowRate(r *Room) float64 {
	if !c.open || r == nil {
		return 0
	}
	switch r {
	case c.roomA:
		return c.flow
	case c.roomB:
		return -c.flow
	default:
		return 0
	}
}
