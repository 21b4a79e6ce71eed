package flow

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func newTestSim(t *testing.T, mutate func(*Params)) *Simulation {
	t.Helper()
	return NewSimulation(testContext(t, mutate), nil)
}

func mustRoom(t *testing.T, s *Simulation, spec RoomSpec) *Room {
	t.Helper()
	r, err := s.AddRoom(spec)
	if err != nil {
		t.Fatalf("add room %q: %v", spec.ID, err)
	}
	return r
}

func mustConnector(t *testing.T, s *Simulation, spec ConnectorSpec) *Connector {
	t.Helper()
	c, err := s.AddConnector(spec)
	if err != nil {
		t.Fatalf("add connector %q: %v", spec.ID, err)
	}
	return c
}

// adjacency captures every voxel's ordered neighbour list.
func adjacency(rooms ...*Room) map[*Voxel][]*Voxel {
	out := map[*Voxel][]*Voxel{}
	for _, r := range rooms {
		for _, v := range r.Voxels() {
			out[v] = v.Neighbors()
		}
		for _, v := range r.ExtraVoxels() {
			out[v] = v.Neighbors()
		}
	}
	return out
}

func sameAdjacency(a, b map[*Voxel][]*Voxel) bool {
	if len(a) != len(b) {
		return false
	}
	for v, na := range a {
		nb, ok := b[v]
		if !ok || len(na) != len(nb) {
			return false
		}
		for i := range na {
			if na[i] != nb[i] {
				return false
			}
		}
	}
	return true
}

func TestConnector_RejectsRegionWithoutRooms(t *testing.T) {
	s := newTestSim(t, nil)
	mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1})

	c, err := s.AddConnector(ConnectorSpec{ID: "lost", Box: NewBox(mgl64.Vec3{50, 0, 0}, mgl64.Vec3{1, 1, 1}), Open: true})
	if !errors.Is(err, ErrNoRooms) {
		t.Fatalf("expected ErrNoRooms, got %v", err)
	}
	if c != nil || len(s.Connectors()) != 0 {
		t.Fatalf("rejected connector must not be registered")
	}
	diags := s.Diagnostics()
	if len(diags) != 1 || diags[0].Subject != "lost" {
		t.Fatalf("diagnostics = %+v", diags)
	}
	if err := s.Step(0.02); err != nil {
		t.Fatalf("simulation should keep running: %v", err)
	}
}

func TestConnector_IgnoreList(t *testing.T) {
	s := newTestSim(t, nil)
	mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{2, 2, 2})})
	mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2})})

	c := mustConnector(t, s, ConnectorSpec{ID: "vent", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.2, 2, 2}), Ignore: []RoomID{"b"}})
	if c.RoomA().ID() != "a" || c.RoomB() != nil {
		t.Fatalf("ignored room was attached: A=%v B=%v", c.RoomA().ID(), c.RoomB())
	}
}

func TestConnector_AmbientPairs(t *testing.T) {
	s := newTestSim(t, nil)
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1})
	c := mustConnector(t, s, ConnectorSpec{ID: "breach", Box: NewBox(mgl64.Vec3{1.25, 0, 0}, mgl64.Vec3{0.5, 2, 2})})

	if c.RoomB() != nil {
		t.Fatalf("expected ambient connector")
	}
	if c.PairCount() != 4 || len(a.ExtraVoxels()) != 4 {
		t.Fatalf("pairs=%d extra=%d, want 4/4", c.PairCount(), len(a.ExtraVoxels()))
	}
	for _, p := range c.Pairs() {
		if p[0].Position()[0] != 0.5 {
			t.Fatalf("pair uses non-boundary voxel %v", p[0].Position())
		}
		if p[1].Kind() != Constant || math.Abs(p[1].Position()[0]-1) > 1e-9 {
			t.Fatalf("synthetic voxel %v kind %v", p[1].Position(), p[1].Kind())
		}
		if p[0].HasNeighbor(p[1]) {
			t.Fatalf("closed connector must not link pairs")
		}
	}
}

func TestConnector_ToggleRestoresGraph(t *testing.T) {
	s := newTestSim(t, nil)
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1})
	b := mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2})})
	c := mustConnector(t, s, ConnectorSpec{ID: "door", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.2, 2, 2})})

	before := adjacency(a, b)
	pairs := c.PairCount()

	c.Open()
	for _, p := range c.Pairs() {
		if !p[0].HasNeighbor(p[1]) || !p[1].HasNeighbor(p[0]) {
			t.Fatalf("open connector missing edge")
		}
	}
	if sameAdjacency(before, adjacency(a, b)) {
		t.Fatalf("open did not change the graph")
	}
	c.Open()
	c.Close()
	if !sameAdjacency(before, adjacency(a, b)) {
		t.Fatalf("open+close did not restore the graph")
	}
	c.Close()
	if c.PairCount() != pairs {
		t.Fatalf("pair list changed: %d -> %d", pairs, c.PairCount())
	}
}

func TestConnector_CloseKeepsForeignEdges(t *testing.T) {
	s := newTestSim(t, nil)
	mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-0.5, 0, 0}, mgl64.Vec3{1, 1, 1})})
	mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{0.5, 0, 0}, mgl64.Vec3{1, 1, 1})})
	c := mustConnector(t, s, ConnectorSpec{ID: "door", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.1, 1, 1})})
	if c.PairCount() != 1 {
		t.Fatalf("pairs = %d", c.PairCount())
	}
	p := c.Pairs()[0]
	p[0].AddNeighbor(p[1])

	c.Open()
	c.Close()
	if !p[0].HasNeighbor(p[1]) {
		t.Fatalf("close removed an edge the connector did not insert")
	}
}

func TestConnector_PairingBounds(t *testing.T) {
	cases := []struct {
		name      string
		sizeA     mgl64.Vec3
		wantPairs int
	}{
		{"wide A all within range", mgl64.Vec3{2, 4, 4}, 16},
		{"tall A drops far voxels", mgl64.Vec3{2, 8, 2}, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestSim(t, nil)
			a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-1, 0, 0}, tc.sizeA)})
			mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2})})
			c := mustConnector(t, s, ConnectorSpec{ID: "gap", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.2, tc.sizeA[1], tc.sizeA[2]})})

			if c.RoomA() != a {
				t.Fatalf("room A = %v", c.RoomA().ID())
			}
			layerA, _ := c.boundary(a)
			if c.PairCount() > len(layerA) {
				t.Fatalf("pairs %d exceed boundary voxels of A %d", c.PairCount(), len(layerA))
			}
			if c.PairCount() != tc.wantPairs {
				t.Fatalf("pairs = %d, want %d", c.PairCount(), tc.wantPairs)
			}
			seen := map[*Voxel]bool{}
			for _, p := range c.Pairs() {
				if seen[p[0]] {
					t.Fatalf("A voxel paired twice")
				}
				seen[p[0]] = true
				if d := p[0].Position().Sub(p[1].Position()).Len(); d > 1+a.diameter+1e-9 {
					t.Fatalf("pair distance %v out of range", d)
				}
			}
		})
	}
}

func TestConnector_PicksTwoClosestOfThree(t *testing.T) {
	s := newTestSim(t, nil)
	far := mustRoom(t, s, RoomSpec{ID: "c", Box: NewBox(mgl64.Vec3{0, 0, 2}, mgl64.Vec3{2, 2, 2})})
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{2, 2, 2})})
	b := mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2})})

	c := mustConnector(t, s, ConnectorSpec{ID: "junction", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.2, 2, 2})})
	got := map[*Room]bool{c.RoomA(): true, c.RoomB(): true}
	if !got[a] || !got[b] || got[far] {
		t.Fatalf("attached to %v and %v", c.RoomA().ID(), c.RoomB().ID())
	}
	for _, p := range c.Pairs() {
		for _, v := range far.Voxels() {
			if p[0] == v || p[1] == v {
				t.Fatalf("pair uses a voxel of the discarded room")
			}
		}
	}
	var noted bool
	for _, d := range s.Diagnostics() {
		if d.Subject == "junction" && strings.Contains(d.Message, `"c"`) {
			noted = true
		}
	}
	if !noted {
		t.Fatalf("expected a diagnostic about the discarded room, got %+v", s.Diagnostics())
	}
}

func TestConnector_OutflowRate(t *testing.T) {
	s := newTestSim(t, nil)
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1})
	b := mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2}), Atmosphere: 0.5})
	other := mustRoom(t, s, RoomSpec{ID: "x", Box: NewBox(mgl64.Vec3{20, 0, 0}, mgl64.Vec3{2, 2, 2})})
	c := mustConnector(t, s, ConnectorSpec{ID: "door", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.2, 2, 2}), Open: true})

	c.updateCheap()
	want := 0.5 * s.ctx.Params().CheapFlowConstant * float64(c.PairCount()) * a.diameter * a.diameter
	if math.Abs(c.OutflowRate(a)-want) > 1e-12 {
		t.Fatalf("outflow A = %v, want %v", c.OutflowRate(a), want)
	}
	if c.OutflowRate(b) != -c.OutflowRate(a) {
		t.Fatalf("outflow B = %v", c.OutflowRate(b))
	}
	if c.OutflowRate(other) != 0 {
		t.Fatalf("unrelated room outflow = %v", c.OutflowRate(other))
	}
	c.Close()
	if c.OutflowRate(a) != 0 || c.OutflowRate(b) != 0 {
		t.Fatalf("closed connector reports flow")
	}
}

func TestSimulation_RemoveConnector(t *testing.T) {
	s := newTestSim(t, nil)
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1})
	before := adjacency(a)
	c := mustConnector(t, s, ConnectorSpec{ID: "breach", Box: NewBox(mgl64.Vec3{1.25, 0, 0}, mgl64.Vec3{0.5, 2, 2}), Open: true})
	if !c.IsOpen() || len(a.ExtraVoxels()) != 4 {
		t.Fatalf("open=%v extra=%d", c.IsOpen(), len(a.ExtraVoxels()))
	}

	if err := s.RemoveConnector("breach"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(a.ExtraVoxels()) != 0 || len(a.Connectors()) != 0 || len(s.Connectors()) != 0 {
		t.Fatalf("extra=%d room conns=%d sim conns=%d", len(a.ExtraVoxels()), len(a.Connectors()), len(s.Connectors()))
	}
	if !sameAdjacency(before, adjacency(a)) {
		t.Fatalf("graph not restored after removal")
	}
	if _, ok := s.Connector("breach"); ok {
		t.Fatalf("connector still registered")
	}
	if err := s.RemoveConnector("breach"); !errors.Is(err, ErrUnknownConnector) {
		t.Fatalf("second remove: %v", err)
	}
}

func TestConnector_SharedEdgeOutlivesFirstClose(t *testing.T) {
	s := newTestSim(t, nil)
	mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-0.5, 0, 0}, mgl64.Vec3{1, 1, 1})})
	mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{0.5, 0, 0}, mgl64.Vec3{1, 1, 1})})
	outer := mustConnector(t, s, ConnectorSpec{ID: "outer", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.1, 1, 1}), Open: true})
	inner := mustConnector(t, s, ConnectorSpec{ID: "inner", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.2, 1, 1}), Open: true})

	p := outer.Pairs()[0]
	if q := inner.Pairs()[0]; q != p {
		t.Fatalf("connectors paired different voxels")
	}
	if p[0].Degree() != 1 {
		t.Fatalf("shared edge counted %d times", p[0].Degree())
	}

	outer.Close()
	if !p[0].HasNeighbor(p[1]) || !p[1].HasNeighbor(p[0]) {
		t.Fatalf("closing one connector removed an edge still held open by another")
	}
	inner.Close()
	if p[0].HasNeighbor(p[1]) || p[0].Degree() != 0 {
		t.Fatalf("edge survived closing both connectors")
	}
	outer.Open()
	inner.Open()
	if p[0].Degree() != 1 {
		t.Fatalf("degree after reopen = %d", p[0].Degree())
	}
}
