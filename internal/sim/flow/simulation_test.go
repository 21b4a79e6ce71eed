package flow

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestSimulation_TwoRoomConvergence(t *testing.T) {
	s := newTestSim(t, func(p *Params) { p.FlowRateConstant = 1 })
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-0.5, 0, 0}, mgl64.Vec3{1, 1, 1}), Atmosphere: 1})
	b := mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{0.5, 0, 0}, mgl64.Vec3{1, 1, 1}), Atmosphere: 0})
	c := mustConnector(t, s, ConnectorSpec{ID: "door", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.1, 1, 1}), Open: true})
	if c.PairCount() != 1 || len(a.ExtraVoxels())+len(b.ExtraVoxels()) != 0 {
		t.Fatalf("unexpected topology: pairs=%d", c.PairCount())
	}

	va, vb := a.Voxels()[0], b.Voxels()[0]
	prev := math.Abs(va.Atmosphere() - vb.Atmosphere())
	for i := 0; i < 40; i++ {
		if err := s.Step(0.25); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		diff := math.Abs(va.Atmosphere() - vb.Atmosphere())
		if diff >= prev {
			t.Fatalf("step %d: difference did not shrink (%v -> %v)", i, prev, diff)
		}
		prev = diff
		if sum := va.Atmosphere() + vb.Atmosphere(); math.Abs(sum-1) > 1e-12 {
			t.Fatalf("step %d: total atmosphere %v, expected no leakage", i, sum)
		}
	}
	if prev > 1e-9 {
		t.Fatalf("did not converge: %v", prev)
	}
}

func TestSimulation_CheapModeExactDelta(t *testing.T) {
	s := newTestSim(t, nil)
	r := mustRoom(t, s, RoomSpec{ID: "r", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1, Mode: Cheap})
	c := mustConnector(t, s, ConnectorSpec{ID: "hole", Box: NewBox(mgl64.Vec3{1.25, 0, 0}, mgl64.Vec3{0.5, 2, 2}), Open: true})

	p := s.ctx.Params()
	const dt = 0.1
	for i := 0; i < 5; i++ {
		before := r.Atmosphere()
		if err := s.Step(dt); err != nil {
			t.Fatalf("step: %v", err)
		}
		k := c.OutflowRate(r)
		if i == 0 && k != 4 {
			t.Fatalf("first tick outflow = %v, want 4", k)
		}
		want := before - p.CheapAtmoDeltaConstant*k*dt/r.Volume()
		if r.Atmosphere() != want {
			t.Fatalf("tick %d: atmosphere %v, want %v", i, r.Atmosphere(), want)
		}
	}

	dir := c.Box().Center.Sub(r.Box().Center)
	if r.CheapForce().Dot(dir) <= 0 {
		t.Fatalf("cheap force %v should point towards the breach", r.CheapForce())
	}
	if f, ok := r.ForceAt(mgl64.Vec3{0.3, -0.2, 0.1}); !ok || f != r.CheapForce() {
		t.Fatalf("cheap ForceAt = %v %v", f, ok)
	}
	if r.FlowMagnitude() != r.CheapForce().Len() {
		t.Fatalf("cheap flow magnitude %v", r.FlowMagnitude())
	}
}

func TestSimulation_CheapRoomMirrorsBoundary(t *testing.T) {
	s := newTestSim(t, nil)
	mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{2, 2, 2}), Atmosphere: 0})
	b := mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1, PinCheap: true})
	c := mustConnector(t, s, ConnectorSpec{ID: "door", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.2, 2, 2}), Open: true})

	b.atmosphere = 0.8
	if err := s.Step(0.02); err != nil {
		t.Fatalf("step: %v", err)
	}
	for _, p := range c.Pairs() {
		if p[1].Atmosphere() != 0.8 {
			t.Fatalf("cheap side voxel = %v, want mirrored 0.8", p[1].Atmosphere())
		}
		if p[0].Atmosphere() <= 0 {
			t.Fatalf("full side did not receive atmosphere")
		}
	}
	if b.Atmosphere() >= 0.8 {
		t.Fatalf("cheap room should drain into the emptier room, got %v", b.Atmosphere())
	}
}

func TestSimulation_QueuedRequestsSettleAtStep(t *testing.T) {
	s := newTestSim(t, nil)
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1})
	mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2})})
	c := mustConnector(t, s, ConnectorSpec{ID: "door", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{0.2, 2, 2})})

	if err := s.RequestConnector("door", true); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := s.RequestMode("a", Cheap); err != nil {
		t.Fatalf("request mode: %v", err)
	}
	if c.IsOpen() || a.Mode() != Full {
		t.Fatalf("requests applied before the tick")
	}
	if err := s.Step(0.02); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.IsOpen() || a.Mode() != Cheap {
		t.Fatalf("requests not applied: open=%v mode=%v", c.IsOpen(), a.Mode())
	}

	if err := s.RequestConnector("nope", true); !errors.Is(err, ErrUnknownConnector) {
		t.Fatalf("expected ErrUnknownConnector, got %v", err)
	}
	if err := s.RequestMode("nope", Full); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
}

func TestSimulation_PinnedRoomRejectsFull(t *testing.T) {
	s := newTestSim(t, nil)
	mustRoom(t, s, RoomSpec{ID: "hangar", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{4, 4, 4}), PinCheap: true})
	if err := s.RequestMode("hangar", Full); !errors.Is(err, ErrPinnedCheap) {
		t.Fatalf("RequestMode: %v", err)
	}
	if err := s.SetMode("hangar", Full); !errors.Is(err, ErrPinnedCheap) {
		t.Fatalf("SetMode: %v", err)
	}
}

func TestSimulation_NoReconfigureDuringTick(t *testing.T) {
	s := newTestSim(t, nil)
	mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1})})

	if !s.ctx.beginTick() {
		t.Fatalf("beginTick")
	}
	if err := s.ctx.Reconfigure(DefaultParams()); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("Reconfigure: %v", err)
	}
	if err := s.Step(0.02); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("Step: %v", err)
	}
	if err := s.SetConnector("x", true); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("SetConnector: %v", err)
	}
	s.ctx.endTick()

	if err := s.ctx.Reconfigure(DefaultParams()); err != nil {
		t.Fatalf("Reconfigure after tick: %v", err)
	}
}

func TestSimulation_BodyOwnership(t *testing.T) {
	s := newTestSim(t, nil)
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{2, 2, 2})})
	b := mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2})})

	if err := s.OnBodyEnter("a", "crate"); err != nil {
		t.Fatalf("enter a: %v", err)
	}
	if owner, ok := s.OwnerOf("crate"); !ok || owner != a {
		t.Fatalf("owner = %v %v", owner, ok)
	}
	// Enter b before the exit from a arrives.
	if err := s.OnBodyEnter("b", "crate"); err != nil {
		t.Fatalf("enter b: %v", err)
	}
	if a.Owns("crate") || !b.Owns("crate") {
		t.Fatalf("ownership not transferred")
	}
	if err := s.OnBodyExit("a", "crate"); err != nil {
		t.Fatalf("exit a: %v", err)
	}
	if owner, ok := s.OwnerOf("crate"); !ok || owner != b {
		t.Fatalf("late exit from a cleared owner b")
	}
	if err := s.OnBodyExit("b", "crate"); err != nil {
		t.Fatalf("exit b: %v", err)
	}
	if _, ok := s.OwnerOf("crate"); ok || len(b.Bodies()) != 0 {
		t.Fatalf("body still owned after exit")
	}
	if err := s.OnBodyEnter("nowhere", "crate"); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
}

func TestSimulation_BodyForces(t *testing.T) {
	s := newTestSim(t, nil)
	a := mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{2, 2, 2})})
	a.Voxels()[0].SetFlow(mgl64.Vec3{1, 0, 0})
	_ = s.OnBodyEnter("a", "p1")
	_ = s.OnBodyEnter("a", "p2")
	_ = s.OnBodyEnter("a", "ghost")

	pos := map[BodyID]mgl64.Vec3{
		"p1": {-0.5, -0.5, -0.5},
		"p2": {5, 5, 5},
	}
	forces := s.BodyForces(func(b BodyID) (mgl64.Vec3, bool) {
		p, ok := pos[b]
		return p, ok
	})
	if len(forces) != 1 {
		t.Fatalf("forces = %v", forces)
	}
	if f := forces["p1"]; f[0] != s.ctx.Params().FlowForceConstant {
		t.Fatalf("p1 force = %v", f)
	}

	f, r, ok := s.ForceAt(mgl64.Vec3{-0.5, -0.5, -0.5})
	if !ok || r != a || f != forces["p1"] {
		t.Fatalf("ForceAt = %v %v %v", f, r, ok)
	}
	if _, _, ok := s.ForceAt(mgl64.Vec3{9, 9, 9}); ok {
		t.Fatalf("point outside every room found")
	}
}

func buildStation(t *testing.T, workers int) *Simulation {
	t.Helper()
	s := newTestSim(t, func(p *Params) {
		p.ComputeWorkers = workers
		p.AmbientAtmosphere = 0.05
	})
	mustRoom(t, s, RoomSpec{ID: "bridge", Box: NewBox(mgl64.Vec3{-2, 0, 0}, mgl64.Vec3{4, 3, 3}), Atmosphere: 1})
	mustRoom(t, s, RoomSpec{ID: "corridor", Box: NewBoxEuler(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 3, 3}, mgl64.Vec3{0, 0, 0}), Atmosphere: 0.6})
	mustRoom(t, s, RoomSpec{ID: "cargo", Box: NewBox(mgl64.Vec3{5, 0, 0}, mgl64.Vec3{6, 3, 3}), Atmosphere: 0.3, PinCheap: true})
	mustRoom(t, s, RoomSpec{ID: "lab", Box: NewBox(mgl64.Vec3{1, 3, 0}, mgl64.Vec3{2, 3, 3}), Atmosphere: 0.9})
	mustConnector(t, s, ConnectorSpec{ID: "d1", Box: NewBox(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0.2, 2, 2}), Open: true})
	mustConnector(t, s, ConnectorSpec{ID: "d2", Box: NewBox(mgl64.Vec3{2, 0, 0}, mgl64.Vec3{0.2, 2, 2}), Open: true})
	mustConnector(t, s, ConnectorSpec{ID: "hatch", Box: NewBox(mgl64.Vec3{1, 1.5, 0}, mgl64.Vec3{1, 0.2, 1})})
	mustConnector(t, s, ConnectorSpec{ID: "hull", Box: NewBox(mgl64.Vec3{-4.25, 0, 0}, mgl64.Vec3{0.5, 2, 2})})
	return s
}

func TestSimulation_DeterministicDigest(t *testing.T) {
	serial := buildStation(t, 1)
	parallel := buildStation(t, 4)
	if serial.Digest() != parallel.Digest() {
		t.Fatalf("initial digests differ")
	}
	for tick := 0; tick < 60; tick++ {
		for _, s := range []*Simulation{serial, parallel} {
			switch tick {
			case 10:
				_ = s.RequestConnector("hatch", true)
			case 20:
				_ = s.RequestConnector("hull", true)
				_ = s.RequestMode("lab", Cheap)
			case 40:
				_ = s.RequestConnector("d1", false)
				_ = s.RequestMode("lab", Full)
			}
			if err := s.Step(0.02); err != nil {
				t.Fatalf("step: %v", err)
			}
		}
		if d1, d2 := serial.Digest(), parallel.Digest(); d1 != d2 {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", tick, d1, d2)
		}
	}
	for _, r := range serial.Rooms() {
		for _, v := range r.Voxels() {
			if math.IsNaN(v.Atmosphere()) || math.IsInf(v.Atmosphere(), 0) {
				t.Fatalf("room %s has non-finite voxel", r.ID())
			}
		}
	}
}

func TestSimulation_StateRoundTrip(t *testing.T) {
	src := buildStation(t, 1)
	for i := 0; i < 15; i++ {
		if i == 5 {
			_ = src.RequestConnector("hull", true)
		}
		_ = src.Step(0.02)
	}
	_ = src.OnBodyEnter("bridge", "crew-1")

	dst := buildStation(t, 1)
	if err := dst.ImportState(src.ExportState()); err != nil {
		t.Fatalf("import: %v", err)
	}
	if src.Digest() != dst.Digest() {
		t.Fatalf("digest differs after import")
	}
	for i := 0; i < 10; i++ {
		_ = src.Step(0.02)
		_ = dst.Step(0.02)
	}
	if src.Digest() != dst.Digest() {
		t.Fatalf("digest diverged after import")
	}

	bad := src.ExportState()
	bad.Rooms[0].Voxels = bad.Rooms[0].Voxels[:1]
	if err := dst.ImportState(bad); err == nil {
		t.Fatalf("expected layout mismatch error")
	}
}

// buildCorner joins room a to b along +x and to c along +y, so the voxels in
// a's +x+y column are bridged by both doors.
func buildCorner(t *testing.T) *Simulation {
	t.Helper()
	s := newTestSim(t, nil)
	mustRoom(t, s, RoomSpec{ID: "a", Box: NewBox(mgl64.Vec3{}, mgl64.Vec3{2, 2, 2}), Atmosphere: 1})
	mustRoom(t, s, RoomSpec{ID: "b", Box: NewBox(mgl64.Vec3{2, 0, 0}, mgl64.Vec3{2, 2, 2})})
	mustRoom(t, s, RoomSpec{ID: "c", Box: NewBox(mgl64.Vec3{0, 2, 0}, mgl64.Vec3{2, 2, 2}), Atmosphere: 0.5})
	mustConnector(t, s, ConnectorSpec{ID: "east", Box: NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0.2, 1.8, 2}), Open: true})
	mustConnector(t, s, ConnectorSpec{ID: "north", Box: NewBox(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{1.8, 0.2, 2}), Open: true})
	return s
}

func TestSimulation_ResumeAfterToggleMatches(t *testing.T) {
	src := buildCorner(t)
	if len(src.Diagnostics()) != 0 {
		t.Fatalf("unexpected diagnostics: %v", src.Diagnostics())
	}
	a, _ := src.Room("a")
	corner, ok := a.VoxelAt(1, 1, 0)
	if !ok || corner.Degree() != 5 {
		t.Fatalf("corner voxel should carry grid and both door edges")
	}
	for i := 0; i < 3; i++ {
		_ = src.Step(0.05)
	}
	_ = src.SetConnector("east", false)
	_ = src.SetConnector("east", true)
	for i := 0; i < 3; i++ {
		_ = src.Step(0.05)
	}

	dst := buildCorner(t)
	if err := dst.ImportState(src.ExportState()); err != nil {
		t.Fatalf("import: %v", err)
	}
	resumed, _ := dst.Room("a")
	twin, _ := resumed.VoxelAt(1, 1, 0)
	got, want := twin.Neighbors(), corner.Neighbors()
	if len(got) != len(want) {
		t.Fatalf("degree %d after resume, %d in the running sim", len(got), len(want))
	}
	for i := range want {
		if got[i].Position() != want[i].Position() {
			t.Fatalf("neighbour %d: %v after resume, %v in the running sim", i, got[i].Position(), want[i].Position())
		}
	}
	for i := 0; i < 20; i++ {
		_ = src.Step(0.05)
		_ = dst.Step(0.05)
		if src.Digest() != dst.Digest() {
			t.Fatalf("diverged %d steps after resume", i+1)
		}
	}
}

func TestSimulation_DiagnosticsBounded(t *testing.T) {
	s := newTestSim(t, nil)
	const n = maxDiagnostics + 44
	for i := 0; i < n; i++ {
		id := ConnectorID(fmt.Sprintf("stray-%d", i))
		if _, err := s.AddConnector(ConnectorSpec{ID: id, Box: NewBox(mgl64.Vec3{50, 0, 0}, mgl64.Vec3{1, 1, 1})}); !errors.Is(err, ErrNoRooms) {
			t.Fatalf("connector %s: %v", id, err)
		}
	}
	if got := s.DiagnosticCount(); got != n {
		t.Fatalf("count = %d, want %d", got, n)
	}
	all := s.Diagnostics()
	if len(all) != maxDiagnostics || all[0].Subject != "stray-44" {
		t.Fatalf("retained %d, oldest %q", len(all), all[0].Subject)
	}
	tail := s.DiagnosticsSince(n - 2)
	if len(tail) != 2 || tail[1].Subject != fmt.Sprintf("stray-%d", n-1) {
		t.Fatalf("since n-2: %+v", tail)
	}
	if got := s.DiagnosticsSince(n); got != nil {
		t.Fatalf("since count: %+v", got)
	}
}
