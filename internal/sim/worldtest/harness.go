// Package worldtest drives a world built from the repository's default
// scene through exported APIs only.
package worldtest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/protocol"
	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
	"github.com/peterwerner/spaceship-sim/internal/sim/scene"
	"github.com/peterwerner/spaceship-sim/internal/sim/tuning"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
)

// Harness owns a world and the simulation behind it. Steps go through
// StepOnce so ordering matches the server loop. Sim is for assertions only.
type Harness struct {
	T      *testing.T
	W      *world.World
	Sim    *flow.Simulation
	Scene  scene.Scene
	Tuning tuning.Tuning

	nextCmd int
}

// FindRepoRoot walks up from the working directory to the go.mod.
func FindRepoRoot(t testing.TB) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}

// NewSim builds the default scene with the default tuning. workers overrides
// sim.compute_workers when non-zero.
func NewSim(t testing.TB, workers int) (*flow.Simulation, scene.Scene, tuning.Tuning) {
	t.Helper()
	root := FindRepoRoot(t)
	tu, err := tuning.Load(filepath.Join(root, "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	if workers != 0 {
		tu.Sim.ComputeWorkers = workers
	}
	sc, err := scene.Load(filepath.Join(root, "configs", "scene.yaml"))
	if err != nil {
		t.Fatalf("scene: %v", err)
	}
	ctx, err := flow.NewContext(tu.Params())
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	sim, err := scene.Build(sc, ctx, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return sim, sc, tu
}

func NewHarness(t *testing.T, workers int) *Harness {
	t.Helper()
	sim, sc, tu := NewSim(t, workers)
	w, err := world.New(world.WorldConfig{
		ID:              "test-run",
		SceneDigest:     sc.Digest,
		TickRateHz:      tu.TickRateHz,
		FrameEveryTicks: 1,
	}, sim, nil)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return &Harness{T: t, W: w, Sim: sim, Scene: sc, Tuning: tu}
}

// Cmd builds a CMD with a fresh id.
func (h *Harness) Cmd(kind string, f func(*protocol.CmdMsg)) protocol.CmdMsg {
	h.nextCmd++
	c := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("K%d", h.nextCmd),
		Kind:            kind,
	}
	if f != nil {
		f(&c)
	}
	return c
}

func (h *Harness) Open(connector string) protocol.CmdMsg {
	return h.Cmd(protocol.CmdOpenConnector, func(c *protocol.CmdMsg) { c.Connector = connector })
}

func (h *Harness) Close(connector string) protocol.CmdMsg {
	return h.Cmd(protocol.CmdCloseConnector, func(c *protocol.CmdMsg) { c.Connector = connector })
}

func (h *Harness) SetMode(room, mode string) protocol.CmdMsg {
	return h.Cmd(protocol.CmdSetMode, func(c *protocol.CmdMsg) { c.Room = room; c.Mode = mode })
}

func (h *Harness) Enter(body, room string) protocol.CmdMsg {
	return h.Cmd(protocol.CmdBodyEnter, func(c *protocol.CmdMsg) { c.Body = body; c.Room = room })
}

func (h *Harness) Exit(body, room string) protocol.CmdMsg {
	return h.Cmd(protocol.CmdBodyExit, func(c *protocol.CmdMsg) { c.Body = body; c.Room = room })
}

// Step runs one tick and returns its digest.
func (h *Harness) Step(cmds ...protocol.CmdMsg) string {
	h.T.Helper()
	_, digest := h.W.StepOnce(cmds)
	return digest
}

// StepN runs n ticks without commands and returns the last digest.
func (h *Harness) StepN(n int) string {
	h.T.Helper()
	var d string
	for i := 0; i < n; i++ {
		d = h.Step()
	}
	return d
}

func (h *Harness) Room(id string) *flow.Room {
	h.T.Helper()
	r, ok := h.Sim.Room(flow.RoomID(id))
	if !ok {
		h.T.Fatalf("unknown room %q", id)
	}
	return r
}

func (h *Harness) Connector(id string) *flow.Connector {
	h.T.Helper()
	c, ok := h.Sim.Connector(flow.ConnectorID(id))
	if !ok {
		h.T.Fatalf("unknown connector %q", id)
	}
	return c
}

// Snapshot exports at the last simulated tick, so importing it resumes at
// the current tick.
func (h *Harness) Snapshot() snapshot.SnapshotV1 {
	h.T.Helper()
	cur := h.W.CurrentTick()
	if cur == 0 {
		h.T.Fatalf("snapshot before the first step")
	}
	return h.W.ExportSnapshot(cur - 1)
}
