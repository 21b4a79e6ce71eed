package main

import (
	"path/filepath"
	"strings"
	"testing"

	persistlog "github.com/peterwerner/spaceship-sim/internal/persistence/log"
	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
	"github.com/peterwerner/spaceship-sim/internal/sim/worldtest"
)

func recordRun(t *testing.T, runDir string, ticks int) *worldtest.Harness {
	t.Helper()
	h := worldtest.NewHarness(t, 1)
	tl := persistlog.NewTickLogger(runDir)
	h.W.SetTickLogger(tl)
	for i := 0; i < ticks; i++ {
		switch i {
		case 5:
			h.Step(h.Open("inner-hatch"), h.Open("no-such-door"))
		case 20:
			h.Step(h.Enter("crate-1", "corridor"), h.SetMode("cargo", "CHEAP"))
		case 40:
			h.Step(h.Close("cargo-hatch"))
		default:
			h.Step()
		}
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("close tick log: %v", err)
	}
	return h
}

func TestReplay_FromScratchMatchesDigests(t *testing.T) {
	runDir := t.TempDir()
	recordRun(t, runDir, 60)

	h := worldtest.NewHarness(t, 1)
	checked, err := replay(h.W, persistlog.EventsDir(runDir), 0, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 60 {
		t.Fatalf("checked = %d, want 60", checked)
	}
	if h.Room("corridor").Bodies()[0] != "crate-1" {
		t.Fatalf("replayed body ownership lost")
	}
}

func TestReplay_FromSnapshotAndWindow(t *testing.T) {
	runDir := t.TempDir()
	recordRun(t, runDir, 60)

	// Rebuild the state at tick 30 by replaying a prefix, then snapshot it.
	h := worldtest.NewHarness(t, 1)
	if _, err := replay(h.W, persistlog.EventsDir(runDir), 0, 29); err != nil {
		t.Fatalf("prefix replay: %v", err)
	}
	if h.W.CurrentTick() != 30 {
		t.Fatalf("tick after prefix = %d", h.W.CurrentTick())
	}
	path := snapshot.Path(filepath.Join(runDir, "snapshots"), 29)
	if err := snapshot.WriteSnapshot(path, h.Snapshot()); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	root := worldtest.FindRepoRoot(t)
	w, err := buildWorld(filepath.Join(root, "configs", "scene.yaml"), filepath.Join(root, "configs", "tuning.yaml"), path)
	if err != nil {
		t.Fatalf("buildWorld: %v", err)
	}
	if w.CurrentTick() != 30 {
		t.Fatalf("resumed tick = %d", w.CurrentTick())
	}
	checked, err := replay(w, persistlog.EventsDir(runDir), 45, 50)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 6 {
		t.Fatalf("checked = %d, want 6", checked)
	}
	if w.CurrentTick() != 51 {
		t.Fatalf("stopped at tick %d", w.CurrentTick())
	}
}

func TestReplay_DetectsMismatch(t *testing.T) {
	runDir := t.TempDir()
	tl := persistlog.NewTickLogger(runDir)
	h := worldtest.NewHarness(t, 1)
	_, d0 := h.W.StepOnce(nil)
	_ = tl.WriteTick(world.TickLogEntry{RunID: "test-run", Tick: 0, Digest: d0})
	_ = tl.WriteTick(world.TickLogEntry{RunID: "test-run", Tick: 1, Digest: "bogus"})
	if err := tl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	fresh := worldtest.NewHarness(t, 1)
	_, err := replay(fresh.W, persistlog.EventsDir(runDir), 0, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 1") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}

	// Entries older than the world's tick are skipped, not verified.
	ahead := worldtest.NewHarness(t, 1)
	ahead.W.StepOnce(nil)
	ahead.W.StepOnce(nil)
	ahead.W.StepOnce(nil)
	checked, err := replay(ahead.W, persistlog.EventsDir(runDir), 0, 0)
	if err != nil || checked != 0 {
		t.Fatalf("checked=%d err=%v", checked, err)
	}
}
