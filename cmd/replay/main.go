package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "github.com/peterwerner/spaceship-sim/internal/persistence/log"
	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
	"github.com/peterwerner/spaceship-sim/internal/sim/scene"
	"github.com/peterwerner/spaceship-sim/internal/sim/tuning"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
)

var errStop = errors.New("stop")

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional; replays from tick 0 when empty)")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		configDir  = flag.String("configs", "./configs", "config directory")
		scenePath  = flag.String("scene", "", "path to scene.yaml (default: <configs>/scene.yaml)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	sp := *scenePath
	if sp == "" {
		sp = filepath.Join(*configDir, "scene.yaml")
	}
	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	w, err := buildWorld(sp, tp, *snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *eventsDir == "" {
		fmt.Printf("world ready at tick=%d (no -events, nothing to verify)\n", w.CurrentTick())
		return
	}

	startTick := w.CurrentTick()
	checked, err := replay(w, *eventsDir, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if checked == 0 {
		fmt.Fprintln(os.Stderr, "no ticks replayed from", *eventsDir)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d)\n", checked, startTick)
}

func buildWorld(scenePath, tuningPath, snapPath string) (*world.World, error) {
	sc, err := scene.Load(scenePath)
	if err != nil {
		return nil, fmt.Errorf("load scene: %w", err)
	}
	tune, err := tuning.Load(tuningPath)
	if err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}
	fctx, err := flow.NewContext(tune.Params())
	if err != nil {
		return nil, fmt.Errorf("flow params: %w", err)
	}
	sim, err := scene.Build(sc, fctx, nil)
	if err != nil {
		return nil, fmt.Errorf("build scene: %w", err)
	}

	cfg := world.WorldConfig{ID: "replay", SceneDigest: sc.Digest, TickRateHz: tune.TickRateHz}
	var snap snapshot.SnapshotV1
	if snapPath != "" {
		snap, err = snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		fmt.Printf("snapshot v%d run=%s tick=%d rooms=%d connectors=%d bodies=%d\n",
			snap.Header.Version, snap.Header.RunID, snap.Header.Tick,
			len(snap.Rooms), len(snap.Connectors), len(snap.Bodies))
		cfg.ID = snap.Header.RunID
		cfg.TickRateHz = snap.TickRateHz
	}

	w, err := world.New(cfg, sim, nil)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if snapPath != "" {
		if err := w.ImportSnapshot(snap); err != nil {
			return nil, fmt.Errorf("import snapshot: %w", err)
		}
	}
	return w, nil
}

// replay steps w through the logged ticks in eventsDir and compares digests
// from verifyFrom on. Entries before the world's current tick are skipped.
func replay(w *world.World, eventsDir string, verifyFrom, toTick uint64) (uint64, error) {
	startTick := w.CurrentTick()
	if verifyFrom < startTick {
		verifyFrom = startTick
	}
	var checked uint64
	err := persistlog.ReadTicks(eventsDir, func(entry world.TickLogEntry) error {
		if entry.Tick < startTick {
			return nil
		}
		if toTick != 0 && entry.Tick > toTick {
			return errStop
		}
		if entry.Tick != w.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d", w.CurrentTick(), entry.Tick)
		}

		tick, digest := w.StepOnce(entry.Commands)
		if tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, entry.Tick)
		}
		if tick >= verifyFrom {
			checked++
			if digest != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, digest, entry.Digest)
			}
		}
		return nil
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	return checked, err
}
