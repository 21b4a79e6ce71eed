package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/protocol"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
)

// scriptStep is one scheduled command in a simulate script.
type scriptStep struct {
	Tick      uint64 `yaml:"tick"`
	Kind      string `yaml:"kind"`
	Connector string `yaml:"connector,omitempty"`
	Room      string `yaml:"room,omitempty"`
	Mode      string `yaml:"mode,omitempty"`
	Body      string `yaml:"body,omitempty"`
}

func loadScript(path string) ([]scriptStep, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var steps []scriptStep
	if err := yaml.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	for i, s := range steps {
		if err := s.cmd(i).Check(); err != nil {
			return nil, fmt.Errorf("script step %d: %w", i, err)
		}
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Tick < steps[j].Tick })
	return steps, nil
}

func (s scriptStep) cmd(i int) protocol.CmdMsg {
	return protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("S%d", i),
		Kind:            s.Kind,
		Connector:       s.Connector,
		Room:            s.Room,
		Mode:            s.Mode,
		Body:            s.Body,
	}
}

type simulateResult struct {
	StartTick uint64             `json:"start_tick"`
	EndTick   uint64             `json:"end_tick"`
	Digest    string             `json:"digest"`
	Rooms     []world.RoomSample `json:"rooms"`
	Snapshot  string             `json:"snapshot,omitempty"`
}

// simulate advances w by ticks steps, applying script commands at their tick.
// Commands scheduled before the world's current tick are dropped.
func simulate(w *world.World, ticks uint64, steps []scriptStep) simulateResult {
	res := simulateResult{StartTick: w.CurrentTick()}
	next := 0
	for next < len(steps) && steps[next].Tick < res.StartTick {
		next++
	}
	for i := uint64(0); i < ticks; i++ {
		now := w.CurrentTick()
		var cmds []protocol.CmdMsg
		for next < len(steps) && steps[next].Tick == now {
			cmds = append(cmds, steps[next].cmd(next))
			next++
		}
		_, res.Digest = w.StepOnce(cmds)
	}
	res.EndTick = w.CurrentTick()
	res.Rooms = w.Metrics().Rooms
	return res
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the simulation offline for a number of ticks",
		Long: `Build the scene, optionally resume from a snapshot, and step the
simulation without a server. A YAML script can schedule commands:

  - {tick: 10, kind: OPEN_CONNECTOR, connector: outer-hatch}
  - {tick: 50, kind: SET_MODE, room: cargo, mode: CHEAP}

Examples:
  flowctl simulate --ticks 500
  flowctl simulate --ticks 200 --script vent.yaml --out final.snap.zst`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ticks, _ := cmd.Flags().GetUint64("ticks")
			scriptPath, _ := cmd.Flags().GetString("script")
			snapPath, _ := cmd.Flags().GetString("snapshot")
			outPath, _ := cmd.Flags().GetString("out")

			scenePath, tuningPath := configPaths(cmd)
			sim, sc, tune, err := loadSim(scenePath, tuningPath)
			if err != nil {
				return err
			}
			var steps []scriptStep
			if scriptPath != "" {
				if steps, err = loadScript(scriptPath); err != nil {
					return err
				}
			}

			cfg := world.WorldConfig{ID: "offline", SceneDigest: sc.Digest, TickRateHz: tune.TickRateHz}
			var snap snapshot.SnapshotV1
			if snapPath != "" {
				if snap, err = snapshot.ReadSnapshot(snapPath); err != nil {
					return fmt.Errorf("read snapshot: %w", err)
				}
				cfg.ID = snap.Header.RunID
				cfg.TickRateHz = snap.TickRateHz
			}
			w, err := world.New(cfg, sim, nil)
			if err != nil {
				return err
			}
			if snapPath != "" {
				if err := w.ImportSnapshot(snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
			}

			res := simulate(w, ticks, steps)
			if outPath != "" && res.EndTick > 0 {
				if err := snapshot.WriteSnapshot(outPath, w.ExportSnapshot(res.EndTick-1)); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				res.Snapshot = outPath
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "ticks %d..%d digest=%.16s\n", res.StartTick, res.EndTick, res.Digest)
			for _, r := range res.Rooms {
				fmt.Fprintf(out, "  %-14s %-5s atmosphere=%.4f flow=%.4f bodies=%d\n", r.ID, r.Mode, r.Atmosphere, r.FlowMagnitude, r.Bodies)
			}
			if res.Snapshot != "" {
				fmt.Fprintf(out, "wrote %s\n", res.Snapshot)
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().Uint64("ticks", 100, "Number of ticks to run")
	cmd.Flags().String("script", "", "YAML file of scheduled commands")
	cmd.Flags().String("snapshot", "", "Resume from this snapshot")
	cmd.Flags().String("out", "", "Write the final state to this snapshot path")
	return cmd
}
