package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
	"github.com/peterwerner/spaceship-sim/internal/sim/scene"
	"github.com/peterwerner/spaceship-sim/internal/sim/tuning"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowctl",
		Short: "Operate and inspect spaceship atmosphere runs",
		Long: `flowctl validates scenes, runs offline simulations, inspects snapshots
and queries the per-run index written by the server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("configs", "./configs", "Config directory")
	rootCmd.PersistentFlags().String("data", "./data", "Runtime data directory")

	rootCmd.AddCommand(
		newValidateCmd(),
		newSimulateCmd(),
		newSnapshotCmd(),
		newHistoryCmd(),
		newStateCmd(),
	)
	return rootCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func configPaths(cmd *cobra.Command) (scenePath, tuningPath string) {
	configs, _ := cmd.Flags().GetString("configs")
	scenePath, _ = cmd.Flags().GetString("scene")
	tuningPath, _ = cmd.Flags().GetString("tuning")
	if scenePath == "" {
		scenePath = filepath.Join(configs, "scene.yaml")
	}
	if tuningPath == "" {
		tuningPath = filepath.Join(configs, "tuning.yaml")
	}
	return scenePath, tuningPath
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("scene", "", "Path to scene.yaml (default: <configs>/scene.yaml)")
	cmd.Flags().String("tuning", "", "Path to tuning.yaml (default: <configs>/tuning.yaml)")
}

func loadSim(scenePath, tuningPath string) (*flow.Simulation, scene.Scene, tuning.Tuning, error) {
	tune, err := tuning.Load(tuningPath)
	if err != nil {
		return nil, scene.Scene{}, tune, fmt.Errorf("load tuning: %w", err)
	}
	sc, err := scene.Load(scenePath)
	if err != nil {
		return nil, sc, tune, fmt.Errorf("load scene: %w", err)
	}
	fctx, err := flow.NewContext(tune.Params())
	if err != nil {
		return nil, sc, tune, fmt.Errorf("flow params: %w", err)
	}
	sim, err := scene.Build(sc, fctx, nil)
	if err != nil {
		return nil, sc, tune, fmt.Errorf("build scene: %w", err)
	}
	return sim, sc, tune, nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate scene and tuning files and report the built layout",
		Long: `Load tuning.yaml and scene.yaml, check them against their schema,
build every room and connector and print the resulting layout.

Examples:
  flowctl validate
  flowctl validate --scene ./my-scene.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			scenePath, tuningPath := configPaths(cmd)
			sim, sc, tune, err := loadSim(scenePath, tuningPath)
			if err != nil {
				return err
			}
			report := layoutOf(sim, sc, tune)
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, report)
			}
			fmt.Fprintf(out, "scene %s (%.12s) ok: %d rooms, %d connectors, %d collections\n",
				report.Scene, report.SceneDigest, len(report.Rooms), len(report.Connectors), report.Collections)
			fmt.Fprintf(out, "tick_rate_hz=%d voxel_radius=%g\n", tune.TickRateHz, tune.Sim.VoxelRadius)
			for _, r := range report.Rooms {
				pinned := ""
				if r.Pinned {
					pinned = " pinned"
				}
				fmt.Fprintf(out, "  room %-14s %-5s voxels=%-5d atmosphere=%.3f%s\n", r.ID, r.Mode, r.Voxels, r.Atmosphere, pinned)
			}
			for _, c := range report.Connectors {
				state := "closed"
				if c.Open {
					state = "open"
				}
				fmt.Fprintf(out, "  connector %-14s %s <-> %s %s pairs=%d\n", c.ID, c.RoomA, c.RoomB, state, c.Pairs)
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	return cmd
}

type roomReport struct {
	ID         string  `json:"id"`
	Mode       string  `json:"mode"`
	Pinned     bool    `json:"pinned,omitempty"`
	Voxels     int     `json:"voxels"`
	Atmosphere float64 `json:"atmosphere"`
}

type connectorReport struct {
	ID    string `json:"id"`
	RoomA string `json:"room_a"`
	RoomB string `json:"room_b"`
	Open  bool   `json:"open"`
	Pairs int    `json:"pairs"`
}

type layoutReport struct {
	Scene       string            `json:"scene"`
	SceneDigest string            `json:"scene_digest"`
	TickRateHz  int               `json:"tick_rate_hz"`
	Rooms       []roomReport      `json:"rooms"`
	Connectors  []connectorReport `json:"connectors"`
	Collections int               `json:"collections"`
}

func layoutOf(sim *flow.Simulation, sc scene.Scene, tune tuning.Tuning) layoutReport {
	rep := layoutReport{
		Scene:       sc.Name,
		SceneDigest: sc.Digest,
		TickRateHz:  tune.TickRateHz,
		Collections: len(sim.Collections()),
	}
	for _, r := range sim.Rooms() {
		rep.Rooms = append(rep.Rooms, roomReport{
			ID:         string(r.ID()),
			Mode:       r.Mode().String(),
			Pinned:     r.Pinned(),
			Voxels:     len(r.Voxels()),
			Atmosphere: r.Atmosphere(),
		})
	}
	for _, c := range sim.Connectors() {
		cr := connectorReport{ID: string(c.ID()), RoomA: string(c.RoomA().ID()), RoomB: "ambient", Open: c.IsOpen(), Pairs: c.PairCount()}
		if b := c.RoomB(); b != nil {
			cr.RoomB = string(b.ID())
		}
		rep.Connectors = append(rep.Connectors, cr)
	}
	return rep
}
