package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect, list or request run snapshots",
	}
	cmd.AddCommand(newSnapshotInspectCmd(), newSnapshotListCmd(), newSnapshotRequestCmd())
	return cmd
}

type snapshotSummary struct {
	Header     snapshot.Header        `json:"header"`
	TickRateHz int                    `json:"tick_rate_hz"`
	Params     snapshot.ParamsV1      `json:"params"`
	Rooms      []snapshotRoom         `json:"rooms"`
	Connectors []snapshot.ConnectorV1 `json:"connectors"`
	Bodies     []snapshot.BodyV1      `json:"bodies"`
}

type snapshotRoom struct {
	ID         string  `json:"id"`
	Mode       string  `json:"mode"`
	Atmosphere float64 `json:"atmosphere"`
	Voxels     int     `json:"voxels"`
	Extra      int     `json:"extra"`
}

func summarize(s snapshot.SnapshotV1) snapshotSummary {
	out := snapshotSummary{
		Header:     s.Header,
		TickRateHz: s.TickRateHz,
		Params:     s.Params,
		Connectors: s.Connectors,
		Bodies:     s.Bodies,
	}
	for _, r := range s.Rooms {
		out.Rooms = append(out.Rooms, snapshotRoom{ID: r.ID, Mode: r.Mode, Atmosphere: r.Atmosphere, Voxels: len(r.Voxels), Extra: len(r.Extra)})
	}
	return out
}

func newSnapshotInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print the contents of a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			s, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return err
			}
			sum := summarize(s)
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, sum)
			}
			fmt.Fprintf(out, "snapshot v%d run=%s tick=%d scene=%.12s tick_rate_hz=%d\n",
				s.Header.Version, s.Header.RunID, s.Header.Tick, s.Header.SceneDigest, s.TickRateHz)
			for _, r := range sum.Rooms {
				fmt.Fprintf(out, "  room %-14s %-5s atmosphere=%.4f voxels=%d extra=%d\n", r.ID, r.Mode, r.Atmosphere, r.Voxels, r.Extra)
			}
			for _, c := range s.Connectors {
				fmt.Fprintf(out, "  connector %-14s open=%v flow=%.4f\n", c.ID, c.Open, c.Flow)
			}
			for _, b := range s.Bodies {
				fmt.Fprintf(out, "  body %s in %s\n", b.Body, b.Room)
			}
			return nil
		},
	}
}

// listSnapshots returns the headers of the snapshots under dir, oldest first.
func listSnapshots(dir string) ([]snapshot.Header, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type entry struct {
		tick uint64
		path string
	}
	var found []entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, entry{tick: tick, path: filepath.Join(dir, name)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].tick < found[j].tick })

	out := make([]snapshot.Header, 0, len(found))
	for _, f := range found {
		h, err := snapshot.ReadHeader(f.path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(f.path), err)
		}
		out = append(out, h)
	}
	return out, nil
}

func newSnapshotListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the snapshots of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dataDir, _ := cmd.Flags().GetString("data")
			runID, _ := cmd.Flags().GetString("run")
			if strings.TrimSpace(runID) == "" {
				return fmt.Errorf("missing --run")
			}
			hs, err := listSnapshots(filepath.Join(dataDir, "runs", runID, "snapshots"))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, hs)
			}
			for _, h := range hs {
				fmt.Fprintf(out, "%d\tv%d\t%.12s\n", h.Tick, h.Version, h.SceneDigest)
			}
			return nil
		},
	}
	cmd.Flags().String("run", "", "Run id")
	return cmd
}

func newSnapshotRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Ask a running server to write a snapshot now",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			return adminCall(cmd.OutOrStdout(), http.MethodPost, baseURL, "/admin/v1/snapshot", 10*time.Second)
		},
	}
	cmd.Flags().String("url", "http://127.0.0.1:8080", "Server base url")
	return cmd
}

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the live state of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")
			return adminCall(cmd.OutOrStdout(), http.MethodGet, baseURL, "/admin/v1/state", 5*time.Second)
		},
	}
	cmd.Flags().String("url", "http://127.0.0.1:8080", "Server base url")
	return cmd
}

func adminCall(out io.Writer, method, baseURL, path string, timeout time.Duration) error {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
