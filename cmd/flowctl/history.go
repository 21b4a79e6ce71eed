package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peterwerner/spaceship-sim/internal/persistence/indexdb"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the SQLite index of a run",
		Long: `Read the index the server writes under <data>/runs/<run>/index/run.sqlite.

Examples:
  flowctl history runs --run 3f1c...
  flowctl history room airlock --run 3f1c... --from 1000 --to 2000
  flowctl history snapshots --db ./run.sqlite --run 3f1c... --json`,
	}
	cmd.PersistentFlags().String("run", "", "Run id")
	cmd.PersistentFlags().String("db", "", "Index path (default: <data>/runs/<run>/index/run.sqlite)")
	cmd.AddCommand(newHistoryRunsCmd(), newHistoryRoomCmd(), newHistorySnapshotsCmd())
	return cmd
}

func openHistoryDB(cmd *cobra.Command) (*sql.DB, string, error) {
	runID, _ := cmd.Flags().GetString("run")
	dbPath, _ := cmd.Flags().GetString("db")
	dataDir, _ := cmd.Flags().GetString("data")
	runID = strings.TrimSpace(runID)
	if dbPath == "" {
		if runID == "" {
			return nil, "", fmt.Errorf("missing --run or --db")
		}
		dbPath = filepath.Join(dataDir, "runs", runID, "index", "run.sqlite")
	}
	db, err := indexdb.OpenQuery(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open index: %w", err)
	}
	return db, runID, nil
}

func newHistoryRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in an index",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			db, _, err := openHistoryDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := indexdb.Runs(context.Background(), db)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, runs)
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s\tstarted=%s\tlast_tick=%d\tscene=%.12s\ttuning=%.12s\n", r.RunID, r.StartedAt, r.LastTick, r.SceneDigest, r.TuningDigest)
			}
			return nil
		},
	}
}

func newHistoryRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room <room-id>",
		Short: "Print sampled atmosphere and flow for one room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			from, _ := cmd.Flags().GetUint64("from")
			to, _ := cmd.Flags().GetUint64("to")
			limit, _ := cmd.Flags().GetInt("limit")

			db, runID, err := openHistoryDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			if runID == "" {
				return fmt.Errorf("missing --run")
			}

			rows, err := indexdb.RoomHistory(context.Background(), db, runID, args[0], from, to, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(out, "no samples for room %s\n", args[0])
				return nil
			}
			for _, r := range rows {
				fmt.Fprintf(out, "%d\t%s\tatmosphere=%.4f\tflow=%.4f\tbodies=%d\n", r.Tick, r.Mode, r.Atmosphere, r.FlowMagnitude, r.Bodies)
			}
			return nil
		},
	}
	cmd.Flags().Uint64("from", 0, "First tick (inclusive)")
	cmd.Flags().Uint64("to", 0, "Last tick (inclusive, 0 = no bound)")
	cmd.Flags().Int("limit", 1000, "Maximum rows")
	return cmd
}

func newHistorySnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List snapshots recorded in the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			db, runID, err := openHistoryDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			if runID == "" {
				return fmt.Errorf("missing --run")
			}

			rows, err := indexdb.Snapshots(context.Background(), db, runID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, rows)
			}
			for _, r := range rows {
				fmt.Fprintf(out, "%d\t%s\trooms=%d connectors=%d bodies=%d\n", r.Tick, r.Path, r.Rooms, r.Connectors, r.Bodies)
			}
			return nil
		},
	}
}
