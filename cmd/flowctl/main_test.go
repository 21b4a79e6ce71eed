package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterwerner/spaceship-sim/internal/persistence/indexdb"
	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/sim/tuning"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
	"github.com/peterwerner/spaceship-sim/internal/sim/worldtest"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func configsDir(t *testing.T) string {
	return filepath.Join(worldtest.FindRepoRoot(t), "configs")
}

func TestValidate(t *testing.T) {
	out, err := runCmd(t, "validate", "--configs", configsDir(t))
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "5 rooms, 5 connectors, 1 collections") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	out, err = runCmd(t, "validate", "--configs", configsDir(t), "--json")
	if err != nil {
		t.Fatalf("validate --json: %v", err)
	}
	var rep layoutReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	var outer *connectorReport
	for i := range rep.Connectors {
		if rep.Connectors[i].ID == "outer-hatch" {
			outer = &rep.Connectors[i]
		}
	}
	if outer == nil || outer.RoomB != "ambient" || outer.RoomA != "airlock" {
		t.Fatalf("outer hatch = %+v", outer)
	}
	for _, r := range rep.Rooms {
		if r.ID == "engineering" && !r.Pinned {
			t.Fatalf("engineering should be pinned")
		}
	}
}

func TestValidate_BadScene(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "scene.yaml")
	if err := os.WriteFile(bad, []byte("name: x\nrooms: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := runCmd(t, "validate", "--configs", configsDir(t), "--scene", bad); err == nil {
		t.Fatalf("expected error for empty scene")
	}
}

func TestSimulate_ScriptAndSnapshotInspect(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "vent.yaml")
	body := "- {tick: 2, kind: OPEN_CONNECTOR, connector: outer-hatch}\n- {tick: 0, kind: BODY_ENTER, room: airlock, body: crate-1}\n"
	if err := os.WriteFile(script, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	snapOut := filepath.Join(dir, "final.snap.zst")

	out, err := runCmd(t, "simulate", "--configs", configsDir(t), "--ticks", "200", "--script", script, "--out", snapOut, "--json")
	if err != nil {
		t.Fatalf("simulate: %v\n%s", err, out)
	}
	var res simulateResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if res.StartTick != 0 || res.EndTick != 200 || res.Digest == "" {
		t.Fatalf("result = %+v", res)
	}
	for _, r := range res.Rooms {
		if r.ID == "airlock" {
			if r.Atmosphere >= 0.2 {
				t.Fatalf("airlock did not vent: %v", r.Atmosphere)
			}
			if r.Bodies != 1 {
				t.Fatalf("airlock bodies = %d", r.Bodies)
			}
		}
	}

	out, err = runCmd(t, "snapshot", "inspect", snapOut, "--json")
	if err != nil {
		t.Fatalf("inspect: %v\n%s", err, out)
	}
	var sum snapshotSummary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Header.Tick != 199 || len(sum.Rooms) != 5 || len(sum.Bodies) != 1 {
		t.Fatalf("summary = %+v", sum.Header)
	}

	// Resuming continues from the next tick.
	out, err = runCmd(t, "simulate", "--configs", configsDir(t), "--ticks", "10", "--snapshot", snapOut, "--json")
	if err != nil {
		t.Fatalf("resume: %v\n%s", err, out)
	}
	res = simulateResult{}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode resume: %v", err)
	}
	if res.StartTick != 200 || res.EndTick != 210 {
		t.Fatalf("resume = %+v", res)
	}
}

func TestLoadScript_RejectsIncompleteStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("- {tick: 1, kind: OPEN_CONNECTOR}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadScript(path); err == nil {
		t.Fatalf("expected error for step without connector")
	}
}

func TestSnapshotList(t *testing.T) {
	data := t.TempDir()
	dir := filepath.Join(data, "runs", "r1", "snapshots")
	for _, tick := range []uint64{3000, 900, 12000} {
		s := snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, RunID: "r1", Tick: tick}}
		if err := snapshot.WriteSnapshot(snapshot.Path(dir, tick), s); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	out, err := runCmd(t, "snapshot", "list", "--data", data, "--run", "r1", "--json")
	if err != nil {
		t.Fatalf("list: %v\n%s", err, out)
	}
	var hs []snapshot.Header
	if err := json.Unmarshal([]byte(out), &hs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hs) != 3 || hs[0].Tick != 900 || hs[2].Tick != 12000 {
		t.Fatalf("headers = %+v", hs)
	}
	if _, err := runCmd(t, "snapshot", "list", "--data", data); err == nil {
		t.Fatalf("expected error without --run")
	}
}

func TestHistory(t *testing.T) {
	data := t.TempDir()
	path := filepath.Join(data, "runs", "r1", "index", "run.sqlite")
	idx, err := indexdb.OpenSQLiteWithOptions(path, indexdb.SQLiteOptions{SampleEveryTicks: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertRun("r1", "scene", tuning.Defaults()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for tick := uint64(1); tick <= 4; tick++ {
		_ = idx.WriteTick(world.TickLogEntry{
			RunID:  "r1",
			Tick:   tick,
			Digest: "d",
			Rooms:  []world.RoomSample{{ID: "airlock", Mode: "CHEAP", Atmosphere: 0.2 / float64(tick)}},
		})
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := runCmd(t, "history", "room", "airlock", "--data", data, "--run", "r1", "--from", "2", "--json")
	if err != nil {
		t.Fatalf("room: %v\n%s", err, out)
	}
	var rows []indexdb.RoomSampleRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 3 || rows[0].Tick != 2 || rows[0].Mode != "CHEAP" {
		t.Fatalf("rows = %+v", rows)
	}

	out, err = runCmd(t, "history", "runs", "--db", path)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "r1\t") || !strings.Contains(out, "last_tick=4") {
		t.Fatalf("runs output:\n%s", out)
	}

	if _, err := runCmd(t, "history", "runs", "--data", data, "--run", "missing"); err == nil {
		t.Fatalf("expected error for missing index")
	}
}

func TestState_CallsAdminEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/v1/state" || r.Method != http.MethodGet {
			http.Error(rw, "nope", http.StatusNotFound)
			return
		}
		_, _ = rw.Write([]byte(`{"run_id":"r1","tick":42}`))
	}))
	defer srv.Close()

	out, err := runCmd(t, "state", "--url", srv.URL+"/")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, `"tick":42`) {
		t.Fatalf("output = %q", out)
	}
	if _, err := runCmd(t, "snapshot", "request", "--url", srv.URL); err == nil {
		t.Fatalf("expected error for non-2xx")
	}
}
