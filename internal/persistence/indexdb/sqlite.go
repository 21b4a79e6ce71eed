package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/sim/tuning"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
)

// SQLiteIndex is a read model of a run: ticks, commands, sampled room
// aggregates and snapshot metadata. Writes are queued and applied by one
// goroutine in batched transactions; the tick log stays the source of truth.
type SQLiteIndex struct {
	db   *sql.DB
	opts SQLiteOptions

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type SQLiteOptions struct {
	// SampleEveryTicks controls how often room aggregates are stored.
	SampleEveryTicks int
	QueueSize        int
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot SnapshotRow
}

type SnapshotRow struct {
	RunID      string `json:"run_id"`
	Tick       uint64 `json:"tick"`
	Path       string `json:"path"`
	Rooms      int    `json:"rooms"`
	Connectors int    `json:"connectors"`
	Bodies     int    `json:"bodies"`
}

type RunRow struct {
	RunID        string `json:"run_id"`
	SceneDigest  string `json:"scene_digest"`
	TuningDigest string `json:"tuning_digest"`
	StartedAt    string `json:"started_at"`
	LastTick     uint64 `json:"last_tick"`
}

type RoomSampleRow struct {
	Tick          uint64  `json:"tick"`
	Mode          string  `json:"mode"`
	Atmosphere    float64 `json:"atmosphere"`
	FlowMagnitude float64 `json:"flow_magnitude"`
	Bodies        int     `json:"bodies"`
}

type Stats struct {
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return OpenSQLiteWithOptions(path, SQLiteOptions{})
}

func OpenSQLiteWithOptions(path string, opts SQLiteOptions) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if opts.SampleEveryTicks <= 0 {
		opts.SampleEveryTicks = 10
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 65536
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:   db,
		opts: opts,
		ch:   make(chan req, opts.QueueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scene_digest TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			commands INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			cmd_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			cmd_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS room_samples (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			room_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			atmosphere REAL NOT NULL,
			flow_magnitude REAL NOT NULL,
			bodies INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, room_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_room_samples_room_tick ON room_samples(run_id, room_id, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			rooms INTEGER NOT NULL,
			connectors INTEGER NOT NULL,
			bodies INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := SnapshotRow{
		RunID:      snap.Header.RunID,
		Tick:       snap.Header.Tick,
		Path:       path,
		Rooms:      len(snap.Rooms),
		Connectors: len(snap.Connectors),
		Bodies:     len(snap.Bodies),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

// UpsertRun records the run and the tuning values it actually applies. It
// writes synchronously.
func (s *SQLiteIndex) UpsertRun(runID, sceneDigest string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	_, err = s.db.Exec(
		`INSERT INTO runs(run_id,scene_digest,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(run_id) DO UPDATE SET scene_digest=excluded.scene_digest, tuning_digest=excluded.tuning_digest, tuning_json=excluded.tuning_json`,
		runID, sceneDigest, hex.EncodeToString(sum[:]), string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,digest,commands) VALUES(?,?,?,?)`)
	insertCmd, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(run_id,tick,seq,cmd_id,kind,cmd_json) VALUES(?,?,?,?,?,?)`)
	insertSample, _ := s.db.Prepare(`INSERT OR REPLACE INTO room_samples(run_id,tick,room_id,mode,atmosphere,flow_magnitude,bodies) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,tick,path,rooms,connectors,bodies) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertCmd, insertSample, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	sampleEvery := uint64(s.opts.SampleEveryTicks)
	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			if !exec(insertTick, e.RunID, int64(e.Tick), e.Digest, len(e.Commands)) {
				continue
			}
			for i, c := range e.Commands {
				raw, _ := json.Marshal(c)
				if !exec(insertCmd, e.RunID, int64(e.Tick), i, c.ID, c.Kind, string(raw)) {
					break
				}
			}
			if e.Tick%sampleEvery != 0 {
				break
			}
			for _, rs := range e.Rooms {
				if !exec(insertSample, e.RunID, int64(e.Tick), rs.ID, rs.Mode, rs.Atmosphere, rs.FlowMagnitude, rs.Bodies) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.RunID, int64(sn.Tick), sn.Path, sn.Rooms, sn.Connectors, sn.Bodies)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
