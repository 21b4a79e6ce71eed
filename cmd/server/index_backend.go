package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterwerner/spaceship-sim/internal/persistence/indexdb"
	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/sim/tuning"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	Close() error
	UpsertRun(runID, sceneDigest string, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

func openRuntimeIndex(runDir, runID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("FLOW_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(runDir, "index", "run.sqlite")
		idx, err := indexdb.OpenSQLiteWithOptions(dbPath, indexdb.SQLiteOptions{
			SampleEveryTicks: envInt("FLOW_INDEX_SAMPLE_TICKS", 10),
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "d1":
		endpoint := strings.TrimSpace(os.Getenv("FLOW_INDEX_D1_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("FLOW_INDEX_D1_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("FLOW_INDEX_BACKEND=d1 but FLOW_INDEX_D1_INGEST_URL is empty")
		}
		flushMS := envInt("FLOW_INDEX_D1_FLUSH_MS", 500)
		idx, err := indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         token,
			RunID:         runID,
			BatchSize:     envInt("FLOW_INDEX_D1_BATCH_SIZE", 128),
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported FLOW_INDEX_BACKEND: %s", backend)
	}
}
