package indexdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/protocol"
	"github.com/peterwerner/spaceship-sim/internal/sim/tuning"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
)

// D1Config points the index at an HTTP ingest worker in front of a
// Cloudflare D1 database.
type D1Config struct {
	Endpoint      string
	Token         string
	RunID         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained bounds the events kept across failed flushes.
	MaxRetained int
	Logger      *log.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	flushFail    atomic.Uint64
	queueDropped atomic.Uint64
	retained     atomic.Int64
}

type D1Stats struct {
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	QueueDepth        int    `json:"queue_depth"`
	Retained          int    `json:"retained"`
}

type d1Event struct {
	Kind    string `json:"kind"`
	RunID   string `json:"run_id"`
	Payload any    `json:"payload"`
}

type d1TickPayload struct {
	Tick     uint64             `json:"tick"`
	Digest   string             `json:"digest"`
	Commands []protocol.CmdMsg  `json:"commands,omitempty"`
	Rooms    []world.RoomSample `json:"rooms,omitempty"`
}

type d1SnapshotPayload struct {
	Tick        uint64 `json:"tick"`
	Path        string `json:"path"`
	SceneDigest string `json:"scene_digest"`
	Rooms       int    `json:"rooms"`
	Connectors  int    `json:"connectors"`
	Bodies      int    `json:"bodies"`
}

type d1RunPayload struct {
	SceneDigest  string `json:"scene_digest"`
	TuningDigest string `json:"tuning_digest"`
	TuningJSON   string `json:"tuning_json"`
	StartedAt    string `json:"started_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.RunID = strings.TrimSpace(cfg.RunID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 16 * cfg.BatchSize
	}

	d := &D1Index{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan d1Event, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) Stats() D1Stats {
	if d == nil {
		return D1Stats{}
	}
	return D1Stats{
		FlushFailTotal:    d.flushFail.Load(),
		QueueDroppedTotal: d.queueDropped.Load(),
		QueueDepth:        len(d.ch),
		Retained:          int(d.retained.Load()),
	}
}

func (d *D1Index) WriteTick(entry world.TickLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	d.enqueue(d1Event{Kind: "tick", RunID: d.cfg.RunID, Payload: d1TickPayload{
		Tick:     entry.Tick,
		Digest:   entry.Digest,
		Commands: entry.Commands,
		Rooms:    entry.Rooms,
	}})
	return nil
}

func (d *D1Index) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if d == nil || d.closed.Load() {
		return
	}
	d.enqueue(d1Event{Kind: "snapshot", RunID: d.cfg.RunID, Payload: d1SnapshotPayload{
		Tick:        snap.Header.Tick,
		Path:        path,
		SceneDigest: snap.Header.SceneDigest,
		Rooms:       len(snap.Rooms),
		Connectors:  len(snap.Connectors),
		Bodies:      len(snap.Bodies),
	}})
}

func (d *D1Index) UpsertRun(runID, sceneDigest string, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	d.enqueue(d1Event{Kind: "run", RunID: runID, Payload: d1RunPayload{
		SceneDigest:  sceneDigest,
		TuningDigest: hex.EncodeToString(sum[:]),
		TuningJSON:   string(b),
		StartedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return nil
}

func (d *D1Index) enqueue(ev d1Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s run=%s", ev.Kind, ev.RunID)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			// Keep the batch for the next flush; trim the oldest events
			// once the retained backlog is full.
			d.flushFail.Add(1)
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				batch = append(batch[:0], batch[over:]...)
				d.queueDropped.Add(uint64(over))
			}
			d.retained.Store(int64(len(batch)))
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			return
		}
		batch = batch[:0]
		d.retained.Store(0)
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize && int(d.retained.Load()) == 0 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-flow-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
