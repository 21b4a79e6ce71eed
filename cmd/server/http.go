package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/peterwerner/spaceship-sim/internal/persistence/indexdb"
	"github.com/peterwerner/spaceship-sim/internal/sim/world"
	"github.com/peterwerner/spaceship-sim/internal/transport/observer"
	"github.com/peterwerner/spaceship-sim/internal/transport/ws"
)

type muxOptions struct {
	Index  runtimeIndex
	Mirror *r2MirrorRuntime

	EnableAdmin    bool
	EnablePprof    bool
	ObserverRemote bool

	Logger *log.Logger
}

func newMux(w *world.World, opts muxOptions) *http.ServeMux {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	runID := w.ID()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeWorldMetrics(rw, runID, w.CurrentTick(), w.Metrics())
		writeIndexMetrics(rw, opts.Index)
		writeR2MirrorMetrics(rw, opts.Mirror)
	})

	obsSrv := observer.NewServer(w, logger)
	obsSrv.AllowRemote = opts.ObserverRemote
	mux.HandleFunc("/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/force", obsSrv.ForceHandler())
	mux.HandleFunc("/v1/sample", obsSrv.SampleHandler())
	mux.HandleFunc("/v1/observe", obsSrv.WSHandler())
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	if opts.EnableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				RunID   string             `json:"run_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				RunID:   runID,
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			receipt, err := w.RequestSnapshot(ctx)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error(), "snapshot": receipt})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "snapshot": receipt})
		})
	} else {
		logger.Printf("admin endpoints disabled (FLOW_ENABLE_ADMIN_HTTP=false)")
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Minimal Prometheus exposition format.
func metricHeader(rw io.Writer, name, kind, help string) {
	fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
	fmt.Fprintf(rw, "# TYPE %s %s\n", name, kind)
}

func writeWorldMetrics(rw io.Writer, runID string, tick uint64, m world.WorldMetrics) {
	if m.Tick != 0 {
		tick = m.Tick
	}
	metricHeader(rw, "flow_run_tick", "gauge", "Current simulation tick.")
	fmt.Fprintf(rw, "flow_run_tick{run=%q} %d\n", runID, tick)

	metricHeader(rw, "flow_run_step_ms", "gauge", "Last tick step duration in milliseconds.")
	fmt.Fprintf(rw, "flow_run_step_ms{run=%q} %.3f\n", runID, m.StepMS)

	metricHeader(rw, "flow_run_observers", "gauge", "Connected observers.")
	fmt.Fprintf(rw, "flow_run_observers{run=%q} %d\n", runID, m.Observers)

	metricHeader(rw, "flow_run_inbox_depth", "gauge", "Queued controller commands.")
	fmt.Fprintf(rw, "flow_run_inbox_depth{run=%q} %d\n", runID, m.InboxDepth)

	if len(m.Rooms) == 0 {
		return
	}
	metricHeader(rw, "flow_room_atmosphere", "gauge", "Mean room atmosphere (0..1).")
	for _, r := range m.Rooms {
		fmt.Fprintf(rw, "flow_room_atmosphere{run=%q,room=%q,mode=%q} %.6f\n", runID, r.ID, r.Mode, r.Atmosphere)
	}
	metricHeader(rw, "flow_room_flow_magnitude", "gauge", "Room flow magnitude.")
	for _, r := range m.Rooms {
		fmt.Fprintf(rw, "flow_room_flow_magnitude{run=%q,room=%q} %.6f\n", runID, r.ID, r.FlowMagnitude)
	}
	metricHeader(rw, "flow_room_bodies", "gauge", "Bodies owned by the room.")
	for _, r := range m.Rooms {
		fmt.Fprintf(rw, "flow_room_bodies{run=%q,room=%q} %d\n", runID, r.ID, r.Bodies)
	}
}

func writeIndexMetrics(rw io.Writer, idx runtimeIndex) {
	switch v := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := v.Stats()
		metricHeader(rw, "flow_index_queue_depth", "gauge", "Index write queue depth.")
		fmt.Fprintf(rw, "flow_index_queue_depth{backend=\"sqlite\"} %d\n", s.QueueDepth)
		metricHeader(rw, "flow_index_dropped_total", "counter", "Index writes dropped on a full queue.")
		fmt.Fprintf(rw, "flow_index_dropped_total{backend=\"sqlite\",kind=\"tick\"} %d\n", s.DropTickTotal)
		fmt.Fprintf(rw, "flow_index_dropped_total{backend=\"sqlite\",kind=\"snapshot\"} %d\n", s.DropSnapshotTotal)
	case *indexdb.D1Index:
		s := v.Stats()
		metricHeader(rw, "flow_index_queue_depth", "gauge", "Index write queue depth.")
		fmt.Fprintf(rw, "flow_index_queue_depth{backend=\"d1\"} %d\n", s.QueueDepth)
		metricHeader(rw, "flow_index_dropped_total", "counter", "Index writes dropped on a full queue.")
		fmt.Fprintf(rw, "flow_index_dropped_total{backend=\"d1\",kind=\"event\"} %d\n", s.QueueDroppedTotal)
		metricHeader(rw, "flow_index_flush_fail_total", "counter", "Failed D1 batch flushes.")
		fmt.Fprintf(rw, "flow_index_flush_fail_total %d\n", s.FlushFailTotal)
		metricHeader(rw, "flow_index_retained", "gauge", "Events retained after a failed flush.")
		fmt.Fprintf(rw, "flow_index_retained %d\n", s.Retained)
	}
}

func writeR2MirrorMetrics(rw io.Writer, mirror *r2MirrorRuntime) {
	s, ok := mirror.Stats()
	if !ok {
		return
	}
	metricHeader(rw, "flow_r2_mirror_queue_depth", "gauge", "Current R2 mirror queue depth.")
	fmt.Fprintf(rw, "flow_r2_mirror_queue_depth %d\n", s.QueueDepth)
	metricHeader(rw, "flow_r2_mirror_queue_capacity", "gauge", "R2 mirror queue capacity.")
	fmt.Fprintf(rw, "flow_r2_mirror_queue_capacity %d\n", s.QueueCapacity)
	metricHeader(rw, "flow_r2_mirror_enqueued_total", "counter", "Total mirror enqueue attempts.")
	fmt.Fprintf(rw, "flow_r2_mirror_enqueued_total %d\n", s.EnqueuedTotal)
	metricHeader(rw, "flow_r2_mirror_queue_saturated_total", "counter", "Enqueue attempts made while the queue was saturated.")
	fmt.Fprintf(rw, "flow_r2_mirror_queue_saturated_total %d\n", s.QueueSaturatedTotal)
	metricHeader(rw, "flow_r2_mirror_dropped_total", "counter", "Files dropped because the queue stayed saturated.")
	fmt.Fprintf(rw, "flow_r2_mirror_dropped_total %d\n", s.DroppedTotal)
	metricHeader(rw, "flow_r2_mirror_upload_success_total", "counter", "Successful mirror uploads.")
	fmt.Fprintf(rw, "flow_r2_mirror_upload_success_total %d\n", s.UploadSuccessTotal)
	metricHeader(rw, "flow_r2_mirror_upload_fail_total", "counter", "Failed mirror uploads after retry.")
	fmt.Fprintf(rw, "flow_r2_mirror_upload_fail_total %d\n", s.UploadFailTotal)
	metricHeader(rw, "flow_r2_mirror_last_success_unix", "gauge", "Unix time of the last successful upload.")
	fmt.Fprintf(rw, "flow_r2_mirror_last_success_unix %d\n", s.LastSuccessUnix)
	metricHeader(rw, "flow_r2_mirror_last_error_unix", "gauge", "Unix time of the last failed upload.")
	fmt.Fprintf(rw, "flow_r2_mirror_last_error_unix %d\n", s.LastErrorUnix)
}
