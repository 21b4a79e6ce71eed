package world

import (
	"context"
	"errors"

	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

var (
	ErrNoSnapshotSink       = errors.New("snapshot sink not configured")
	ErrSnapshotBackpressure = errors.New("snapshot sink backpressure")
)

// SnapshotReceipt summarises a snapshot handed to the sink on request.
// Digest is the state digest logged for Tick, so a replay that reaches the
// same digest can be resumed from this snapshot.
type SnapshotReceipt struct {
	Tick           uint64 `json:"tick"`
	SceneDigest    string `json:"scene_digest"`
	Digest         string `json:"digest"`
	Rooms          int    `json:"rooms"`
	FullRooms      int    `json:"full_rooms"`
	Voxels         int    `json:"voxels"`
	OpenConnectors int    `json:"open_connectors"`
	Bodies         int    `json:"bodies"`
}

type snapshotReq struct {
	resp chan snapshotResult
}

type snapshotResult struct {
	receipt SnapshotReceipt
	err     error
}

// RequestSnapshot exports the state after the next tick and hands it to the
// snapshot sink. Safe to call from any goroutine.
func (w *World) RequestSnapshot(ctx context.Context) (SnapshotReceipt, error) {
	if w == nil || w.snapReq == nil {
		return SnapshotReceipt{}, errors.New("snapshot requests not available")
	}
	resp := make(chan snapshotResult, 1)
	select {
	case w.snapReq <- snapshotReq{resp: resp}:
	case <-ctx.Done():
		return SnapshotReceipt{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.receipt, r.err
	case <-ctx.Done():
		return SnapshotReceipt{}, ctx.Err()
	}
}

// serveSnapshotRequests answers every request queued during the last tick
// with one shared snapshot.
func (w *World) serveSnapshotRequests(reqs []snapshotReq, digest string) {
	if len(reqs) == 0 {
		return
	}
	var res snapshotResult
	cur := w.tick.Load()
	if cur > 0 {
		cur--
	}
	snap := w.ExportSnapshot(cur)
	res.receipt = receiptFor(snap, digest)
	if w.snapshotSink == nil {
		res.err = ErrNoSnapshotSink
	} else {
		select {
		case w.snapshotSink <- snap:
		default:
			res.err = ErrSnapshotBackpressure
		}
	}
	for _, r := range reqs {
		select {
		case r.resp <- res:
		default:
		}
	}
}

func receiptFor(snap snapshot.SnapshotV1, digest string) SnapshotReceipt {
	out := SnapshotReceipt{
		Tick:        snap.Header.Tick,
		SceneDigest: snap.Header.SceneDigest,
		Digest:      digest,
		Rooms:       len(snap.Rooms),
		Bodies:      len(snap.Bodies),
	}
	for _, r := range snap.Rooms {
		if r.Mode == flow.Full.String() {
			out.FullRooms++
		}
		out.Voxels += len(r.Voxels)
	}
	for _, c := range snap.Connectors {
		if c.Open {
			out.OpenConnectors++
		}
	}
	return out
}
