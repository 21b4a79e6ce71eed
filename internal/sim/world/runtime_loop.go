package world

import (
	"context"
	"time"

	"github.com/peterwerner/spaceship-sim/internal/protocol"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingCmds []CmdRequest
	var pendingSnaps []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.forceReq:
			w.handleForceReq(req)
		case req := <-w.bootstrapReq:
			w.handleBootstrapReq(req)
		case req := <-w.sampleReq:
			w.handleSampleReq(req)
		case req := <-w.snapReq:
			pendingSnaps = append(pendingSnaps, req)
		case req := <-w.inbox:
			pendingCmds = append(pendingCmds, req)
		case <-ticker.C:
			_, digest := w.step(pendingCmds)
			w.serveSnapshotRequests(pendingSnaps, digest)
			pendingCmds = pendingCmds[:0]
			pendingSnaps = pendingSnaps[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server. It is intended for deterministic replays/tests.
func (w *World) StepOnce(cmds []protocol.CmdMsg) (tick uint64, digest string) {
	reqs := make([]CmdRequest, len(cmds))
	for i, c := range cmds {
		reqs[i] = CmdRequest{Cmd: c}
	}
	return w.step(reqs)
}

// step applies queued commands, advances the simulation and fans the result
// out to acks, observers, the tick log and the snapshot sink, in that order.
func (w *World) step(reqs []CmdRequest) (uint64, string) {
	started := time.Now()
	nowTick := w.sim.Tick()

	acks := make([]protocol.AckMsg, len(reqs))
	accepted := make([]protocol.CmdMsg, 0, len(reqs))
	for i, r := range reqs {
		code, err := w.applyCmd(r.Cmd)
		if err != nil {
			acks[i] = protocol.NewReject(r.Cmd.ID, nowTick, code, err.Error())
			continue
		}
		acks[i] = protocol.NewAck(r.Cmd.ID, nowTick)
		accepted = append(accepted, r.Cmd)
	}

	if err := w.sim.Step(w.cfg.Dt()); err != nil {
		w.log.Printf("tick=%d step: %v", nowTick, err)
	}
	digest := w.sim.Digest()
	w.tick.Store(w.sim.Tick())

	for i, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- acks[i]:
		default:
			// Controller is not reading; don't block the sim loop.
		}
	}

	w.stepObservers(nowTick, digest)

	samples := w.roomSamples()
	w.recordMetrics(nowTick, started, samples)

	if w.tickLogger != nil {
		entry := TickLogEntry{
			RunID:    w.cfg.ID,
			Tick:     nowTick,
			Dt:       w.cfg.Dt(),
			Commands: accepted,
			Digest:   digest,
			Rooms:    samples,
		}
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.Printf("tick=%d tick log: %v", nowTick, err)
		}
	}

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			snap := w.ExportSnapshot(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}
	return nowTick, digest
}

func (w *World) roomSamples() []RoomSample {
	rooms := w.sim.Rooms()
	out := make([]RoomSample, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomSample{
			ID:            string(r.ID()),
			Mode:          r.Mode().String(),
			Atmosphere:    r.Atmosphere(),
			FlowMagnitude: r.FlowMagnitude(),
			Bodies:        len(r.Bodies()),
		})
	}
	return out
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
