package world

import (
	"encoding/json"
	"fmt"

	"github.com/zyedidia/generic/mapset"

	"github.com/peterwerner/spaceship-sim/internal/observerproto"
	"github.com/peterwerner/spaceship-sim/internal/sim/encoding"
	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

type observerClient struct {
	id  string
	out chan []byte

	all    bool
	rooms  mapset.Set[string]
	every  int
	voxels bool
}

func (c *observerClient) configure(rooms []string, every int, voxels bool) {
	c.all = len(rooms) == 0
	c.rooms = mapset.New[string]()
	for _, id := range rooms {
		c.rooms.Put(id)
	}
	c.voxels = voxels
	c.every = every
	if c.every <= 0 {
		c.every = 1
	}
}

func (c *observerClient) wants(id flow.RoomID) bool {
	return c.all || c.rooms.Has(string(id))
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	if _, dup := w.observers[req.SessionID]; !dup && len(w.observers) >= w.cfg.MaxObservers {
		w.log.Printf("observer %s rejected: %d sessions", req.SessionID, len(w.observers))
		close(req.Out)
		return
	}
	every := req.EveryTicks
	if every <= 0 {
		every = w.cfg.FrameEveryTicks
	}
	c := &observerClient{id: req.SessionID, out: req.Out}
	c.configure(req.Rooms, every, req.Voxels)
	w.observers[req.SessionID] = c
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	every := req.EveryTicks
	if every <= 0 {
		every = c.every
	}
	c.configure(req.Rooms, every, req.Voxels)
}

func (w *World) handleObserverLeave(id string) {
	delete(w.observers, id)
}

// newDiagnostics returns diagnostics recorded since the previous call.
func (w *World) newDiagnostics() []string {
	fresh := w.sim.DiagnosticsSince(w.diagSeen)
	w.diagSeen = w.sim.DiagnosticCount()
	if len(fresh) == 0 {
		return nil
	}
	out := make([]string, 0, len(fresh))
	for _, d := range fresh {
		out = append(out, fmt.Sprintf("tick=%d %s: %s", d.Tick, d.Subject, d.Message))
	}
	return out
}

func (w *World) stepObservers(nowTick uint64, digest string) {
	diags := w.newDiagnostics()
	for _, c := range w.observers {
		if nowTick%uint64(c.every) != 0 {
			continue
		}
		b, err := json.Marshal(w.buildFrame(c, nowTick, digest, diags))
		if err != nil {
			continue
		}
		sendLatest(c.out, b)
	}
}

func (w *World) buildFrame(c *observerClient, nowTick uint64, digest string, diags []string) observerproto.FrameMsg {
	f := observerproto.FrameMsg{
		Type:            observerproto.TypeFrame,
		ProtocolVersion: observerproto.Version,
		Tick:            nowTick,
		Digest:          digest,
		Rooms:           []observerproto.RoomFrame{},
		Connectors:      []observerproto.ConnectorFrame{},
		Diagnostics:     diags,
	}
	for _, r := range w.sim.Rooms() {
		if !c.wants(r.ID()) {
			continue
		}
		rf := observerproto.RoomFrame{
			ID:               string(r.ID()),
			Mode:             r.Mode().String(),
			Atmosphere:       r.Atmosphere(),
			FlowMagnitude:    r.FlowMagnitude(),
			AvgFlowMagnitude: r.AvgFlowMagnitude(),
			CheapForce:       r.CheapForce(),
		}
		for _, b := range r.Bodies() {
			rf.Bodies = append(rf.Bodies, string(b))
		}
		if c.voxels && r.Mode() == flow.Full {
			rf.VoxelAtmosphere = voxelField(r)
		}
		f.Rooms = append(f.Rooms, rf)
	}
	for _, cn := range w.sim.Connectors() {
		touches := c.wants(cn.RoomA().ID())
		if b := cn.RoomB(); b != nil && c.wants(b.ID()) {
			touches = true
		}
		if !touches {
			continue
		}
		f.Connectors = append(f.Connectors, observerproto.ConnectorFrame{
			ID:   string(cn.ID()),
			Open: cn.IsOpen(),
			Flow: cn.CheapFlow(),
		})
	}
	for _, col := range w.sim.Collections() {
		framed := false
		for _, r := range col.Rooms() {
			if c.wants(r.ID()) {
				framed = true
				break
			}
		}
		if !framed {
			continue
		}
		f.Collections = append(f.Collections, observerproto.CollectionFrame{
			ID:                 string(col.ID()),
			TotalAtmosphere:    col.TotalAtmosphere(),
			TotalFlowMagnitude: col.TotalFlowMagnitude(),
		})
	}
	return f
}

func voxelField(r *flow.Room) string {
	vs := r.Voxels()
	vals := make([]float64, len(vs))
	for i, v := range vs {
		vals[i] = v.Atmosphere()
	}
	return encoding.EncodeField(vals)
}
