package world

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/peterwerner/spaceship-sim/internal/observerproto"
	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

// ErrUnknownCollection is returned by SampleCollection for an id the scene
// does not define.
var ErrUnknownCollection = errors.New("unknown collection")

type forceReq struct {
	Point mgl64.Vec3
	Resp  chan observerproto.ForceResponse
}

type bootstrapReq struct {
	Resp chan observerproto.BootstrapResponse
}

// SampleRequest picks a random voxel from a collection's FULL rooms. The
// room is chosen with flow.Collection.RandomRoomWeighted; Seed and the
// current tick seed the generator, so equal requests in the same tick agree.
type SampleRequest struct {
	Collection string
	FlowBias   float64
	AtmoBias   float64
	Seed       uint64
}

type sampleReq struct {
	SampleRequest
	Resp chan sampleResult
}

type sampleResult struct {
	resp observerproto.SampleResponse
	err  error
}

// QueryForce asks the world loop for the flow force and local atmosphere at
// p. It reads committed state between ticks.
func (w *World) QueryForce(ctx context.Context, p mgl64.Vec3) (observerproto.ForceResponse, error) {
	if w == nil || w.forceReq == nil {
		return observerproto.ForceResponse{}, errors.New("force query not available")
	}
	resp := make(chan observerproto.ForceResponse, 1)
	select {
	case w.forceReq <- forceReq{Point: p, Resp: resp}:
	case <-ctx.Done():
		return observerproto.ForceResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return observerproto.ForceResponse{}, ctx.Err()
	}
}

func (w *World) handleForceReq(req forceReq) {
	if req.Resp == nil {
		return
	}
	req.Resp <- w.forceAt(req.Point)
}

func (w *World) forceAt(p mgl64.Vec3) observerproto.ForceResponse {
	out := observerproto.ForceResponse{Tick: w.sim.Tick(), Point: p}
	f, r, ok := w.sim.ForceAt(p)
	if !ok {
		return out
	}
	out.Found = true
	out.Room = string(r.ID())
	out.Force = f
	out.Atmosphere, _ = r.AtmosphereAt(p)
	return out
}

// Bootstrap describes the layout and parameters of the running simulation.
func (w *World) Bootstrap(ctx context.Context) (observerproto.BootstrapResponse, error) {
	if w == nil || w.bootstrapReq == nil {
		return observerproto.BootstrapResponse{}, errors.New("bootstrap not available")
	}
	resp := make(chan observerproto.BootstrapResponse, 1)
	select {
	case w.bootstrapReq <- bootstrapReq{Resp: resp}:
	case <-ctx.Done():
		return observerproto.BootstrapResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return observerproto.BootstrapResponse{}, ctx.Err()
	}
}

func (w *World) handleBootstrapReq(req bootstrapReq) {
	if req.Resp == nil {
		return
	}
	req.Resp <- w.bootstrap()
}

func (w *World) bootstrap() observerproto.BootstrapResponse {
	p := w.sim.Context().Params()
	out := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           w.cfg.ID,
		Tick:            w.sim.Tick(),
		TickRateHz:      w.cfg.TickRateHz,
		SceneDigest:     w.cfg.SceneDigest,
		Params: observerproto.Params{
			AmbientAtmosphere:      p.AmbientAtmosphere,
			VoxelRadius:            p.VoxelRadius,
			FlowRateConstant:       p.FlowRateConstant,
			FlowVectorConstant:     p.FlowVectorConstant,
			FlowForceConstant:      p.FlowForceConstant,
			CheapFlowConstant:      p.CheapFlowConstant,
			CheapAtmoDeltaConstant: p.CheapAtmoDeltaConstant,
			CheapFlowForceConstant: p.CheapFlowForceConstant,
		},
		Rooms:      []observerproto.RoomInfo{},
		Connectors: []observerproto.ConnectorInfo{},
	}
	for _, r := range w.sim.Rooms() {
		b := r.Box()
		out.Rooms = append(out.Rooms, observerproto.RoomInfo{
			ID:     string(r.ID()),
			Center: b.Center,
			Size:   b.Size,
			Dims:   r.Dims(),
			Mode:   r.Mode().String(),
			Pinned: r.Pinned(),
		})
	}
	for _, c := range w.sim.Connectors() {
		b := c.Box()
		ci := observerproto.ConnectorInfo{
			ID:     string(c.ID()),
			Center: b.Center,
			Size:   b.Size,
			RoomA:  string(c.RoomA().ID()),
			Open:   c.IsOpen(),
			Pairs:  c.PairCount(),
		}
		if rb := c.RoomB(); rb != nil {
			ci.RoomB = string(rb.ID())
		}
		out.Connectors = append(out.Connectors, ci)
	}
	for _, c := range w.sim.Collections() {
		ci := observerproto.CollectionInfo{ID: string(c.ID())}
		for _, r := range c.Rooms() {
			ci.Rooms = append(ci.Rooms, string(r.ID()))
		}
		out.Collections = append(out.Collections, ci)
	}
	return out
}

// SampleCollection asks the world loop for a weighted random voxel of a
// collection, as a particle emitter would.
func (w *World) SampleCollection(ctx context.Context, req SampleRequest) (observerproto.SampleResponse, error) {
	if w == nil || w.sampleReq == nil {
		return observerproto.SampleResponse{}, errors.New("sample query not available")
	}
	resp := make(chan sampleResult, 1)
	select {
	case w.sampleReq <- sampleReq{SampleRequest: req, Resp: resp}:
	case <-ctx.Done():
		return observerproto.SampleResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.resp, r.err
	case <-ctx.Done():
		return observerproto.SampleResponse{}, ctx.Err()
	}
}

func (w *World) handleSampleReq(req sampleReq) {
	if req.Resp == nil {
		return
	}
	resp, err := w.sample(req.SampleRequest)
	req.Resp <- sampleResult{resp: resp, err: err}
}

func (w *World) sample(req SampleRequest) (observerproto.SampleResponse, error) {
	out := observerproto.SampleResponse{Tick: w.sim.Tick(), Collection: req.Collection}
	col, ok := w.sim.Collection(flow.CollectionID(req.Collection))
	if !ok {
		return out, fmt.Errorf("%w %q", ErrUnknownCollection, req.Collection)
	}
	rng := rand.New(rand.NewPCG(req.Seed, w.sim.Tick()))
	r, err := col.RandomRoomWeighted(rng, req.FlowBias, req.AtmoBias)
	if errors.Is(err, flow.ErrNoRooms) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	v := r.RandomVoxel(rng)
	out.Found = true
	out.Room = string(r.ID())
	out.Point = v.Position()
	out.Atmosphere = v.Atmosphere()
	out.Flow = v.Flow()
	return out, nil
}
