package world

import (
	"errors"
	"io"
	"log"
	"sync/atomic"

	"github.com/peterwerner/spaceship-sim/internal/persistence/snapshot"
	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

// World runs one flow.Simulation on a single goroutine. Every other
// goroutine talks to it through the request channels below.
type World struct {
	cfg WorldConfig
	sim *flow.Simulation
	log *log.Logger

	// tick mirrors sim.Tick() for readers outside the loop.
	tick atomic.Uint64

	stop          chan struct{}
	inbox         chan CmdRequest
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	forceReq      chan forceReq
	bootstrapReq  chan bootstrapReq
	sampleReq     chan sampleReq
	snapReq       chan snapshotReq

	observers map[string]*observerClient
	diagSeen  uint64

	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1

	metrics metricsBox
}

func New(cfg WorldConfig, sim *flow.Simulation, logger *log.Logger) (*World, error) {
	if sim == nil {
		return nil, errors.New("world: nil simulation")
	}
	if len(sim.Rooms()) == 0 {
		return nil, errors.New("world: simulation has no rooms")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &World{
		cfg:           cfg,
		sim:           sim,
		log:           logger,
		stop:          make(chan struct{}),
		inbox:         make(chan CmdRequest, cfg.CmdQueue),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		forceReq:      make(chan forceReq, 64),
		bootstrapReq:  make(chan bootstrapReq, 16),
		sampleReq:     make(chan sampleReq, 16),
		snapReq:       make(chan snapshotReq, 16),
		observers:     map[string]*observerClient{},
		diagSeen:      sim.DiagnosticCount(),
	}
	w.tick.Store(sim.Tick())
	return w, nil
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

// CurrentTick is the next tick to be simulated.
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- CmdRequest { return w.inbox }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }
