package flow

import (
	"fmt"
	"io"
	"log"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"
)

// Diagnostic is a non-fatal problem found while building or stepping the
// simulation.
type Diagnostic struct {
	Tick    uint64
	Subject string
	Message string
}

type modeRequest struct {
	room *Room
	mode Mode
}

// Simulation owns rooms, connectors, collections and the body registry, and
// steps them with a fixed phase order. It is not safe for concurrent use;
// callers drive it from a single goroutine.
type Simulation struct {
	ctx    *Context
	logger *log.Logger

	rooms       []*Room
	roomByID    map[RoomID]*Room
	connectors  []*Connector
	connByID    map[ConnectorID]*Connector
	collections []*Collection
	collByID    map[CollectionID]*Collection

	owners map[BodyID]*Room

	pendingModes []modeRequest
	diagnostics  []Diagnostic
	diagDropped  uint64

	connSeq uint64
	tick    uint64
}

func NewSimulation(ctx *Context, logger *log.Logger) *Simulation {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Simulation{
		ctx:      ctx,
		logger:   logger,
		roomByID: map[RoomID]*Room{},
		connByID: map[ConnectorID]*Connector{},
		collByID: map[CollectionID]*Collection{},
		owners:   map[BodyID]*Room{},
	}
}

func (s *Simulation) Context() *Context { return s.ctx }
func (s *Simulation) Tick() uint64      { return s.tick }

// SetTick overrides the tick counter, used when restoring a snapshot.
func (s *Simulation) SetTick(t uint64) { s.tick = t }

// maxDiagnostics bounds the retained history; older entries are dropped.
const maxDiagnostics = 256

func (s *Simulation) diag(subject, format string, args ...any) {
	d := Diagnostic{Tick: s.tick, Subject: subject, Message: fmt.Sprintf(format, args...)}
	if len(s.diagnostics) == maxDiagnostics {
		copy(s.diagnostics, s.diagnostics[1:])
		s.diagnostics = s.diagnostics[:maxDiagnostics-1]
		s.diagDropped++
	}
	s.diagnostics = append(s.diagnostics, d)
	s.logger.Printf("tick=%d %s: %s", d.Tick, d.Subject, d.Message)
}

// Diagnostics returns the retained diagnostics, oldest first.
func (s *Simulation) Diagnostics() []Diagnostic { return s.DiagnosticsSince(0) }

// DiagnosticCount is the number of diagnostics ever recorded, including
// dropped ones. Pass it to DiagnosticsSince to read only later entries.
func (s *Simulation) DiagnosticCount() uint64 {
	return s.diagDropped + uint64(len(s.diagnostics))
}

// DiagnosticsSince returns the retained diagnostics numbered n and later.
func (s *Simulation) DiagnosticsSince(n uint64) []Diagnostic {
	start := 0
	if n > s.diagDropped {
		start = int(n - s.diagDropped)
	}
	if start >= len(s.diagnostics) {
		return nil
	}
	out := make([]Diagnostic, len(s.diagnostics)-start)
	copy(out, s.diagnostics[start:])
	return out
}

func (s *Simulation) AddRoom(spec RoomSpec) (*Room, error) {
	if _, dup := s.roomByID[spec.ID]; dup || spec.ID == "" {
		return nil, fmt.Errorf("room %q: %w", spec.ID, ErrDuplicateID)
	}
	r, err := NewRoom(s.ctx, spec)
	if err != nil {
		return nil, err
	}
	s.rooms = append(s.rooms, r)
	s.roomByID[r.id] = r
	return r, nil
}

// AddConnector pairs a connector against the rooms added so far. A region
// touching no room is rejected with ErrNoRooms and recorded as a diagnostic;
// the simulation itself is unaffected.
func (s *Simulation) AddConnector(spec ConnectorSpec) (*Connector, error) {
	if _, dup := s.connByID[spec.ID]; dup || spec.ID == "" {
		return nil, fmt.Errorf("connector %q: %w", spec.ID, ErrDuplicateID)
	}
	c, notes, err := newConnector(s.ctx, s.connSeq, spec, s.rooms)
	if err != nil {
		s.diag(string(spec.ID), "%v; connector removed", err)
		return nil, err
	}
	s.connSeq++
	for _, n := range notes {
		s.diag(string(spec.ID), "%s", n)
	}
	s.connectors = append(s.connectors, c)
	s.connByID[c.id] = c
	return c, nil
}

// RemoveConnector closes a connector and forgets it. Ambient voxels it
// created are removed from their room.
func (s *Simulation) RemoveConnector(id ConnectorID) error {
	if s.ctx.inTick.Load() {
		return ErrTickInProgress
	}
	c, ok := s.connByID[id]
	if !ok {
		return fmt.Errorf("connector %q: %w", id, ErrUnknownConnector)
	}
	c.teardown()
	delete(s.connByID, id)
	for i, x := range s.connectors {
		if x == c {
			s.connectors = append(s.connectors[:i], s.connectors[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Simulation) AddCollection(id CollectionID, box Box) (*Collection, error) {
	if _, dup := s.collByID[id]; dup || id == "" {
		return nil, fmt.Errorf("collection %q: %w", id, ErrDuplicateID)
	}
	c := newCollection(id, box, s.rooms)
	s.collections = append(s.collections, c)
	s.collByID[id] = c
	return c, nil
}

func (s *Simulation) Rooms() []*Room             { return s.rooms }
func (s *Simulation) Connectors() []*Connector   { return s.connectors }
func (s *Simulation) Collections() []*Collection { return s.collections }

func (s *Simulation) Room(id RoomID) (*Room, bool) {
	r, ok := s.roomByID[id]
	return r, ok
}

func (s *Simulation) Connector(id ConnectorID) (*Connector, bool) {
	c, ok := s.connByID[id]
	return c, ok
}

func (s *Simulation) Collection(id CollectionID) (*Collection, bool) {
	c, ok := s.collByID[id]
	return c, ok
}

// SetConnector opens or closes a connector immediately. Between ticks only.
func (s *Simulation) SetConnector(id ConnectorID, open bool) error {
	if s.ctx.inTick.Load() {
		return ErrTickInProgress
	}
	c, ok := s.connByID[id]
	if !ok {
		return fmt.Errorf("connector %q: %w", id, ErrUnknownConnector)
	}
	if open {
		c.Open()
	} else {
		c.Close()
	}
	return nil
}

// RequestConnector queues a toggle for the next topology settle.
func (s *Simulation) RequestConnector(id ConnectorID, open bool) error {
	c, ok := s.connByID[id]
	if !ok {
		return fmt.Errorf("connector %q: %w", id, ErrUnknownConnector)
	}
	c.request(open)
	return nil
}

// RequestMode queues a fidelity switch for the next topology settle. Pinned
// rooms are rejected here rather than at settle time.
func (s *Simulation) RequestMode(id RoomID, m Mode) error {
	r, ok := s.roomByID[id]
	if !ok {
		return fmt.Errorf("room %q: %w", id, ErrUnknownRoom)
	}
	if m == Full && r.pinned {
		return fmt.Errorf("room %q: %w", id, ErrPinnedCheap)
	}
	s.pendingModes = append(s.pendingModes, modeRequest{room: r, mode: m})
	return nil
}

// SetMode switches a room immediately. Between ticks only.
func (s *Simulation) SetMode(id RoomID, m Mode) error {
	if s.ctx.inTick.Load() {
		return ErrTickInProgress
	}
	r, ok := s.roomByID[id]
	if !ok {
		return fmt.Errorf("room %q: %w", id, ErrUnknownRoom)
	}
	return r.SetMode(m)
}

// Step advances every room by dt:
//  1. settle queued connector toggles and mode switches
//  2. snapshot Full room aggregates
//  3. connector cheap estimates and Cheap boundary mirroring
//  4. compute every voxel of every Full room
//  5. commit every voxel of every Full room
//  6. update Cheap room aggregates
//
// No commit runs before every compute has finished.
func (s *Simulation) Step(dt float64) error {
	if !s.ctx.beginTick() {
		return ErrTickInProgress
	}
	defer s.ctx.endTick()

	s.settle()

	var full, cheap []*Room
	for _, r := range s.rooms {
		switch r.mode {
		case Full:
			full = append(full, r)
		case Cheap:
			cheap = append(cheap, r)
		}
	}
	for _, r := range full {
		r.snapshot()
	}
	for _, c := range s.connectors {
		c.updateCheap()
	}

	if err := s.compute(full, dt); err != nil {
		return err
	}
	for _, r := range full {
		r.commit(dt)
	}
	for _, r := range cheap {
		r.tickCheap(dt)
	}
	s.tick++
	return nil
}

func (s *Simulation) settle() {
	for _, c := range s.connectors {
		c.settle()
	}
	for _, req := range s.pendingModes {
		if err := req.room.SetMode(req.mode); err != nil {
			s.diag(string(req.room.id), "mode switch: %v", err)
		}
	}
	s.pendingModes = s.pendingModes[:0]
}

// compute runs ComputeNext over the Full rooms. Each voxel writes only its
// own buffers and reads committed neighbour state, so rooms can fan out.
func (s *Simulation) compute(rooms []*Room, dt float64) error {
	workers := s.ctx.params.workers()
	if workers <= 1 || len(rooms) <= 1 {
		for _, r := range rooms {
			r.compute(dt)
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, r := range rooms {
		r := r
		g.Go(func() error {
			r.compute(dt)
			return nil
		})
	}
	return g.Wait()
}

// OnBodyEnter moves body ownership to the room, taking it from the previous owner.
func (s *Simulation) OnBodyEnter(id RoomID, body BodyID) error {
	r, ok := s.roomByID[id]
	if !ok {
		return fmt.Errorf("room %q: %w", id, ErrUnknownRoom)
	}
	if prev, ok := s.owners[body]; ok && prev != r {
		prev.bodyExit(body)
	}
	s.owners[body] = r
	r.bodyEnter(body)
	return nil
}

// OnBodyExit drops the body from the room. The registry entry is cleared
// only if this room is still the owner, so an enter into the next room
// followed by the exit from the previous one keeps the new owner.
func (s *Simulation) OnBodyExit(id RoomID, body BodyID) error {
	r, ok := s.roomByID[id]
	if !ok {
		return fmt.Errorf("room %q: %w", id, ErrUnknownRoom)
	}
	if owner, ok := s.owners[body]; ok && owner == r {
		delete(s.owners, body)
	}
	r.bodyExit(body)
	return nil
}

func (s *Simulation) OwnerOf(body BodyID) (*Room, bool) {
	r, ok := s.owners[body]
	return r, ok
}

// ForceAt returns the force from the first room (in insertion order)
// containing p.
func (s *Simulation) ForceAt(p mgl64.Vec3) (mgl64.Vec3, *Room, bool) {
	for _, r := range s.rooms {
		if f, ok := r.ForceAt(p); ok {
			return f, r, true
		}
	}
	return mgl64.Vec3{}, nil, false
}

// BodyForces evaluates the flow force on every owned body. locate reports a
// body's current position; bodies it cannot place are skipped, as are bodies
// that have left their owner's volume.
func (s *Simulation) BodyForces(locate func(BodyID) (mgl64.Vec3, bool)) map[BodyID]mgl64.Vec3 {
	out := make(map[BodyID]mgl64.Vec3, len(s.owners))
	for body, r := range s.owners {
		p, ok := locate(body)
		if !ok {
			continue
		}
		if f, ok := r.ForceAt(p); ok {
			out[body] = f
		}
	}
	return out
}
