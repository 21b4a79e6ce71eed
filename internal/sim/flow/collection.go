package flow

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
)

type CollectionID string

// Collection is a named group of rooms overlapping a region. Particle
// emitters and other effects query it instead of individual rooms.
type Collection struct {
	id    CollectionID
	box   Box
	rooms []*Room
}

func newCollection(id CollectionID, box Box, rooms []*Room) *Collection {
	c := &Collection{id: id, box: box}
	for _, r := range rooms {
		if r.box.Intersects(box) {
			c.rooms = append(c.rooms, r)
		}
	}
	return c
}

func (c *Collection) ID() CollectionID { return c.id }
func (c *Collection) Box() Box         { return c.box }
func (c *Collection) Rooms() []*Room   { return c.rooms }

// ForceAt returns the force from the first member room containing p.
func (c *Collection) ForceAt(p mgl64.Vec3, onlyFull bool) (mgl64.Vec3, *Room, bool) {
	for _, r := range c.rooms {
		if onlyFull && r.mode != Full {
			continue
		}
		if f, ok := r.ForceAt(p); ok {
			return f, r, true
		}
	}
	return mgl64.Vec3{}, nil, false
}

const roomWeightBaseline = 0.001

// RandomRoomWeighted picks a Full room, favouring rooms with more flow
// (flowBias) and more atmosphere (atmoBias). Both biases must be in [0,1];
// whatever is left of 1 after the biases is spread uniformly.
func (c *Collection) RandomRoomWeighted(rng *rand.Rand, flowBias, atmoBias float64) (*Room, error) {
	if flowBias < 0 || flowBias > 1 || atmoBias < 0 || atmoBias > 1 {
		return nil, fmt.Errorf("%w: bias outside [0,1] (flow=%v atmo=%v)", ErrInvalidParams, flowBias, atmoBias)
	}
	maxFlow := math.Inf(-1)
	for _, r := range c.rooms {
		if r.mode == Full {
			maxFlow = math.Max(maxFlow, roomWeightBaseline+r.flowMagnitude)
		}
	}
	if math.IsInf(maxFlow, -1) {
		return nil, ErrNoRooms
	}
	uniform := math.Max(0, 1-(flowBias+atmoBias))
	weight := func(r *Room) float64 {
		return flowBias*(roomWeightBaseline+r.flowMagnitude)/maxFlow +
			atmoBias*(roomWeightBaseline+math.Max(0, r.atmosphere)) +
			uniform
	}

	var sum float64
	var last *Room
	for _, r := range c.rooms {
		if r.mode == Full {
			sum += weight(r)
			last = r
		}
	}
	pick := rng.Float64() * sum
	for _, r := range c.rooms {
		if r.mode != Full {
			continue
		}
		pick -= weight(r)
		if pick < 0 {
			return r, nil
		}
	}
	return last, nil
}

// TotalAtmosphere sums the aggregate atmosphere of the Full rooms.
func (c *Collection) TotalAtmosphere() float64 {
	var total float64
	for _, r := range c.rooms {
		if r.mode == Full {
			total += r.atmosphere
		}
	}
	return total
}

func (c *Collection) TotalFlowMagnitude() float64 {
	var total float64
	for _, r := range c.rooms {
		if r.mode == Full {
			total += r.flowMagnitude
		}
	}
	return total
}
