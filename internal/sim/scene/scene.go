// Package scene loads the station layout (rooms, connectors, collections)
// and builds a flow.Simulation from it.
package scene

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

//go:embed scene.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("scene.schema.json", schemaJSON)

type Vec3 [3]float64

func (v Vec3) mgl() mgl64.Vec3 { return mgl64.Vec3(v) }

type Scene struct {
	Name        string       `yaml:"name" json:"name,omitempty"`
	Rooms       []Room       `yaml:"rooms" json:"rooms"`
	Connectors  []Connector  `yaml:"connectors" json:"connectors,omitempty"`
	Collections []Collection `yaml:"collections" json:"collections,omitempty"`

	// Digest is the sha256 of the source bytes.
	Digest string `yaml:"-" json:"-"`
}

type Room struct {
	ID          string   `yaml:"id" json:"id"`
	Center      Vec3     `yaml:"center" json:"center"`
	Size        Vec3     `yaml:"size" json:"size"`
	RotationDeg Vec3     `yaml:"rotation_deg" json:"rotation_deg"`
	Atmosphere  *float64 `yaml:"atmosphere" json:"atmosphere,omitempty"`
	Mode        string   `yaml:"mode" json:"mode,omitempty"`
	PinCheap    bool     `yaml:"pin_cheap" json:"pin_cheap,omitempty"`
}

type Connector struct {
	ID          string   `yaml:"id" json:"id"`
	Center      Vec3     `yaml:"center" json:"center"`
	Size        Vec3     `yaml:"size" json:"size"`
	RotationDeg Vec3     `yaml:"rotation_deg" json:"rotation_deg"`
	Open        bool     `yaml:"open" json:"open"`
	Ignore      []string `yaml:"ignore" json:"ignore,omitempty"`
}

type Collection struct {
	ID          string `yaml:"id" json:"id"`
	Center      Vec3   `yaml:"center" json:"center"`
	Size        Vec3   `yaml:"size" json:"size"`
	RotationDeg Vec3   `yaml:"rotation_deg" json:"rotation_deg"`
}

func Load(path string) (Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scene{}, err
	}
	s, err := Parse(raw)
	if err != nil {
		return Scene{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse validates raw YAML against the scene schema, then decodes it.
func Parse(raw []byte) (Scene, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Scene{}, fmt.Errorf("scene yaml: %w", err)
	}
	// Round-trip through JSON so the validator sees plain JSON values.
	js, err := json.Marshal(doc)
	if err != nil {
		return Scene{}, fmt.Errorf("scene yaml: %w", err)
	}
	var generic any
	if err := json.Unmarshal(js, &generic); err != nil {
		return Scene{}, fmt.Errorf("scene yaml: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return Scene{}, fmt.Errorf("scene schema: %w", err)
	}

	var s Scene
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Scene{}, fmt.Errorf("scene yaml: %w", err)
	}
	if err := s.check(); err != nil {
		return Scene{}, err
	}
	sum := sha256.Sum256(raw)
	s.Digest = hex.EncodeToString(sum[:])
	return s, nil
}

func (s Scene) check() error {
	rooms := map[string]bool{}
	for _, r := range s.Rooms {
		if rooms[r.ID] {
			return fmt.Errorf("scene: duplicate room id %q", r.ID)
		}
		rooms[r.ID] = true
		if _, err := flow.ParseMode(r.Mode); err != nil {
			return fmt.Errorf("scene: room %q: %w", r.ID, err)
		}
		if r.PinCheap && r.Mode == "FULL" {
			return fmt.Errorf("scene: room %q is pinned cheap but declares mode FULL", r.ID)
		}
	}
	conns := map[string]bool{}
	for _, c := range s.Connectors {
		if conns[c.ID] {
			return fmt.Errorf("scene: duplicate connector id %q", c.ID)
		}
		conns[c.ID] = true
		for _, id := range c.Ignore {
			if !rooms[id] {
				return fmt.Errorf("scene: connector %q ignores unknown room %q", c.ID, id)
			}
		}
	}
	colls := map[string]bool{}
	for _, c := range s.Collections {
		if colls[c.ID] {
			return fmt.Errorf("scene: duplicate collection id %q", c.ID)
		}
		colls[c.ID] = true
	}
	return nil
}

func box(center, size, rot Vec3) flow.Box {
	if rot == (Vec3{}) {
		return flow.NewBox(center.mgl(), size.mgl())
	}
	return flow.NewBoxEuler(center.mgl(), size.mgl(), rot.mgl())
}

// Build creates the simulation. Connectors whose region touches no room are
// dropped with a diagnostic; any other failure aborts the build.
func Build(s Scene, ctx *flow.Context, logger *log.Logger) (*flow.Simulation, error) {
	sim := flow.NewSimulation(ctx, logger)
	for _, r := range s.Rooms {
		atmo := 1.0
		if r.Atmosphere != nil {
			atmo = *r.Atmosphere
		}
		mode, _ := flow.ParseMode(r.Mode)
		if _, err := sim.AddRoom(flow.RoomSpec{
			ID:         flow.RoomID(r.ID),
			Box:        box(r.Center, r.Size, r.RotationDeg),
			Atmosphere: atmo,
			Mode:       mode,
			PinCheap:   r.PinCheap,
		}); err != nil {
			return nil, err
		}
	}
	for _, c := range s.Connectors {
		ignore := make([]flow.RoomID, 0, len(c.Ignore))
		for _, id := range c.Ignore {
			ignore = append(ignore, flow.RoomID(id))
		}
		_, err := sim.AddConnector(flow.ConnectorSpec{
			ID:     flow.ConnectorID(c.ID),
			Box:    box(c.Center, c.Size, c.RotationDeg),
			Open:   c.Open,
			Ignore: ignore,
		})
		if err != nil && !errors.Is(err, flow.ErrNoRooms) {
			return nil, err
		}
	}
	for _, c := range s.Collections {
		if _, err := sim.AddCollection(flow.CollectionID(c.ID), box(c.Center, c.Size, c.RotationDeg)); err != nil {
			return nil, err
		}
	}
	return sim, nil
}
