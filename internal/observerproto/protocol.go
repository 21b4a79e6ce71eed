package observerproto

// Version is the observer protocol version (separate from the controller WS protocol).
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the room filter or cadence.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Rooms filters the frame; empty means every room.
	Rooms      []string `json:"rooms,omitempty"`
	EveryTicks int      `json:"every_ticks,omitempty"`
	// Voxels asks for the per-voxel atmosphere of FULL rooms.
	Voxels bool `json:"voxels,omitempty"`
}

// Server -> Client, every EveryTicks ticks.
type FrameMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Tick            uint64           `json:"tick"`
	Digest          string           `json:"digest"`
	Rooms           []RoomFrame      `json:"rooms"`
	Connectors      []ConnectorFrame `json:"connectors"`
	// Collections lists the collections holding at least one framed room.
	Collections []CollectionFrame `json:"collections,omitempty"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
}

type RoomFrame struct {
	ID               string     `json:"id"`
	Mode             string     `json:"mode"`
	Atmosphere       float64    `json:"atmosphere"`
	FlowMagnitude    float64    `json:"flow_magnitude"`
	AvgFlowMagnitude float64    `json:"avg_flow_magnitude"`
	CheapForce       [3]float64 `json:"cheap_force,omitempty"`
	Bodies           []string   `json:"bodies,omitempty"`
	// VoxelAtmosphere is the grid in storage order, packed with
	// encoding.EncodeField. Only set for FULL rooms on request.
	VoxelAtmosphere string `json:"voxel_atmosphere,omitempty"`
}

type ConnectorFrame struct {
	ID   string  `json:"id"`
	Open bool    `json:"open"`
	Flow float64 `json:"flow"`
}

// CollectionFrame totals are over the FULL member rooms only.
type CollectionFrame struct {
	ID                 string  `json:"id"`
	TotalAtmosphere    float64 `json:"total_atmosphere"`
	TotalFlowMagnitude float64 `json:"total_flow_magnitude"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string           `json:"protocol_version"`
	RunID           string           `json:"run_id"`
	Tick            uint64           `json:"tick"`
	TickRateHz      int              `json:"tick_rate_hz"`
	SceneDigest     string           `json:"scene_digest,omitempty"`
	Params          Params           `json:"params"`
	Rooms           []RoomInfo       `json:"rooms"`
	Connectors      []ConnectorInfo  `json:"connectors"`
	Collections     []CollectionInfo `json:"collections,omitempty"`
}

type Params struct {
	AmbientAtmosphere      float64 `json:"ambient_atmosphere"`
	VoxelRadius            float64 `json:"voxel_radius"`
	FlowRateConstant       float64 `json:"flow_rate_constant"`
	FlowVectorConstant     float64 `json:"flow_vector_constant"`
	FlowForceConstant      float64 `json:"flow_force_constant"`
	CheapFlowConstant      float64 `json:"cheap_flow_constant"`
	CheapAtmoDeltaConstant float64 `json:"cheap_atmo_delta_constant"`
	CheapFlowForceConstant float64 `json:"cheap_flow_force_constant"`
}

type RoomInfo struct {
	ID     string     `json:"id"`
	Center [3]float64 `json:"center"`
	Size   [3]float64 `json:"size"`
	Dims   [3]int     `json:"dims"`
	Mode   string     `json:"mode"`
	Pinned bool       `json:"pinned,omitempty"`
}

type ConnectorInfo struct {
	ID     string     `json:"id"`
	Center [3]float64 `json:"center"`
	Size   [3]float64 `json:"size"`
	RoomA  string     `json:"room_a"`
	// RoomB is empty for connectors to the ambient boundary.
	RoomB string `json:"room_b,omitempty"`
	Open  bool   `json:"open"`
	Pairs int    `json:"pairs"`
}

type CollectionInfo struct {
	ID    string   `json:"id"`
	Rooms []string `json:"rooms"`
}

// HTTP response for GET /v1/force.
type ForceResponse struct {
	Tick       uint64     `json:"tick"`
	Point      [3]float64 `json:"point"`
	Found      bool       `json:"found"`
	Room       string     `json:"room,omitempty"`
	Force      [3]float64 `json:"force"`
	Atmosphere float64    `json:"atmosphere"`
}

// HTTP response for GET /v1/sample. Found is false when the collection has
// no FULL room to sample.
type SampleResponse struct {
	Tick       uint64     `json:"tick"`
	Collection string     `json:"collection"`
	Found      bool       `json:"found"`
	Room       string     `json:"room,omitempty"`
	Point      [3]float64 `json:"point"`
	Atmosphere float64    `json:"atmosphere"`
	Flow       [3]float64 `json:"flow"`
}
