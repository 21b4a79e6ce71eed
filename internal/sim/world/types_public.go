package world

import "github.com/peterwerner/spaceship-sim/internal/protocol"

// CmdRequest carries one controller command into the world loop. The ACK is
// delivered on Resp without blocking; a full Resp drops it.
type CmdRequest struct {
	Cmd  protocol.CmdMsg
	Resp chan<- protocol.AckMsg
}

// ObserverJoinRequest registers a frame stream.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte

	Rooms      []string
	EveryTicks int
	Voxels     bool
}

// ObserverSubscribeRequest updates an existing observer session.
type ObserverSubscribeRequest struct {
	SessionID  string
	Rooms      []string
	EveryTicks int
	Voxels     bool
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry is everything needed to replay one tick on top of a snapshot,
// plus a per-room summary for the index.
type TickLogEntry struct {
	RunID    string            `json:"run_id"`
	Tick     uint64            `json:"tick"`
	Dt       float64           `json:"dt"`
	Commands []protocol.CmdMsg `json:"commands,omitempty"`
	Digest   string            `json:"digest"`
	Rooms    []RoomSample      `json:"rooms,omitempty"`
}

type RoomSample struct {
	ID            string  `json:"id"`
	Mode          string  `json:"mode"`
	Atmosphere    float64 `json:"atmosphere"`
	FlowMagnitude float64 `json:"flow_magnitude"`
	Bodies        int     `json:"bodies,omitempty"`
}
