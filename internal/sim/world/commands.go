package world

import (
	"errors"

	"github.com/peterwerner/spaceship-sim/internal/protocol"
	"github.com/peterwerner/spaceship-sim/internal/sim/flow"
)

// applyCmd runs before the step of the current tick. Connector toggles and
// mode switches are queued on the simulation and settle at the start of the
// step; body events apply immediately.
func (w *World) applyCmd(c protocol.CmdMsg) (code string, err error) {
	if err := c.Check(); err != nil {
		return protocol.ErrBadRequest, err
	}
	switch c.Kind {
	case protocol.CmdOpenConnector:
		err = w.sim.RequestConnector(flow.ConnectorID(c.Connector), true)
	case protocol.CmdCloseConnector:
		err = w.sim.RequestConnector(flow.ConnectorID(c.Connector), false)
	case protocol.CmdSetMode:
		m, perr := flow.ParseMode(c.Mode)
		if perr != nil {
			return protocol.ErrBadRequest, perr
		}
		err = w.sim.RequestMode(flow.RoomID(c.Room), m)
	case protocol.CmdBodyEnter:
		err = w.sim.OnBodyEnter(flow.RoomID(c.Room), flow.BodyID(c.Body))
	case protocol.CmdBodyExit:
		err = w.sim.OnBodyExit(flow.RoomID(c.Room), flow.BodyID(c.Body))
	}
	return codeFor(err), err
}

func codeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, flow.ErrUnknownRoom), errors.Is(err, flow.ErrUnknownConnector):
		return protocol.ErrNotFound
	case errors.Is(err, flow.ErrPinnedCheap), errors.Is(err, flow.ErrTickInProgress):
		return protocol.ErrConflict
	default:
		return protocol.ErrInternal
	}
}
