package flow

import "errors"

var (
	ErrInvalidParams    = errors.New("flow: invalid params")
	ErrTickInProgress   = errors.New("flow: tick in progress")
	ErrNoRooms          = errors.New("flow: connector region intersects no rooms")
	ErrPinnedCheap      = errors.New("flow: room is pinned to cheap simulation")
	ErrUnknownRoom      = errors.New("flow: unknown room")
	ErrUnknownConnector = errors.New("flow: unknown connector")
	ErrDuplicateID      = errors.New("flow: duplicate id")
	ErrEmptyRegion      = errors.New("flow: region has no volume")
)
