package relay

import "errors"

var (
	ErrMalformedEnvelope = errors.New("relay: malformed envelope")
	ErrUnknownType       = errors.New("relay: unknown envelope type")
	ErrServerOnlyType    = errors.New("relay: envelope type is server generated")
	ErrInvalidSignal     = errors.New("relay: invalid signaling payload")

	ErrRoomExists   = errors.New("relay: room already exists")
	ErrRoomNotFound = errors.New("relay: room not found")

	ErrRelayClosed = errors.New("relay: closed")
)
