package events

import "errors"

var (
	// ErrOutOfBounds is returned for record indexes outside [0, capacity).
	ErrOutOfBounds = errors.New("event index out of bounds")
	// ErrNegativeTimestamp is returned when a setter is given a negative
	// timestamp; bit 31 is reserved.
	ErrNegativeTimestamp = errors.New("negative timestamp")
	// ErrAlreadyValid is returned when validating a valid record.
	ErrAlreadyValid = errors.New("event already valid")
	// ErrAlreadyInvalid is returned when invalidating an invalid record.
	ErrAlreadyInvalid = errors.New("event already invalid")
	// ErrPacketFull is returned by Validate once eventNumber reached capacity.
	ErrPacketFull = errors.New("packet event number at capacity")

	ErrInvalidCapacity    = errors.New("invalid event capacity")
	ErrAllocationOverflow = errors.New("packet size overflows")
	ErrBadLayout          = errors.New("bad record layout")
	ErrBadHeader          = errors.New("bad packet header")
	ErrSizeMismatch       = errors.New("packet length does not match header")
	ErrTypeMismatch       = errors.New("packet event type mismatch")
)
