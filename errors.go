package perfevent

import "errors"

var (
	// ErrTargetNotSet is returned by the Builder if the pid or cpu target is missing
	ErrTargetNotSet = errors.New("pid and cpu target must both be set")
	// ErrInvalidRingBufferPages is returned by BuildSampling if the ring buffer page count is not 1+2^n
	ErrInvalidRingBufferPages = errors.New("ring buffer page count must be 1+2^n")
	// ErrAttrMode is returned if a counting attr is used to build a sampling session or vice versa
	ErrAttrMode = errors.New("attr mode does not match the session kind")
	// ErrClosed is returned when using a session after it has been closed
	ErrClosed = errors.New("session is closed")
	// ErrEmptyGroup is returned when enabling or reading a counting group without members
	ErrEmptyGroup = errors.New("counting group has no members")
	// ErrUnknownEvent is returned when a type and config pair can't be decoded to an Event
	ErrUnknownEvent = errors.New("unknown event")
)
