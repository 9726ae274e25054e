package sessions

import "errors"

var (
	ErrLockTimeout    = errors.New("sessions: lock timeout")
	ErrEmptyKey       = errors.New("sessions: empty session key")
	ErrUnknownControl = errors.New("sessions: unknown control message")
	ErrInvalidScope   = errors.New("sessions: invalid scope")
)
