package conn

import "errors"

var (
	ErrNotConnected    = errors.New("conn: not connected")
	ErrConnectTimeout  = errors.New("conn: connect timeout")
	ErrHandshakeFailed = errors.New("conn: handshake failed")
	ErrClosed          = errors.New("conn: closed")
	ErrQueueFull       = errors.New("conn: outbound queue full")
	ErrAlreadyStarted  = errors.New("conn: already started")
	ErrAlreadyBound    = errors.New("conn: frame handler already bound")
	ErrURLRequired     = errors.New("conn: url required")
)
