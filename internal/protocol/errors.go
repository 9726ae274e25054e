package protocol

import "errors"

var (
	ErrMalformedEvent = errors.New("protocol: malformed event")
	ErrMissingField   = errors.New("protocol: missing required field")
	ErrEmptyContent   = errors.New("protocol: empty content")
)
