package protocol

import "errors"

var (
	ErrUnsupportedVersion       = errors.New("protocol: unsupported protocol version")
	ErrUnsupportedSerialization = errors.New("protocol: unsupported serialization format")
	ErrMalformedMessage         = errors.New("protocol: malformed message")
	ErrSourceSetMismatch        = errors.New("protocol: data and metadata source sets differ")
)
