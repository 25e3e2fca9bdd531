package bridge

import "errors"

var (
	ErrUnexpectedRequest = errors.New("bridge: unexpected request")
	ErrClientClosed      = errors.New("bridge: client closed")

	// ErrStopIteration is returned by a ForEach callback to stop pulling
	// without reporting a failure.
	ErrStopIteration = errors.New("bridge: stop iteration")
)
