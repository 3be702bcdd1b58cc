package stream

import (
	"errors"
	"fmt"
)

// Sentinel errors for the buffering engine. Callers classify failures with
// errors.Is.
var (
	ErrInvalidArgument = errors.New("stream: invalid argument")
	ErrNotInitialized  = errors.New("stream: init segment not built")
	ErrMemoryLimit     = errors.New("stream: memory limit exceeded")
)

// ErrUnknownClusterRole is returned by Insert when a sample's cluster role
// does not map to a known header length. It matches ErrInvalidArgument.
var ErrUnknownClusterRole = fmt.Errorf("%w: unknown cluster role", ErrInvalidArgument)
