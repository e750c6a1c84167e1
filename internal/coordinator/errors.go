package coordinator

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed     = errors.New("coordinator: session closed")
	ErrHandshakeTimeout  = errors.New("coordinator: handshake timeout")
	ErrExtensionConflict = errors.New("coordinator: extension conflict")
	ErrAlreadyBound      = errors.New("coordinator: session already bound")
	ErrNotConnected      = errors.New("coordinator: session not connected")
	ErrNotBound          = errors.New("coordinator: session not bound")
	ErrGoodbye           = errors.New("coordinator: goodbye received")
	ErrLostSession       = errors.New("coordinator: connection status reports no session")
	ErrTransportRequired = errors.New("coordinator: transport required")
)

// TransportError is a failure writing to the outer session. It is fatal to
// the coordinator session and is not retried here.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("coordinator: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
