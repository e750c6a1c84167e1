package coordinator

import "fmt"

type State int32

const (
	StateDisconnected State = iota
	StateHandshakePending
	StateConnected
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshakePending:
		return "handshake_pending"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
