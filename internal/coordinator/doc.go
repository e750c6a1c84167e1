// Package coordinator runs one game-coordinator sub-session over an outer
// session transport.
//
// Lifecycle:
// - Disconnected -> HandshakePending on Bind; hello is sent and re-sent on a
//   backoff schedule until welcome arrives or the handshake times out.
// - HandshakePending -> Connected on welcome; the heartbeat loop starts.
// - Connected -> Ready once a full cache resync has been applied.
// - Any state -> Disconnected on goodbye, lost connection status, transport
//   failure or Close. Pending requests fail with ErrSessionClosed, the
//   heartbeat stops and the inventory is cleared.
//
// Concurrency:
// - One dispatch goroutine per session applies inbound frames in arrival
//   order and is the only writer of the inventory.
// - Background work (hello re-sends, heartbeat, drift repair) never touches
//   the inventory directly; it posts closures back to the dispatch goroutine.
// - Event callbacks run on the dispatch goroutine and must not wait on
//   operations that need it, such as Container.Add.
package coordinator
