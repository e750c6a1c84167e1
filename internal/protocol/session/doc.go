// Package session owns coordinator sub-session wire helpers.
//
// Ownership boundary:
// - session timing config and defaults
// - hello re-send backoff
// - handshake and shared-object (create/update/destroy/subscribed) wire messages
//
// The state machine that drives these lives in internal/coordinator.
package session
