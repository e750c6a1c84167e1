// Package protocol owns the inbound message model shared by the coordinator,
// the correlator and the object cache.
//
// Ownership boundary:
// - envelope classification against a per-game kind table
// - payload decoding (schema-driven fields or structured records)
// - decode error taxonomy
//
// Sub-packages:
// - frame: envelope header and stream framing
// - wire: field-number-tagged payloads
// - record: declared-order binary records
// - schema: logical kinds, per-game tables, required fields
// - session: session config and shared-object wire messages
package protocol
