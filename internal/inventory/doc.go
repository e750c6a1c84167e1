// Package inventory mirrors one account's server-owned objects for a
// coordinator session.
//
// Ownership:
// - Inventory owns the slot table (object id -> Handle) and applies mutation
//   events in arrival order.
// - Handle is the stable reference application code should keep. The value
//   behind it is an *Item, or a *Container once the object is known to hold
//   other objects.
// - Items are merged in place, so any holder of an *Item observes updates.
//   Promotion to a container builds a new value for the slot; holders of the
//   old *Item keep a stale copy and can detect it with Superseded.
//
// Containment:
// - Parent ids travel as two 32-bit attributes on the child and are decoded
//   with the table's low/high attribute indexes.
// - A child whose parent is not present yet is kept as a pending lookup and
//   attached when the container arrives.
// - Container Add/Remove commit the child's parent id and the container's
//   count only after the server confirms the request.
//
// Drift:
// - An update for an unknown object triggers a snapshot refetch. Concurrent
//   triggers share one in-flight fetch. Objects still unknown afterwards are
//   logged and dropped.
package inventory
