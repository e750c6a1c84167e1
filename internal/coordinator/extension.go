package coordinator

import (
	"fmt"

	"github.com/danmuck/gclink/internal/inventory"
	"github.com/danmuck/gclink/internal/protocol"
	"github.com/danmuck/gclink/internal/protocol/schema"
)

// Extension adds game-specific behavior to a session. Extensions are
// registered at construction; each inbound kind has at most one owner.
type Extension interface {
	Name() string
	// Kinds lists the inbound kinds delivered to OnMessage.
	Kinds() []schema.Kind
	// Attach is called once from New before any frame is dispatched.
	Attach(s *Session)
	// OnMessage runs on the dispatch goroutine after the session's own
	// handling and before the message is offered to pending requests.
	OnMessage(msg *protocol.Message)
	// HeartbeatPayload is appended to each keepalive; nil adds nothing.
	HeartbeatPayload() []byte
}

// Kinds the session handles itself; extensions cannot own them.
var reservedKinds = map[schema.Kind]bool{
	schema.KindHello:                true,
	schema.KindWelcome:              true,
	schema.KindGoodbye:              true,
	schema.KindConnectionStatus:     true,
	schema.KindHeartbeat:            true,
	schema.KindCacheSubscribed:      true,
	schema.KindCacheUnsubscribed:    true,
	schema.KindObjectCreate:         true,
	schema.KindObjectUpdate:         true,
	schema.KindObjectUpdateMultiple: true,
	schema.KindObjectDestroy:        true,
}

type registry struct {
	list      []Extension
	owners    map[schema.Kind]Extension
	requester inventory.ContainerRequester
}

func newRegistry(exts []Extension) (registry, error) {
	r := registry{owners: make(map[schema.Kind]Extension)}
	var requesterName string
	for _, ext := range exts {
		if ext == nil {
			continue
		}
		for _, k := range ext.Kinds() {
			if reservedKinds[k] {
				return registry{}, fmt.Errorf("%w: %s claims session kind %s", ErrExtensionConflict, ext.Name(), k)
			}
			if prev, ok := r.owners[k]; ok {
				return registry{}, fmt.Errorf("%w: kind %s claimed by %s and %s", ErrExtensionConflict, k, prev.Name(), ext.Name())
			}
			r.owners[k] = ext
		}
		if req, ok := ext.(inventory.ContainerRequester); ok {
			if r.requester != nil {
				return registry{}, fmt.Errorf("%w: container requests served by %s and %s", ErrExtensionConflict, requesterName, ext.Name())
			}
			r.requester, requesterName = req, ext.Name()
		}
		r.list = append(r.list, ext)
	}
	return r, nil
}
