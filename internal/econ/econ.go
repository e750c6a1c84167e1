// Package econ is the economy-item extension of a coordinator session:
// crafting, inspection, renaming and storage containers.
package econ

import (
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/gclink/internal/coordinator"
	"github.com/danmuck/gclink/internal/protocol"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotAttached = errors.New("econ: extension not attached to a session")
	ErrEmptyCraft  = errors.New("econ: craft needs at least one item")

	// ErrCraftTooLarge rejects a craft naming more items than its record's u16 count holds.
	ErrCraftTooLarge = errors.New("econ: craft names too many items")
)

// Customization notification request codes.
const (
	NotifyContainerFull          uint32 = 1011
	NotifyContainerContents      uint32 = 1012
	NotifyContainerAdded         uint32 = 1013
	NotifyContainerRemoved       uint32 = 1014
	NotifyContainerInventoryFull uint32 = 1015
)

// RequestFailedError is a definite negative answer from the server, as
// opposed to a timeout.
type RequestFailedError struct {
	Request string
	Code    int64
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("econ: %s failed code=%d", e.Request, e.Code)
}

// Notification is a decoded customization notification.
type Notification struct {
	ItemIDs []uint64
	Request uint32
	Result  uint32
}

// Has reports whether id is among the notification's item ids.
func (n Notification) Has(id uint64) bool {
	return slices.Contains(n.ItemIDs, id)
}

func DecodeNotification(fields wire.Fields) (Notification, error) {
	var n Notification
	for _, f := range fields.All(schema.FieldNotifyItemIDs) {
		if f.Type != wire.TypeVarint {
			return Notification{}, fmt.Errorf("%w: field %d", wire.ErrTypeMismatch, schema.FieldNotifyItemIDs)
		}
		n.ItemIDs = append(n.ItemIDs, f.Int)
	}
	var err error
	if n.Request, err = fields.Uint32(schema.FieldNotifyRequest); err != nil {
		return Notification{}, err
	}
	if n.Result, err = fields.Uint32(schema.FieldNotifyResult); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func EncodeNotification(n Notification) []byte {
	b := wire.NewBuilder()
	for _, id := range n.ItemIDs {
		b.Uint64(schema.FieldNotifyItemIDs, id)
	}
	b.Uint32(schema.FieldNotifyRequest, n.Request)
	if n.Result != 0 {
		b.Uint32(schema.FieldNotifyResult, n.Result)
	}
	return b.Encode()
}

// Extension implements coordinator.Extension and inventory.ContainerRequester.
type Extension struct {
	s *coordinator.Session
}

func New() *Extension {
	return &Extension{}
}

func (e *Extension) Name() string {
	return "econ"
}

func (e *Extension) Kinds() []schema.Kind {
	return []schema.Kind{
		schema.KindCraftResponse,
		schema.KindInspectResponse,
		schema.KindCustomizationNotification,
	}
}

func (e *Extension) Attach(s *coordinator.Session) {
	e.s = s
}

func (e *Extension) OnMessage(msg *protocol.Message) {
	switch msg.Kind {
	case schema.KindCustomizationNotification:
		n, err := DecodeNotification(msg.Fields)
		if err != nil {
			log.Warn().Uint32("app", msg.Envelope.AppID).Err(err).Msg("econ.Extension.OnMessage bad notification")
			return
		}
		log.Debug().Uint32("app", msg.Envelope.AppID).Uint32("request", n.Request).Uint32("result", n.Result).Int("items", len(n.ItemIDs)).Msg("econ.Extension notification")
	default:
		log.Debug().Uint32("app", msg.Envelope.AppID).Str("kind", msg.Kind.String()).Msg("econ.Extension response")
	}
}

func (e *Extension) HeartbeatPayload() []byte {
	return nil
}

func (e *Extension) session() (*coordinator.Session, error) {
	if e.s == nil {
		return nil, ErrNotAttached
	}
	return e.s, nil
}

// notification builds a predicate over customization notifications.
func notification(fn func(Notification) bool) func(*protocol.Message) bool {
	return func(m *protocol.Message) bool {
		n, err := DecodeNotification(m.Fields)
		if err != nil {
			return false
		}
		return fn(n)
	}
}
