package econ

import (
	"context"

	"github.com/danmuck/gclink/internal/coordinator"
	"github.com/danmuck/gclink/internal/inventory"
	"github.com/danmuck/gclink/internal/protocol"
	"github.com/danmuck/gclink/internal/protocol/record"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/session"
	"github.com/danmuck/gclink/internal/protocol/wire"
)

var _ inventory.ContainerRequester = (*Extension)(nil)

func encodeContainerRequest(containerID, itemID uint64) []byte {
	b := wire.NewBuilder().Uint64(schema.FieldContainerID, containerID)
	if itemID != 0 {
		b.Uint64(schema.FieldContainerItem, itemID)
	}
	return b.Encode()
}

// containerCall sends a container request and waits for the notification
// that answers it. ok is the success code; fail is the code the server uses
// to refuse the request.
func (e *Extension) containerCall(ctx context.Context, op string, kind schema.Kind, containerID, itemID uint64, ok, fail uint32) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	msg, err := s.Request(ctx, coordinator.Call{
		Kind:    kind,
		Payload: encodeContainerRequest(containerID, itemID),
		Reply:   schema.KindCustomizationNotification,
		Match: notification(func(n Notification) bool {
			if !n.Has(containerID) {
				return false
			}
			if fail != 0 && n.Request == fail {
				return true
			}
			return n.Request == ok && (itemID == 0 || n.Has(itemID))
		}),
	})
	if err != nil {
		return err
	}
	n, err := DecodeNotification(msg.Fields)
	if err != nil {
		return err
	}
	if n.Request != ok {
		return &RequestFailedError{Request: op, Code: int64(n.Request)}
	}
	if n.Result != 0 {
		return &RequestFailedError{Request: op, Code: int64(n.Result)}
	}
	return nil
}

func (e *Extension) AddToContainer(ctx context.Context, containerID, itemID uint64) error {
	return e.containerCall(ctx, "container_add", schema.KindContainerAdd, containerID, itemID, NotifyContainerAdded, NotifyContainerFull)
}

func (e *Extension) RemoveFromContainer(ctx context.Context, containerID, itemID uint64) error {
	return e.containerCall(ctx, "container_remove", schema.KindContainerRemove, containerID, itemID, NotifyContainerRemoved, NotifyContainerInventoryFull)
}

// ListContainer returns once the server has sent the container's contents.
func (e *Extension) ListContainer(ctx context.Context, containerID uint64) error {
	return e.containerCall(ctx, "container_list", schema.KindContainerList, containerID, 0, NotifyContainerContents, 0)
}

func EncodeRename(toolID, itemID uint64, name string) []byte {
	return record.NewWriter().U64(toolID).U64(itemID).CString(name).Encode()
}

// Rename applies a name tag to an item. It returns once an object update
// carrying the new name for the item arrives.
func (e *Extension) Rename(ctx context.Context, toolID, itemID uint64, name string) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	itemType := s.Table().ItemTypeID
	_, err = s.Request(ctx, coordinator.Call{
		Kind:    schema.KindRename,
		Payload: EncodeRename(toolID, itemID, name),
		Reply:   schema.KindObjectUpdate,
		Match: func(m *protocol.Message) bool {
			so, err := session.DecodeSingleObject(m.Fields)
			if err != nil || so.Object.TypeID != itemType {
				return false
			}
			o, err := inventory.DecodeObject(so.Object.TypeID, so.Object.Data)
			return err == nil && o.ID == itemID && o.CustomName == name
		},
	})
	return err
}
