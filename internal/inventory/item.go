package inventory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/gclink/internal/protocol/schema"
)

// JoinParentID rebuilds a 64-bit parent id from its two 32-bit halves.
func JoinParentID(low, high uint32) uint64 {
	return uint64(high)<<32 | uint64(low)
}

// Decoration is an applied decoration read from a slot's attribute group.
type Decoration struct {
	Slot uint32
	ID   uint32
	Wear float32
}

// Item is the mirrored state of one object. It is merged in place by the
// owning Inventory; accessors are safe from any goroutine.
type Item struct {
	attrs *schema.AttributeTable

	mu        sync.RWMutex
	obj       Object
	parent    uint64
	hasParent bool

	superseded atomic.Bool
}

func newItem(o Object, attrs *schema.AttributeTable) *Item {
	o = o.clone()
	o.Present = 0
	return &Item{obj: o, attrs: attrs}
}

// ID is fixed for the lifetime of the item.
func (it *Item) ID() uint64 {
	return it.obj.ID
}

func (it *Item) TypeID() uint32 {
	return it.obj.TypeID
}

func (it *Item) AccountID() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.AccountID
}

func (it *Item) Position() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.Position
}

func (it *Item) DefIndex() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.DefIndex
}

func (it *Item) Quantity() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.Quantity
}

func (it *Item) Level() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.Level
}

func (it *Item) Quality() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.Quality
}

func (it *Item) Flags() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.Flags
}

func (it *Item) Origin() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.Origin
}

func (it *Item) CustomName() string {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.CustomName
}

func (it *Item) CustomDesc() string {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.CustomDesc
}

func (it *Item) Attribute(def uint32) (Attribute, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	a, ok := it.obj.Attribute(def)
	if ok && a.ValueBytes != nil {
		a.ValueBytes = append([]byte(nil), a.ValueBytes...)
	}
	return a, ok
}

// Snapshot returns a copy of the current state.
func (it *Item) Snapshot() Object {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.obj.clone()
}

// TradableAfter is zero when the item carries no trade restriction.
func (it *Item) TradableAfter() time.Time {
	if it.attrs == nil || it.attrs.TradableAfter == 0 {
		return time.Time{}
	}
	a, ok := it.Attribute(it.attrs.TradableAfter)
	if !ok || a.Uint32() == 0 {
		return time.Time{}
	}
	return time.Unix(int64(a.Uint32()), 0).UTC()
}

func (it *Item) Decorations() []Decoration {
	if it.attrs == nil || it.attrs.DecorationStride == 0 {
		return nil
	}
	it.mu.RLock()
	defer it.mu.RUnlock()
	var out []Decoration
	for slot := uint32(0); slot < it.attrs.DecorationSlots; slot++ {
		base := it.attrs.DecorationBase + slot*it.attrs.DecorationStride
		id, ok := it.obj.Attribute(base)
		if !ok || id.Uint32() == 0 {
			continue
		}
		d := Decoration{Slot: slot, ID: id.Uint32()}
		if wear, ok := it.obj.Attribute(base + 1); ok {
			d.Wear = wear.Float32()
		}
		out = append(out, d)
	}
	return out
}

// ParentID reports the container holding this item, once known.
func (it *Item) ParentID() (uint64, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.parent, it.hasParent
}

// Superseded reports that the slot for this id now holds a different value,
// after promotion to a container. The item no longer receives updates.
func (it *Item) Superseded() bool {
	return it.superseded.Load()
}

func (it *Item) merge(o Object) {
	has := o.fields()
	it.mu.Lock()
	defer it.mu.Unlock()
	dst := &it.obj
	if has&HasAccount != 0 {
		dst.AccountID = o.AccountID
	}
	if has&HasPosition != 0 {
		dst.Position = o.Position
	}
	if has&HasDefIndex != 0 {
		dst.DefIndex = o.DefIndex
	}
	if has&HasQuantity != 0 {
		dst.Quantity = o.Quantity
	}
	if has&HasLevel != 0 {
		dst.Level = o.Level
	}
	if has&HasQuality != 0 {
		dst.Quality = o.Quality
	}
	if has&HasFlags != 0 {
		dst.Flags = o.Flags
	}
	if has&HasOrigin != 0 {
		dst.Origin = o.Origin
	}
	if has&HasCustomName != 0 {
		dst.CustomName = o.CustomName
	}
	if has&HasCustomDesc != 0 {
		dst.CustomDesc = o.CustomDesc
	}
	if has&HasAttributes != 0 {
		dst.Attributes = o.clone().Attributes
	}
}

// encodedParent decodes the parent id carried in the containment attributes.
func (it *Item) encodedParent() (uint64, bool) {
	if it.attrs == nil || it.attrs.ContainerLow == 0 {
		return 0, false
	}
	it.mu.RLock()
	defer it.mu.RUnlock()
	low, okLow := it.obj.Attribute(it.attrs.ContainerLow)
	high, okHigh := it.obj.Attribute(it.attrs.ContainerHigh)
	if !okLow || !okHigh {
		return 0, false
	}
	id := JoinParentID(low.Uint32(), high.Uint32())
	return id, id != 0
}

func (it *Item) setParent(id uint64) {
	it.mu.Lock()
	it.parent, it.hasParent = id, true
	it.mu.Unlock()
}

func (it *Item) clearParent() {
	it.mu.Lock()
	it.parent, it.hasParent = 0, false
	it.mu.Unlock()
}

func (it *Item) setAttribute(a Attribute) {
	it.mu.Lock()
	defer it.mu.Unlock()
	for i := range it.obj.Attributes {
		if it.obj.Attributes[i].Def == a.Def {
			it.obj.Attributes[i] = a
			return
		}
	}
	it.obj.Attributes = append(it.obj.Attributes, a)
}

// copyItem builds a fresh item with the same state for a slot replacement.
func (it *Item) copyItem() *Item {
	it.mu.RLock()
	defer it.mu.RUnlock()
	out := &Item{obj: it.obj.clone(), attrs: it.attrs, parent: it.parent, hasParent: it.hasParent}
	return out
}

func (it *Item) isContainer() bool {
	if it.attrs == nil {
		return false
	}
	return it.attrs.IsContainerDef(it.DefIndex())
}
