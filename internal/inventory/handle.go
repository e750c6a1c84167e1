package inventory

import "sync"

// Kind is the variant currently stored in a slot.
type Kind uint8

const (
	KindItem Kind = iota
	KindContainer
)

func (k Kind) String() string {
	if k == KindContainer {
		return "container"
	}
	return "item"
}

// Handle is the stable reference to one object id. Code that must observe
// promotion keeps the Handle and re-reads Item or Container.
type Handle struct {
	id uint64

	mu        sync.RWMutex
	item      *Item
	container *Container
}

func (h *Handle) ID() uint64 {
	return h.id
}

// Item returns the current value for the slot. For a container this is the
// container's own item state.
func (h *Handle) Item() *Item {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.item
}

func (h *Handle) Container() (*Container, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.container, h.container != nil
}

func (h *Handle) Kind() Kind {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.container != nil {
		return KindContainer
	}
	return KindItem
}

func (h *Handle) set(it *Item, c *Container) {
	h.mu.Lock()
	h.item, h.container = it, c
	h.mu.Unlock()
}
