package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/gclink/internal/observability"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Fetcher supplies an authoritative snapshot of an account's inventory.
type Fetcher interface {
	FetchInventory(ctx context.Context, accountID uint64, appID uint32) ([]Object, error)
}

// Observer is told about mirror changes on the goroutine applying events.
type Observer interface {
	ItemCreated(h *Handle)
	ItemUpdated(h *Handle)
	ItemDestroyed(h *Handle)
}

type Config struct {
	AppID     uint32
	AccountID uint64
	Table     schema.Table
	Fetcher   Fetcher
	Requester ContainerRequester
	Observer  Observer
	// Post runs fn on the goroutine that applies events. Nil runs fn inline.
	Post func(fn func()) error
	// ContentsTimeout bounds Container.Contents when ctx has no deadline.
	ContentsTimeout time.Duration
}

// EventKind tags a mutation event.
type EventKind uint8

const (
	EventCreate EventKind = iota + 1
	EventUpdate
	EventUpdateMultiple
	EventDestroy
	EventCacheSubscribed
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventUpdateMultiple:
		return "update_multiple"
	case EventDestroy:
		return "destroy"
	case EventCacheSubscribed:
		return "cache_subscribed"
	default:
		return "unknown"
	}
}

// Event is one mutation. Destroy only reads object ids. Total is the
// server-side object count of a resync, zero when not reported.
type Event struct {
	Kind    EventKind
	Objects []Object
	Total   uint32
}

func Create(o Object) Event {
	return Event{Kind: EventCreate, Objects: []Object{o}}
}

func Update(o Object) Event {
	return Event{Kind: EventUpdate, Objects: []Object{o}}
}

func UpdateMultiple(os ...Object) Event {
	return Event{Kind: EventUpdateMultiple, Objects: os}
}

func Destroy(id uint64) Event {
	return Event{Kind: EventDestroy, Objects: []Object{{ID: id}}}
}

func CacheSubscribed(total uint32, os ...Object) Event {
	return Event{Kind: EventCacheSubscribed, Objects: os, Total: total}
}

// lookup is a child waiting for its parent container to appear.
type lookup struct {
	parent uint64
	done   chan struct{}
}

type Inventory struct {
	cfg   Config
	attrs *schema.AttributeTable

	mu       sync.RWMutex
	slots    map[uint64]*Handle
	order    []uint64
	reported uint32
	loaded   bool
	gen      uint64
	pending  map[uint64]*lookup
	changed  map[uint64]chan struct{}
	reset    chan struct{}

	group   singleflight.Group
	repairs sync.WaitGroup
}

func New(cfg Config) *Inventory {
	attrs := cfg.Table.Attributes
	return &Inventory{
		cfg:     cfg,
		attrs:   &attrs,
		slots:   make(map[uint64]*Handle),
		pending: make(map[uint64]*lookup),
		changed: make(map[uint64]chan struct{}),
		reset:   make(chan struct{}),
	}
}

func (inv *Inventory) AppID() uint32 {
	return inv.cfg.AppID
}

// Get returns the handle for id, or nil.
func (inv *Inventory) Get(id uint64) *Handle {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.slots[id]
}

func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.slots)
}

// Items returns every handle in insertion order.
func (inv *Inventory) Items() []*Handle {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]*Handle, 0, len(inv.order))
	for _, id := range inv.order {
		out = append(out, inv.slots[id])
	}
	return out
}

// Reported is the server's object count from the last resync or snapshot.
func (inv *Inventory) Reported() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return int(inv.reported)
}

// Drift is the reported count minus the mirrored count, zero when unknown.
func (inv *Inventory) Drift() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	if inv.reported == 0 {
		return 0
	}
	return int(inv.reported) - len(inv.slots)
}

// Loaded reports whether the mirror was materialized by a resync or snapshot.
func (inv *Inventory) Loaded() bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.loaded
}

// Apply applies one event. It never fails: unknown objects are repaired in
// the background or dropped with a log line.
func (inv *Inventory) Apply(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventCreate:
		for _, o := range ev.Objects {
			inv.create(o)
		}
	case EventUpdate, EventUpdateMultiple:
		var unknown []Object
		for _, o := range ev.Objects {
			if !inv.update(o) {
				unknown = append(unknown, o)
			}
		}
		if len(unknown) > 0 {
			inv.repair(ctx, unknown)
		}
	case EventDestroy:
		for _, o := range ev.Objects {
			inv.destroy(o.ID)
		}
	case EventCacheSubscribed:
		inv.resync(ev.Objects, ev.Total)
	default:
		log.Warn().Uint32("app", inv.cfg.AppID).Uint8("kind", uint8(ev.Kind)).Msg("inventory.Apply unknown event kind")
		return
	}
	observability.SetCachedObjects(inv.cfg.AppID, inv.Len())
}

// Load materializes the mirror from the snapshot fetcher. It does nothing
// once the mirror is loaded and holds as many objects as the server reported;
// a resync that delivered fewer than its total is filled from the snapshot.
func (inv *Inventory) Load(ctx context.Context) error {
	if inv.Loaded() && inv.Drift() <= 0 {
		return nil
	}
	if inv.cfg.Fetcher == nil {
		return ErrNoFetcher
	}
	objs, err := inv.fetch(ctx)
	if err != nil {
		return err
	}
	return inv.run(ctx, func() {
		inv.fill(objs)
		inv.mu.Lock()
		inv.loaded = true
		if inv.reported == 0 {
			inv.reported = uint32(len(objs))
		}
		inv.mu.Unlock()
		observability.SetCachedObjects(inv.cfg.AppID, inv.Len())
	})
}

// Clear drops every object. Handles held elsewhere stay readable but are no
// longer updated.
func (inv *Inventory) Clear() {
	inv.mu.Lock()
	inv.slots = make(map[uint64]*Handle)
	inv.order = nil
	inv.reported = 0
	inv.loaded = false
	inv.gen++
	inv.pending = make(map[uint64]*lookup)
	for id, ch := range inv.changed {
		close(ch)
		delete(inv.changed, id)
	}
	close(inv.reset)
	inv.reset = make(chan struct{})
	inv.mu.Unlock()
	observability.SetCachedObjects(inv.cfg.AppID, 0)
}

// Parent returns the container holding id, waiting while the container is
// still a pending lookup. It returns nil when the object is not contained.
func (inv *Inventory) Parent(ctx context.Context, id uint64) (*Container, error) {
	for {
		inv.mu.RLock()
		h := inv.slots[id]
		if h == nil {
			inv.mu.RUnlock()
			return nil, &UnknownObjectError{ID: id}
		}
		pid, ok := h.Item().ParentID()
		if !ok {
			inv.mu.RUnlock()
			return nil, nil
		}
		if ph := inv.slots[pid]; ph != nil {
			if c, ok := ph.Container(); ok {
				inv.mu.RUnlock()
				return c, nil
			}
		}
		lk := inv.pending[id]
		inv.mu.RUnlock()
		if lk == nil {
			return nil, &UnknownObjectError{ID: pid}
		}
		select {
		case <-lk.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (inv *Inventory) create(o Object) {
	h, created := inv.upsert(o)
	if created {
		inv.notifyCreated(h)
	} else {
		inv.notifyUpdated(h)
	}
}

func (inv *Inventory) update(o Object) bool {
	if inv.Get(o.ID) == nil {
		return false
	}
	h, _ := inv.upsert(o)
	inv.notifyUpdated(h)
	return true
}

// fill inserts snapshot objects the mirror does not hold yet. Objects already
// present are left alone since the event stream may be newer than the snapshot.
func (inv *Inventory) fill(objs []Object) {
	for _, o := range objs {
		if inv.Get(o.ID) != nil {
			continue
		}
		if o.TypeID == 0 {
			o.TypeID = inv.cfg.Table.ItemTypeID
		}
		h, _ := inv.upsert(o)
		inv.notifyCreated(h)
	}
}

func (inv *Inventory) resync(objs []Object, total uint32) {
	seen := make(map[uint64]struct{}, len(objs))
	for _, o := range objs {
		seen[o.ID] = struct{}{}
		inv.create(o)
	}
	var stale []uint64
	inv.mu.Lock()
	for _, id := range inv.order {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	if total == 0 {
		total = uint32(len(objs))
	}
	inv.reported = total
	inv.loaded = true
	inv.mu.Unlock()
	for _, id := range stale {
		inv.destroy(id)
	}
	log.Info().Uint32("app", inv.cfg.AppID).Int("objects", len(objs)).Uint32("reported", total).Int("stale", len(stale)).Msg("inventory.resync applied")
}

// upsert inserts o or merges it into the existing slot, promoting the slot to
// a container when the merged state says so.
func (inv *Inventory) upsert(o Object) (*Handle, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	h, ok := inv.slots[o.ID]
	created := !ok
	if created {
		it := newItem(o, inv.attrs)
		h = &Handle{id: o.ID}
		if it.isContainer() {
			h.set(it, &Container{Item: it, inv: inv})
		} else {
			h.set(it, nil)
		}
		inv.slots[o.ID] = h
		inv.order = append(inv.order, o.ID)
	} else {
		it := h.Item()
		if _, isContainer := h.Container(); !isContainer && promotes(it, o, inv.attrs) {
			next := it.copyItem()
			next.merge(o)
			h.set(next, &Container{Item: next, inv: inv})
			it.superseded.Store(true)
			log.Debug().Uint32("app", inv.cfg.AppID).Uint64("id", o.ID).Msg("inventory.upsert promoted item to container")
		} else {
			it.merge(o)
		}
	}

	inv.link(h)
	if _, ok := h.Container(); ok {
		inv.attachPending(h.id)
		inv.signal(h.id)
	}
	return h, created
}

func promotes(it *Item, o Object, attrs *schema.AttributeTable) bool {
	if o.fields()&HasDefIndex == 0 {
		return false
	}
	return attrs.IsContainerDef(o.DefIndex) && !attrs.IsContainerDef(it.DefIndex())
}

// link records the parent id carried by h's attributes. A known parent id is
// never rewritten by an event; only a confirmed move changes it.
func (inv *Inventory) link(h *Handle) {
	it := h.Item()
	encoded, hasEncoded := it.encodedParent()
	known, hasKnown := it.ParentID()
	switch {
	case hasKnown:
		if hasEncoded && encoded != known {
			log.Warn().Uint32("app", inv.cfg.AppID).Uint64("id", h.id).Uint64("known", known).Uint64("encoded", encoded).Msg("inventory.link ignored parent id change")
		}
	case hasEncoded:
		it.setParent(encoded)
		known = encoded
	default:
		return
	}

	if ph := inv.slots[known]; ph != nil {
		if _, ok := ph.Container(); ok {
			delete(inv.pending, h.id)
			inv.signal(known)
			return
		}
	}
	if _, ok := inv.pending[h.id]; !ok {
		inv.pending[h.id] = &lookup{parent: known, done: make(chan struct{})}
		log.Debug().Uint32("app", inv.cfg.AppID).Uint64("id", h.id).Uint64("parent", known).Msg("inventory.link parent pending")
	}
}

func (inv *Inventory) attachPending(containerID uint64) {
	for child, lk := range inv.pending {
		if lk.parent != containerID {
			continue
		}
		close(lk.done)
		delete(inv.pending, child)
	}
}

func (inv *Inventory) destroy(id uint64) {
	inv.mu.Lock()
	h := inv.slots[id]
	if h == nil {
		inv.mu.Unlock()
		log.Debug().Uint32("app", inv.cfg.AppID).Uint64("id", id).Msg("inventory.destroy unknown object")
		return
	}
	delete(inv.slots, id)
	for i, oid := range inv.order {
		if oid == id {
			inv.order = append(inv.order[:i:i], inv.order[i+1:]...)
			break
		}
	}
	delete(inv.pending, id)
	if pid, ok := h.Item().ParentID(); ok {
		inv.signal(pid)
	}
	if _, ok := h.Container(); ok {
		for _, cid := range inv.order {
			child := inv.slots[cid].Item()
			if pid, ok := child.ParentID(); !ok || pid != id {
				continue
			}
			inv.pending[cid] = &lookup{parent: id, done: make(chan struct{})}
			log.Warn().Uint32("app", inv.cfg.AppID).Uint64("container", id).Uint64("child", cid).Msg("inventory.destroy orphaned child")
		}
		inv.signal(id)
	}
	inv.mu.Unlock()
	inv.notifyDestroyed(h)
}

// commitMove applies a confirmed container add or remove. The count is only
// adjusted when no server update already moved it.
func (inv *Inventory) commitMove(containerID, childID uint64, before int, add bool) {
	inv.mu.Lock()
	ch := inv.slots[childID]
	ph := inv.slots[containerID]
	var c *Container
	if ph != nil {
		c, _ = ph.Container()
	}
	if ch != nil {
		if add {
			ch.Item().setParent(containerID)
			delete(inv.pending, childID)
		} else {
			ch.Item().clearParent()
		}
	}
	if c != nil && c.Count() == before {
		if add {
			c.setCount(before + 1)
		} else if before > 0 {
			c.setCount(before - 1)
		}
	}
	inv.signal(containerID)
	inv.mu.Unlock()

	if ch != nil {
		inv.notifyUpdated(ch)
	}
	if ph != nil {
		inv.notifyUpdated(ph)
	}
}

// children returns the known children of a container, a channel closed on the
// next containment change, and the clear generation.
func (inv *Inventory) children(containerID uint64) ([]*Handle, <-chan struct{}, uint64) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var out []*Handle
	for _, id := range inv.order {
		h := inv.slots[id]
		if pid, ok := h.Item().ParentID(); ok && pid == containerID {
			out = append(out, h)
		}
	}
	ch, ok := inv.changed[containerID]
	if !ok {
		ch = make(chan struct{})
		inv.changed[containerID] = ch
	}
	return out, ch, inv.gen
}

func (inv *Inventory) signal(containerID uint64) {
	if ch, ok := inv.changed[containerID]; ok {
		close(ch)
		delete(inv.changed, containerID)
	}
}

// run executes fn on the applying goroutine and waits for it. A Clear while
// waiting abandons the wait.
func (inv *Inventory) run(ctx context.Context, fn func()) error {
	if inv.cfg.Post == nil {
		fn()
		return nil
	}
	inv.mu.RLock()
	reset := inv.reset
	inv.mu.RUnlock()
	done := make(chan struct{})
	ran := false
	err := inv.cfg.Post(func() {
		defer close(done)
		if ctx.Err() != nil {
			return
		}
		fn()
		ran = true
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		if !ran {
			return ctx.Err()
		}
		return nil
	case <-reset:
		return ErrCleared
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (inv *Inventory) notifyCreated(h *Handle) {
	if inv.cfg.Observer != nil {
		inv.cfg.Observer.ItemCreated(h)
	}
}

func (inv *Inventory) notifyUpdated(h *Handle) {
	if inv.cfg.Observer != nil {
		inv.cfg.Observer.ItemUpdated(h)
	}
}

func (inv *Inventory) notifyDestroyed(h *Handle) {
	if inv.cfg.Observer != nil {
		inv.cfg.Observer.ItemDestroyed(h)
	}
}
