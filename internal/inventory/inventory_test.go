package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/testutil/testlog"
)

const (
	attrLow   = 272
	attrHigh  = 273
	attrCount = 270
	defCase   = 1201
)

func newTestInventory(cfg Config) *Inventory {
	cfg.AppID = 730
	cfg.AccountID = 76561198000000001
	cfg.Table = schema.DefaultTable()
	return New(cfg)
}

func item(id uint64, def uint32, attrs ...Attribute) Object {
	return Object{ID: id, TypeID: 1, DefIndex: def, Position: 1, Quality: 4, Attributes: attrs}
}

func childOf(id, parent uint64) Object {
	return item(id, 7,
		Uint32Attribute(attrLow, uint32(parent)),
		Uint32Attribute(attrHigh, uint32(parent>>32)),
	)
}

func containerObj(id uint64, count int) Object {
	return item(id, defCase, Uint32Attribute(attrCount, uint32(count)))
}

type recorder struct {
	mu      sync.Mutex
	created []uint64
	updated []uint64
	removed []uint64
}

func (r *recorder) ItemCreated(h *Handle) {
	r.mu.Lock()
	r.created = append(r.created, h.ID())
	r.mu.Unlock()
}

func (r *recorder) ItemUpdated(h *Handle) {
	r.mu.Lock()
	r.updated = append(r.updated, h.ID())
	r.mu.Unlock()
}

func (r *recorder) ItemDestroyed(h *Handle) {
	r.mu.Lock()
	r.removed = append(r.removed, h.ID())
	r.mu.Unlock()
}

func TestMergePreservesIdentity(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	inv := newTestInventory(Config{Observer: rec})
	ctx := context.Background()

	inv.Apply(ctx, Create(item(10, 60)))
	h := inv.Get(10)
	if h == nil {
		t.Fatalf("created item missing")
	}
	held := h.Item()

	inv.Apply(ctx, Update(Object{ID: 10, CustomName: "Old Faithful", Present: HasCustomName}))
	if held.CustomName() != "Old Faithful" {
		t.Fatalf("held reference did not observe update: %q", held.CustomName())
	}
	if held.DefIndex() != 60 || held.Quality() != 4 {
		t.Fatalf("partial update clobbered absent fields: def=%d quality=%d", held.DefIndex(), held.Quality())
	}
	if inv.Get(10).Item() != held {
		t.Fatalf("update replaced the item instance")
	}
	if len(rec.created) != 1 || len(rec.updated) != 1 {
		t.Fatalf("unexpected observer calls created=%v updated=%v", rec.created, rec.updated)
	}
}

func TestCreateThenDestroy(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	inv := newTestInventory(Config{Observer: rec})
	ctx := context.Background()

	inv.Apply(ctx, Create(item(11, 60)))
	inv.Apply(ctx, Destroy(11))
	if inv.Get(11) != nil {
		t.Fatalf("destroyed item still present")
	}
	if inv.Len() != 0 || len(inv.Items()) != 0 {
		t.Fatalf("inventory not empty: len=%d", inv.Len())
	}
	if len(rec.removed) != 1 || rec.removed[0] != 11 {
		t.Fatalf("destroy not observed: %v", rec.removed)
	}
	// destroying again is logged, not fatal
	inv.Apply(ctx, Destroy(11))
}

func TestCreateForKnownObjectMerges(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{})
	ctx := context.Background()

	inv.Apply(ctx, Create(item(12, 60)))
	held := inv.Get(12).Item()
	o := item(12, 60)
	o.Quantity = 3
	inv.Apply(ctx, Create(o))
	if inv.Len() != 1 || held.Quantity() != 3 {
		t.Fatalf("duplicate create should merge: len=%d quantity=%d", inv.Len(), held.Quantity())
	}
}

func TestPromotionReplacesSlotVariant(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{})
	ctx := context.Background()

	inv.Apply(ctx, Create(item(20, 60)))
	h := inv.Get(20)
	old := h.Item()
	if h.Kind() != KindItem {
		t.Fatalf("expected plain item, got %s", h.Kind())
	}

	inv.Apply(ctx, Update(Object{ID: 20, DefIndex: defCase, Present: HasDefIndex}))
	if h.Kind() != KindContainer {
		t.Fatalf("slot not promoted: %s", h.Kind())
	}
	if !old.Superseded() {
		t.Fatalf("old reference should be marked superseded")
	}
	if old.DefIndex() != 60 {
		t.Fatalf("old reference should keep its stale snapshot, def=%d", old.DefIndex())
	}
	c, ok := h.Container()
	if !ok || c.ID() != 20 || c.DefIndex() != defCase || c.Quality() != 4 {
		t.Fatalf("promoted container lost fields: ok=%v", ok)
	}
	if h.Item() == old {
		t.Fatalf("promotion must install a new value in the slot")
	}
}

func TestJoinParentIDHighHalfIsUpper(t *testing.T) {
	testlog.Start(t)
	if got := JoinParentID(0x00000001, 0x00000002); got != 0x0000000200000001 {
		t.Fatalf("parent id=%#x", got)
	}

	inv := newTestInventory(Config{})
	inv.Apply(context.Background(), Create(item(30, 7, Uint32Attribute(attrLow, 1), Uint32Attribute(attrHigh, 2))))
	pid, ok := inv.Get(30).Item().ParentID()
	if !ok || pid != 0x0000000200000001 {
		t.Fatalf("decoded parent=%#x ok=%v", pid, ok)
	}
}

func TestPendingLookupResolvesWhenContainerArrives(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{})
	ctx := context.Background()
	const parent = 0x0000000200000001

	inv.Apply(ctx, Create(childOf(31, parent)))
	got := make(chan *Container, 1)
	errs := make(chan error, 1)
	go func() {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		c, err := inv.Parent(wctx, 31)
		if err != nil {
			errs <- err
			return
		}
		got <- c
	}()

	time.Sleep(20 * time.Millisecond)
	inv.Apply(ctx, Create(containerObj(parent, 1)))
	select {
	case c := <-got:
		if c == nil || c.ID() != parent {
			t.Fatalf("resolved wrong parent: %+v", c)
		}
	case err := <-errs:
		t.Fatalf("parent lookup failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatalf("pending lookup never resolved")
	}
}

func TestDestroyContainerOrphansChildren(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{})
	ctx := context.Background()

	inv.Apply(ctx, Create(containerObj(40, 1)))
	inv.Apply(ctx, Create(childOf(41, 40)))
	inv.Apply(ctx, Destroy(40))

	child := inv.Get(41)
	if child == nil {
		t.Fatalf("orphaned child should stay in the inventory")
	}
	if pid, ok := child.Item().ParentID(); !ok || pid != 40 {
		t.Fatalf("orphan lost its parent id: %d %v", pid, ok)
	}
	wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := inv.Parent(wctx, 41); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected pending parent lookup, got %v", err)
	}

	inv.Apply(ctx, Create(containerObj(40, 1)))
	c, err := inv.Parent(ctx, 41)
	if err != nil || c == nil || c.ID() != 40 {
		t.Fatalf("re-created container did not adopt child: %v", err)
	}
}

func TestKnownParentIDNeverRewrittenByUpdate(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{})
	ctx := context.Background()

	inv.Apply(ctx, Create(containerObj(50, 1)))
	inv.Apply(ctx, Create(childOf(51, 50)))
	moved := childOf(51, 52)
	inv.Apply(ctx, Update(moved))
	if pid, _ := inv.Get(51).Item().ParentID(); pid != 50 {
		t.Fatalf("parent id rewritten by update: %d", pid)
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	objs  []Object
	err   error
}

func (f *fakeFetcher) FetchInventory(ctx context.Context, accountID uint64, appID uint32) ([]Object, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.objs, f.err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestUnknownUpdatesShareOneRefetch(t *testing.T) {
	testlog.Start(t)
	fetcher := &fakeFetcher{gate: make(chan struct{}), objs: []Object{item(60, 5), item(61, 6)}}
	inv := newTestInventory(Config{Fetcher: fetcher})
	ctx := context.Background()

	inv.Apply(ctx, Update(Object{ID: 60, CustomName: "first", Present: HasCustomName}))
	inv.Apply(ctx, Update(Object{ID: 61, CustomName: "second", Present: HasCustomName}))

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(fetcher.gate)
	inv.Wait()

	if got := fetcher.Calls(); got != 1 {
		t.Fatalf("refetch calls=%d want=1", got)
	}
	for id, name := range map[uint64]string{60: "first", 61: "second"} {
		h := inv.Get(id)
		if h == nil {
			t.Fatalf("object %d missing after repair", id)
		}
		if h.Item().CustomName() != name {
			t.Fatalf("update for %d not applied after repair: %q", id, h.Item().CustomName())
		}
	}
}

func TestUnknownUpdateDroppedWhenRepairMisses(t *testing.T) {
	testlog.Start(t)
	fetcher := &fakeFetcher{}
	inv := newTestInventory(Config{Fetcher: fetcher})
	inv.Apply(context.Background(), Update(item(70, 5)))
	inv.Wait()
	if inv.Get(70) != nil {
		t.Fatalf("update for unknown object should be dropped")
	}
	if fetcher.Calls() != 1 {
		t.Fatalf("expected exactly one refetch, got %d", fetcher.Calls())
	}

	fetcher.err = errors.New("snapshot unavailable")
	inv.Apply(context.Background(), Update(item(71, 5)))
	inv.Wait()
	if inv.Get(71) != nil || fetcher.Calls() != 2 {
		t.Fatalf("failed refetch should drop the update, calls=%d", fetcher.Calls())
	}
}

func TestResyncReplacesMirror(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	inv := newTestInventory(Config{Observer: rec})
	ctx := context.Background()

	inv.Apply(ctx, Create(item(80, 1)))
	held := inv.Get(80).Item()
	inv.Apply(ctx, Create(item(81, 1)))
	inv.Apply(ctx, CacheSubscribed(5, item(80, 2), item(82, 3)))

	if inv.Get(81) != nil {
		t.Fatalf("object missing from resync should be destroyed")
	}
	if inv.Get(80).Item() != held || held.DefIndex() != 2 {
		t.Fatalf("resync should merge into existing objects")
	}
	if !inv.Loaded() || inv.Reported() != 5 || inv.Drift() != 3 {
		t.Fatalf("loaded=%v reported=%d drift=%d", inv.Loaded(), inv.Reported(), inv.Drift())
	}
	order := inv.Items()
	if len(order) != 2 || order[0].ID() != 80 || order[1].ID() != 82 {
		t.Fatalf("unexpected order")
	}
}

func TestLoadFetchesOnce(t *testing.T) {
	testlog.Start(t)
	fetcher := &fakeFetcher{objs: []Object{item(90, 1), item(91, 1)}}
	inv := newTestInventory(Config{Fetcher: fetcher})
	ctx := context.Background()
	if err := inv.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := inv.Load(ctx); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if fetcher.Calls() != 1 || inv.Len() != 2 || inv.Reported() != 2 {
		t.Fatalf("calls=%d len=%d reported=%d", fetcher.Calls(), inv.Len(), inv.Reported())
	}

	if err := newTestInventory(Config{}).Load(ctx); !errors.Is(err, ErrNoFetcher) {
		t.Fatalf("expected ErrNoFetcher, got %v", err)
	}
}

func TestLoadFillsResyncShortfall(t *testing.T) {
	testlog.Start(t)
	fetcher := &fakeFetcher{objs: []Object{item(95, 9), item(96, 1), item(97, 1)}}
	inv := newTestInventory(Config{Fetcher: fetcher})
	ctx := context.Background()
	inv.Apply(ctx, CacheSubscribed(3, item(95, 2)))
	if !inv.Loaded() || inv.Drift() != 2 {
		t.Fatalf("loaded=%v drift=%d", inv.Loaded(), inv.Drift())
	}

	if err := inv.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if fetcher.Calls() != 1 || inv.Len() != 3 || inv.Drift() != 0 || inv.Reported() != 3 {
		t.Fatalf("calls=%d len=%d drift=%d reported=%d", fetcher.Calls(), inv.Len(), inv.Drift(), inv.Reported())
	}
	if inv.Get(95).Item().DefIndex() != 2 {
		t.Fatalf("snapshot overwrote an object the resync delivered")
	}

	if err := inv.Load(ctx); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if fetcher.Calls() != 1 {
		t.Fatalf("load without drift fetched again, calls=%d", fetcher.Calls())
	}
}

func TestClearDropsEverything(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{})
	ctx := context.Background()
	inv.Apply(ctx, CacheSubscribed(0, containerObj(100, 2)))
	c, _ := inv.Get(100).Container()

	done := make(chan error, 1)
	go func() {
		_, err := c.Contents(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	inv.Clear()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCleared) {
			t.Fatalf("expected ErrCleared, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("contents wait not woken by clear")
	}
	if inv.Len() != 0 || inv.Loaded() {
		t.Fatalf("clear left state behind")
	}
}

func TestTradableAfterAndDecorations(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{})
	o := item(110, 7,
		Uint32Attribute(75, 1700000000),
		Uint32Attribute(113, 4021),
		Uint32Attribute(114, 0x3f000000),
		Uint32Attribute(121, 99),
	)
	inv.Apply(context.Background(), Create(o))
	it := inv.Get(110).Item()
	if got := it.TradableAfter(); !got.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("tradable after=%v", got)
	}
	decs := it.Decorations()
	if len(decs) != 2 {
		t.Fatalf("decorations=%+v", decs)
	}
	if decs[0].Slot != 0 || decs[0].ID != 4021 || decs[0].Wear != 0.5 {
		t.Fatalf("slot0=%+v", decs[0])
	}
	if decs[1].Slot != 2 || decs[1].ID != 99 {
		t.Fatalf("slot2=%+v", decs[1])
	}
}
