package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/gclink/internal/testutil/testlog"
)

type fakeRequester struct {
	confirm chan error
	listed  []uint64
	onList  func(containerID uint64)
}

func (r *fakeRequester) AddToContainer(ctx context.Context, containerID, itemID uint64) error {
	select {
	case err := <-r.confirm:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *fakeRequester) RemoveFromContainer(ctx context.Context, containerID, itemID uint64) error {
	return r.AddToContainer(ctx, containerID, itemID)
}

func (r *fakeRequester) ListContainer(ctx context.Context, containerID uint64) error {
	r.listed = append(r.listed, containerID)
	if r.onList != nil {
		r.onList(containerID)
	}
	return nil
}

func TestContainerAddCommitsOnlyAfterConfirmation(t *testing.T) {
	testlog.Start(t)
	req := &fakeRequester{confirm: make(chan error, 1)}
	inv := newTestInventory(Config{Requester: req})
	ctx := context.Background()
	inv.Apply(ctx, Create(containerObj(200, 0)))
	inv.Apply(ctx, Create(item(201, 7)))
	c, _ := inv.Get(200).Container()
	child := inv.Get(201)

	done := make(chan error, 1)
	go func() { done <- c.Add(ctx, child) }()

	time.Sleep(20 * time.Millisecond)
	if _, ok := child.Item().ParentID(); ok || c.Count() != 0 {
		t.Fatalf("state committed before confirmation")
	}
	req.confirm <- nil
	if err := <-done; err != nil {
		t.Fatalf("add: %v", err)
	}
	if pid, ok := child.Item().ParentID(); !ok || pid != 200 {
		t.Fatalf("child parent=%d ok=%v", pid, ok)
	}
	if c.Count() != 1 || len(c.Known()) != 1 {
		t.Fatalf("count=%d known=%d", c.Count(), len(c.Known()))
	}

	if err := c.Add(ctx, child); !errors.Is(err, ErrAlreadyContained) {
		t.Fatalf("expected ErrAlreadyContained, got %v", err)
	}

	req.confirm <- nil
	if err := c.Remove(ctx, child); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := child.Item().ParentID(); ok || c.Count() != 0 {
		t.Fatalf("remove not committed")
	}
}

func TestContainerAddFailureLeavesStateUntouched(t *testing.T) {
	testlog.Start(t)
	req := &fakeRequester{confirm: make(chan error, 1)}
	inv := newTestInventory(Config{Requester: req})
	ctx := context.Background()
	inv.Apply(ctx, Create(containerObj(210, 0)))
	inv.Apply(ctx, Create(item(211, 7)))
	c, _ := inv.Get(210).Container()

	denied := errors.New("denied")
	req.confirm <- denied
	if err := c.Add(ctx, inv.Get(211)); !errors.Is(err, denied) {
		t.Fatalf("expected denial, got %v", err)
	}
	if _, ok := inv.Get(211).Item().ParentID(); ok || c.Count() != 0 {
		t.Fatalf("failed add changed state")
	}

	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := c.Add(tctx, inv.Get(211)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if _, ok := inv.Get(211).Item().ParentID(); ok {
		t.Fatalf("unconfirmed add committed")
	}
}

func TestContainerAddSkipsCountWhenServerAlreadyUpdated(t *testing.T) {
	testlog.Start(t)
	req := &fakeRequester{confirm: make(chan error, 1)}
	inv := newTestInventory(Config{Requester: req})
	ctx := context.Background()
	inv.Apply(ctx, Create(containerObj(220, 0)))
	inv.Apply(ctx, Create(item(221, 7)))
	c, _ := inv.Get(220).Container()

	go func() {
		// the server pushes the new count before the notification
		time.Sleep(10 * time.Millisecond)
		inv.Apply(ctx, Update(containerObj(220, 1)))
		req.confirm <- nil
	}()
	if err := c.Add(ctx, inv.Get(221)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.Count() != 1 {
		t.Fatalf("count double-applied: %d", c.Count())
	}
}

func TestContainerAddWaitsForUnresolvedContents(t *testing.T) {
	testlog.Start(t)
	req := &fakeRequester{confirm: make(chan error, 1)}
	inv := newTestInventory(Config{Requester: req, ContentsTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	inv.Apply(ctx, Create(containerObj(230, 2)))
	inv.Apply(ctx, Create(childOf(231, 230)))
	inv.Apply(ctx, Create(item(233, 7)))
	c, _ := inv.Get(230).Container()

	// the counted child never arrives, so the add is not issued
	req.confirm <- nil
	if err := c.Add(ctx, inv.Get(233)); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	if len(req.listed) != 1 || len(req.confirm) != 1 {
		t.Fatalf("listed=%v pending confirms=%d", req.listed, len(req.confirm))
	}
	if _, ok := inv.Get(233).Item().ParentID(); ok || c.Count() != 2 {
		t.Fatalf("unresolved add committed: count=%d", c.Count())
	}

	// once the listing delivers the missing child the add goes through
	req.onList = func(id uint64) {
		inv.Apply(ctx, Create(childOf(232, id)))
	}
	if err := c.Add(ctx, inv.Get(233)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.Count() != 3 || len(c.Known()) != 3 {
		t.Fatalf("count=%d known=%d", c.Count(), len(c.Known()))
	}
}

func TestContainerRemoveWaitsForUnresolvedContents(t *testing.T) {
	testlog.Start(t)
	req := &fakeRequester{confirm: make(chan error, 1)}
	inv := newTestInventory(Config{Requester: req, ContentsTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	inv.Apply(ctx, Create(containerObj(240, 2)))
	inv.Apply(ctx, Create(childOf(241, 240)))
	c, _ := inv.Get(240).Container()

	req.confirm <- nil
	if err := c.Remove(ctx, inv.Get(241)); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	if pid, ok := inv.Get(241).Item().ParentID(); !ok || pid != 240 || c.Count() != 2 {
		t.Fatalf("unresolved remove committed: count=%d", c.Count())
	}
}

func TestContentsListsMissingChildren(t *testing.T) {
	testlog.Start(t)
	req := &fakeRequester{}
	inv := newTestInventory(Config{Requester: req})
	ctx := context.Background()
	inv.Apply(ctx, Create(containerObj(300, 2)))
	inv.Apply(ctx, Create(childOf(301, 300)))
	req.onList = func(id uint64) {
		inv.Apply(ctx, Create(childOf(302, id)))
	}

	c, _ := inv.Get(300).Container()
	got, err := c.Contents(ctx)
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if len(got) != 2 || len(req.listed) != 1 {
		t.Fatalf("contents=%d listed=%v", len(got), req.listed)
	}
}

func TestContentsTimesOutWhenChildrenNeverArrive(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{ContentsTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	inv.Apply(ctx, Create(containerObj(310, 2)))
	inv.Apply(ctx, Create(childOf(311, 310)))
	c, _ := inv.Get(310).Container()

	known, err := c.Contents(ctx)
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	if len(known) != 1 {
		t.Fatalf("partial contents=%d", len(known))
	}
}

func TestContainerOpsRequireRequester(t *testing.T) {
	testlog.Start(t)
	inv := newTestInventory(Config{})
	ctx := context.Background()
	inv.Apply(ctx, Create(containerObj(320, 0)))
	inv.Apply(ctx, Create(item(321, 7)))
	c, _ := inv.Get(320).Container()
	if err := c.Add(ctx, inv.Get(321)); !errors.Is(err, ErrNoRequester) {
		t.Fatalf("expected ErrNoRequester, got %v", err)
	}
}
