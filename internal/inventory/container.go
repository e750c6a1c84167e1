package inventory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ContainerRequester performs the wire side of container operations. Each
// call returns once the server confirmed the request or it failed.
type ContainerRequester interface {
	AddToContainer(ctx context.Context, containerID, itemID uint64) error
	RemoveFromContainer(ctx context.Context, containerID, itemID uint64) error
	// ListContainer asks the server to send the container's contents as object creates.
	ListContainer(ctx context.Context, containerID uint64) error
}

// Container is an item that holds other items.
type Container struct {
	*Item
	inv *Inventory
}

// Count is the child count reported by the server.
func (c *Container) Count() int {
	if c.attrs == nil || c.attrs.ContainerCount == 0 {
		return 0
	}
	a, ok := c.Attribute(c.attrs.ContainerCount)
	if !ok {
		return 0
	}
	return int(a.Uint32())
}

func (c *Container) setCount(n int) {
	if c.attrs == nil || c.attrs.ContainerCount == 0 {
		return
	}
	c.setAttribute(Uint32Attribute(c.attrs.ContainerCount, uint32(n)))
}

// Known returns the children currently present in the mirror.
func (c *Container) Known() []*Handle {
	known, _, _ := c.inv.children(c.ID())
	return known
}

// Contents returns the container's children once every counted child is
// present. Missing children are requested once through the requester; the
// wait is bounded by ctx or the inventory's contents timeout.
func (c *Container) Contents(ctx context.Context) ([]*Handle, error) {
	if _, ok := ctx.Deadline(); !ok && c.inv.cfg.ContentsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.inv.cfg.ContentsTimeout)
		defer cancel()
	}
	listed := false
	_, _, gen := c.inv.children(c.ID())
	for {
		known, wake, now := c.inv.children(c.ID())
		if now != gen {
			return nil, ErrCleared
		}
		count := c.Count()
		if len(known) >= count {
			return known, nil
		}
		if !listed && c.inv.cfg.Requester != nil {
			listed = true
			log.Debug().Uint64("container", c.ID()).Int("known", len(known)).Int("count", count).Msg("inventory.Container.Contents listing")
			if err := c.inv.cfg.Requester.ListContainer(ctx, c.ID()); err != nil {
				return known, err
			}
			continue
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return known, fmt.Errorf("%w: container=%d known=%d count=%d: %w", ErrUnresolved, c.ID(), len(known), count, ctx.Err())
		}
	}
}

// Add moves child into the container once its contents are resolved. The
// child's parent id and the container count change only after the server
// confirms.
func (c *Container) Add(ctx context.Context, child *Handle) error {
	req := c.inv.cfg.Requester
	if req == nil {
		return ErrNoRequester
	}
	if child == nil {
		return fmt.Errorf("inventory: nil child")
	}
	if pid, ok := child.Item().ParentID(); ok {
		return fmt.Errorf("%w: item=%d container=%d", ErrAlreadyContained, child.ID(), pid)
	}
	if _, err := c.Contents(ctx); err != nil {
		return err
	}
	before := c.Count()
	if err := req.AddToContainer(ctx, c.ID(), child.ID()); err != nil {
		return err
	}
	return c.inv.run(ctx, func() {
		c.inv.commitMove(c.ID(), child.ID(), before, true)
	})
}

// Remove takes child out of the container, committing on confirmation.
func (c *Container) Remove(ctx context.Context, child *Handle) error {
	req := c.inv.cfg.Requester
	if req == nil {
		return ErrNoRequester
	}
	if child == nil {
		return fmt.Errorf("inventory: nil child")
	}
	if pid, ok := child.Item().ParentID(); !ok || pid != c.ID() {
		return fmt.Errorf("%w: item=%d container=%d", ErrNotInContainer, child.ID(), c.ID())
	}
	if _, err := c.Contents(ctx); err != nil {
		return err
	}
	before := c.Count()
	if err := req.RemoveFromContainer(ctx, c.ID(), child.ID()); err != nil {
		return err
	}
	return c.inv.run(ctx, func() {
		c.inv.commitMove(c.ID(), child.ID(), before, false)
	})
}
