package inventory

import (
	"context"

	"github.com/danmuck/gclink/internal/observability"
	"github.com/rs/zerolog/log"
)

// repair refetches the snapshot once for updates naming unknown objects and
// retries them on the applying goroutine. Concurrent repairs share the fetch.
func (inv *Inventory) repair(ctx context.Context, objs []Object) {
	app := inv.cfg.AppID
	if inv.cfg.Fetcher == nil {
		for _, o := range objs {
			log.Info().Uint32("app", app).Err(&UnknownObjectError{ID: o.ID}).Msg("inventory.repair no fetcher, update dropped")
		}
		observability.RecordDriftRepair(app, "dropped")
		return
	}

	inv.repairs.Add(1)
	go func() {
		defer inv.repairs.Done()
		snap, err := inv.fetch(ctx)
		if err != nil {
			observability.RecordDriftRepair(app, "failed")
			for _, o := range objs {
				log.Warn().Uint32("app", app).Uint64("id", o.ID).Err(err).Msg("inventory.repair refetch failed, update dropped")
			}
			return
		}
		err = inv.run(ctx, func() {
			inv.fill(snap)
			for _, o := range objs {
				if inv.update(o) {
					observability.RecordDriftRepair(app, "recovered")
					continue
				}
				observability.RecordDriftRepair(app, "dropped")
				log.Info().Uint32("app", app).Err(&UnknownObjectError{ID: o.ID}).Msg("inventory.repair still unknown after refetch, update dropped")
			}
			observability.SetCachedObjects(app, inv.Len())
		})
		if err != nil {
			log.Debug().Uint32("app", app).Err(err).Msg("inventory.repair abandoned")
		}
	}()
}

// Wait blocks until background repairs have finished.
func (inv *Inventory) Wait() {
	inv.repairs.Wait()
}

// fetch runs the snapshot fetcher, sharing one in-flight call between callers.
func (inv *Inventory) fetch(ctx context.Context) ([]Object, error) {
	v, err, shared := inv.group.Do("snapshot", func() (any, error) {
		observability.RecordDriftRepair(inv.cfg.AppID, "fetch")
		log.Info().Uint32("app", inv.cfg.AppID).Uint64("account", inv.cfg.AccountID).Msg("inventory.fetch snapshot")
		return inv.cfg.Fetcher.FetchInventory(ctx, inv.cfg.AccountID, inv.cfg.AppID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Uint32("app", inv.cfg.AppID).Msg("inventory.fetch joined in-flight snapshot")
	}
	objs, _ := v.([]Object)
	return objs, nil
}
