package coordinator

import (
	"fmt"

	"github.com/danmuck/gclink/internal/inventory"
	"github.com/danmuck/gclink/internal/observability"
	"github.com/danmuck/gclink/internal/protocol"
	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// dispatch decodes one inbound frame and routes it: session kinds drive the
// state machine, object kinds go to the inventory, owned kinds go to their
// extension, and every message is finally offered to pending requests.
func (s *Session) dispatch(env frame.Envelope) {
	app := s.cfg.AppID
	msg, err := protocol.Decode(s.cfg.Table, env)
	if err != nil {
		observability.RecordDecodeError(app)
		log.Warn().Uint32("app", app).Uint32("tag", env.Tag()).Int("bytes", len(env.Payload)).Err(err).Msg("coordinator.Session.dispatch dropped frame")
		return
	}
	observability.RecordFrame(app, msg.Kind.String())

	st := s.State()
	if st == StateDisconnected {
		log.Debug().Uint32("app", app).Str("kind", msg.Kind.String()).Msg("coordinator.Session.dispatch frame while disconnected")
		return
	}

	switch msg.Kind {
	case schema.KindWelcome:
		err = s.onWelcome(msg)
	case schema.KindGoodbye:
		err = s.onGoodbye(msg)
	case schema.KindConnectionStatus:
		err = s.onStatus(msg)
	case schema.KindCacheSubscribed:
		err = s.onSubscribed(msg)
	case schema.KindCacheUnsubscribed:
		s.onUnsubscribed()
	case schema.KindObjectCreate, schema.KindObjectUpdate, schema.KindObjectDestroy:
		err = s.onSingleObject(msg)
	case schema.KindObjectUpdateMultiple:
		err = s.onMultipleObjects(msg)
	case schema.KindHeartbeat:
	}
	if err != nil {
		observability.RecordDecodeError(app)
		log.Warn().Uint32("app", app).Str("kind", msg.Kind.String()).Err(err).Msg("coordinator.Session.dispatch malformed message")
		return
	}

	if ext, ok := s.exts.owners[msg.Kind]; ok {
		ext.OnMessage(msg)
	}
	s.corr.Deliver(msg)
}

func (s *Session) onWelcome(msg *protocol.Message) error {
	w, err := session.DecodeWelcome(msg.Fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.State() != StateHandshakePending {
		s.mu.Unlock()
		log.Debug().Uint32("app", s.cfg.AppID).Msg("coordinator.Session.onWelcome duplicate welcome ignored")
		return nil
	}
	s.setState(StateConnected)
	close(s.welcomed)
	bctx := s.bindCtx
	s.mu.Unlock()

	log.Info().Uint32("app", s.cfg.AppID).Uint32("version", w.Version).Str("location", w.Location).Int("caches", len(w.Caches)).Msg("coordinator.Session welcomed")
	go s.heartbeat(bctx)

	for _, c := range w.Caches {
		s.applySubscribed(c)
	}
	return nil
}

func (s *Session) onGoodbye(msg *protocol.Message) error {
	g, err := session.DecodeGoodbye(msg.Fields)
	if err != nil {
		return err
	}
	s.disconnect(fmt.Errorf("%w: reason=%d", ErrGoodbye, g.Reason))
	return nil
}

func (s *Session) onStatus(msg *protocol.Message) error {
	st, err := session.DecodeConnectionStatus(msg.Fields)
	if err != nil {
		return err
	}
	if st.Status != session.StatusHaveSession {
		s.disconnect(fmt.Errorf("%w: status=%d", ErrLostSession, st.Status))
	}
	return nil
}

func (s *Session) onSubscribed(msg *protocol.Message) error {
	c, err := session.DecodeCacheSubscribed(msg.Fields)
	if err != nil {
		return err
	}
	s.applySubscribed(c)
	return nil
}

func (s *Session) applySubscribed(c session.CacheSubscribed) {
	if !s.ownsCache(c.Owner) {
		log.Debug().Uint32("app", s.cfg.AppID).Uint64("owner", c.Owner).Msg("coordinator.Session foreign cache ignored")
		return
	}
	objs := s.decodeBlocks(c.Objects)
	s.inv.Apply(s.currentBind(), inventory.CacheSubscribed(c.Total, objs...))

	s.mu.Lock()
	if s.State() != StateConnected {
		s.mu.Unlock()
		return
	}
	s.setState(StateReady)
	close(s.ready)
	s.mu.Unlock()
	if s.events.OnReady != nil {
		s.events.OnReady(s)
	}
}

func (s *Session) onUnsubscribed() {
	s.inv.Clear()
	s.mu.Lock()
	if s.State() == StateReady {
		s.setState(StateConnected)
		s.ready = make(chan struct{})
	}
	s.mu.Unlock()
}

func (s *Session) onSingleObject(msg *protocol.Message) error {
	so, err := session.DecodeSingleObject(msg.Fields)
	if err != nil {
		return err
	}
	if !s.ownsCache(so.Owner) || so.Object.TypeID != s.cfg.Table.ItemTypeID {
		return nil
	}
	o, err := inventory.DecodeObject(so.Object.TypeID, so.Object.Data)
	if err != nil {
		return err
	}
	var ev inventory.Event
	switch msg.Kind {
	case schema.KindObjectCreate:
		ev = inventory.Create(o)
	case schema.KindObjectUpdate:
		ev = inventory.Update(o)
	default:
		ev = inventory.Destroy(o.ID)
	}
	s.inv.Apply(s.currentBind(), ev)
	return nil
}

func (s *Session) onMultipleObjects(msg *protocol.Message) error {
	m, err := session.DecodeMultipleObjects(msg.Fields)
	if err != nil {
		return err
	}
	if !s.ownsCache(m.Owner) {
		return nil
	}
	ctx := s.currentBind()
	if modified := s.decodeBlocks(m.Modified); len(modified) > 0 {
		s.inv.Apply(ctx, inventory.UpdateMultiple(modified...))
	}
	for _, o := range s.decodeBlocks(m.Added) {
		s.inv.Apply(ctx, inventory.Create(o))
	}
	for _, o := range s.decodeBlocks(m.Removed) {
		s.inv.Apply(ctx, inventory.Destroy(o.ID))
	}
	return nil
}

// decodeBlocks keeps item-type blocks and drops undecodable ones with a log line.
func (s *Session) decodeBlocks(blocks []session.ObjectBlock) []inventory.Object {
	out := make([]inventory.Object, 0, len(blocks))
	for _, b := range blocks {
		if b.TypeID != s.cfg.Table.ItemTypeID {
			continue
		}
		o, err := inventory.DecodeObject(b.TypeID, b.Data)
		if err != nil {
			observability.RecordDecodeError(s.cfg.AppID)
			log.Warn().Uint32("app", s.cfg.AppID).Err(err).Msg("coordinator.Session.decodeBlocks dropped object")
			continue
		}
		out = append(out, o)
	}
	return out
}

// ownsCache reports whether owner is this session's account; an unset owner
// on either side matches.
func (s *Session) ownsCache(owner uint64) bool {
	return owner == 0 || s.cfg.AccountID == 0 || owner == s.cfg.AccountID
}
