package coordinator

import (
	"context"
	"math/rand"
	"time"

	"github.com/danmuck/gclink/internal/observability"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/session"
	"github.com/danmuck/gclink/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

func (s *Session) helloPayload() []byte {
	return session.EncodeHello(session.Hello{Version: s.cfg.Session.HelloVersion})
}

// handshake re-sends hello on the backoff schedule until welcome arrives,
// the bind ends, or the handshake timeout expires. The first hello was sent
// by Bind.
func (s *Session) handshake(ctx context.Context, welcomed <-chan struct{}) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	deadline := time.NewTimer(s.cfg.Session.HandshakeTimeout)
	defer deadline.Stop()

	for attempt := 1; ; attempt++ {
		delay := s.cfg.Session.HelloBackoff.Delay(attempt, rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-welcomed:
			timer.Stop()
			return
		case <-deadline.C:
			timer.Stop()
			log.Warn().Uint32("app", s.cfg.AppID).Int("attempts", attempt).Dur("timeout", s.cfg.Session.HandshakeTimeout).Msg("coordinator.Session.handshake timed out")
			s.fail(ctx, ErrHandshakeTimeout)
			return
		case <-timer.C:
		}
		log.Debug().Uint32("app", s.cfg.AppID).Int("attempt", attempt+1).Msg("coordinator.Session.handshake resend hello")
		if err := s.sendKind(ctx, "hello", schema.KindHello, s.helloPayload()); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(ctx, err)
			return
		}
	}
}

// heartbeat sends a keepalive every HeartbeatInterval while the bind lives.
// A failed send ends the bind; it is not retried.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Session.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.sendKind(ctx, "heartbeat", schema.KindHeartbeat, s.heartbeatPayload()); err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.RecordHeartbeatFailure(s.cfg.AppID)
			log.Error().Uint32("app", s.cfg.AppID).Err(err).Msg("coordinator.Session.heartbeat send failed")
			s.fail(ctx, err)
			return
		}
	}
}

func (s *Session) heartbeatPayload() []byte {
	b := wire.NewBuilder()
	for _, ext := range s.exts.list {
		if p := ext.HeartbeatPayload(); p != nil {
			b.Bytes(schema.FieldHeartbeatPayload, p)
		}
	}
	return b.Encode()
}

func (s *Session) sendKind(ctx context.Context, op string, kind schema.Kind, payload []byte) error {
	env, err := s.cfg.Table.Envelope(kind, payload)
	if err != nil {
		return err
	}
	if err := s.tr.SendFrame(ctx, env); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}
