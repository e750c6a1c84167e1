package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/gclink/internal/correlate"
	"github.com/danmuck/gclink/internal/protocol"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Call is one request/response exchange.
type Call struct {
	Kind    schema.Kind
	Payload []byte
	// Reply is the kind of the answering message; Match selects it.
	Reply schema.Kind
	Match correlate.Predicate
	// Timeout defaults to the session's RequestTimeout.
	Timeout time.Duration
}

// Request sends call.Kind and waits for the matching reply. The waiter is
// registered before the request is sent. A missing answer returns an error
// wrapping correlate.ErrTimeout; a session that goes away returns one
// wrapping ErrSessionClosed.
func (s *Session) Request(ctx context.Context, call Call) (*protocol.Message, error) {
	if st := s.State(); st != StateConnected && st != StateReady {
		return nil, fmt.Errorf("%w: app=%d state=%s", ErrNotConnected, s.cfg.AppID, st)
	}
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Session.RequestTimeout
	}
	fut, err := s.corr.WaitFor(call.Reply, call.Match, timeout)
	if err != nil {
		return nil, err
	}
	if err := s.sendKind(ctx, call.Kind.String(), call.Kind, call.Payload); err != nil {
		fut.Cancel()
		var terr *TransportError
		if errors.As(err, &terr) {
			s.fail(s.currentBind(), err)
		}
		return nil, err
	}
	log.Debug().Uint32("app", s.cfg.AppID).Str("kind", call.Kind.String()).Str("reply", call.Reply.String()).Str("waiter", fut.ID()).Msg("coordinator.Session.Request sent")
	msg, err := fut.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			fut.Cancel()
		}
		return nil, err
	}
	return msg, nil
}

// Send writes a request that has no correlated reply.
func (s *Session) Send(ctx context.Context, kind schema.Kind, payload []byte) error {
	if st := s.State(); st != StateConnected && st != StateReady {
		return fmt.Errorf("%w: app=%d state=%s", ErrNotConnected, s.cfg.AppID, st)
	}
	err := s.sendKind(ctx, kind.String(), kind, payload)
	var terr *TransportError
	if errors.As(err, &terr) {
		s.fail(s.currentBind(), err)
	}
	return err
}
