// Package correlate turns an event stream into request/response calls.
//
// A caller registers a predicate over inbound messages of one kind and gets a
// Future. When a message of that kind is delivered, waiters are evaluated in
// registration order and only the first match is resolved. Waiters that do not
// match stay registered. Every waiter carries a deadline.
package correlate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/gclink/internal/protocol"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout          = errors.New("correlate: timeout")
	ErrClosed           = errors.New("correlate: closed")
	ErrCanceled         = errors.New("correlate: canceled")
	ErrDeadlineRequired = errors.New("correlate: deadline required")
)

// Predicate selects the message a waiter is interested in. It runs on the
// delivery path and must not call back into the Correlator.
type Predicate func(*protocol.Message) bool

// Outcome is how a waiter left the correlator.
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeClosed   Outcome = "closed"
	OutcomeCanceled Outcome = "canceled"
)

// Any matches every message of the waited kind.
func Any(*protocol.Message) bool { return true }

// Queued wraps pred for kinds answered by one shared signal per queued request.
// The response names no request, so a matching message is consumed with Claim
// and a later waiter in the queue cannot match the same response.
func Queued(pred Predicate) Predicate {
	return func(m *protocol.Message) bool {
		if pred != nil && !pred(m) {
			return false
		}
		return m.Claim()
	}
}

type Option func(*Correlator)

// WithOutcome installs a hook called once per waiter when it is resolved.
func WithOutcome(fn func(schema.Kind, Outcome)) Option {
	return func(c *Correlator) {
		c.outcome = fn
	}
}

type Correlator struct {
	mu       sync.Mutex
	waiters  map[schema.Kind][]*Future
	closed   bool
	closeErr error
	outcome  func(schema.Kind, Outcome)
}

func New(opts ...Option) *Correlator {
	c := &Correlator{waiters: make(map[schema.Kind][]*Future)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WaitFor registers a waiter for the first message of kind accepted by pred.
// A nil pred accepts any message of kind.
func (c *Correlator) WaitFor(kind schema.Kind, pred Predicate, timeout time.Duration) (*Future, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: kind=%s", ErrDeadlineRequired, kind)
	}
	if pred == nil {
		pred = Any
	}
	f := &Future{
		id:   ulid.Make(),
		kind: kind,
		pred: pred,
		done: make(chan struct{}),
		c:    c,
	}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.waiters[kind] = append(c.waiters[kind], f)
	f.timer = time.AfterFunc(timeout, func() {
		if c.remove(f) {
			log.Debug().Str("kind", kind.String()).Str("waiter", f.id.String()).Dur("timeout", timeout).Msg("correlate.WaitFor expired")
			c.finish(f, nil, fmt.Errorf("%w: kind=%s after %s", ErrTimeout, kind, timeout), OutcomeTimeout)
		}
	})
	c.mu.Unlock()
	return f, nil
}

// Deliver offers msg to the waiters of its kind and reports whether one matched.
func (c *Correlator) Deliver(msg *protocol.Message) bool {
	if msg == nil {
		return false
	}
	c.mu.Lock()
	list := c.waiters[msg.Kind]
	var hit *Future
	for i, f := range list {
		if match(f, msg) {
			hit = f
			c.waiters[msg.Kind] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(c.waiters[msg.Kind]) == 0 {
		delete(c.waiters, msg.Kind)
	}
	c.mu.Unlock()

	if hit == nil {
		return false
	}
	c.finish(hit, msg, nil, OutcomeMatched)
	return true
}

// Close fails every outstanding waiter with ErrClosed wrapping cause and
// rejects new waiters until Reopen.
func (c *Correlator) Close(cause error) int {
	err := ErrClosed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrClosed, cause)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.closed = true
	c.closeErr = err
	pending := c.waiters
	c.waiters = make(map[schema.Kind][]*Future)
	c.mu.Unlock()

	n := 0
	for _, list := range pending {
		for _, f := range list {
			c.finish(f, nil, err, OutcomeClosed)
			n++
		}
	}
	if n > 0 {
		log.Debug().Int("failed", n).Err(cause).Msg("correlate.Close failed pending waiters")
	}
	return n
}

// Reopen accepts waiters again after Close.
func (c *Correlator) Reopen() {
	c.mu.Lock()
	c.closed = false
	c.closeErr = nil
	c.mu.Unlock()
}

// Pending returns the number of waiters registered for kind.
func (c *Correlator) Pending(kind schema.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters[kind])
}

// Len returns the number of registered waiters across kinds.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.waiters {
		n += len(list)
	}
	return n
}

func (c *Correlator) remove(f *Future) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.waiters[f.kind]
	for i, w := range list {
		if w == f {
			c.waiters[f.kind] = append(list[:i:i], list[i+1:]...)
			if len(c.waiters[f.kind]) == 0 {
				delete(c.waiters, f.kind)
			}
			return true
		}
	}
	return false
}

func (c *Correlator) finish(f *Future, msg *protocol.Message, err error, outcome Outcome) {
	if !f.resolve(msg, err) {
		return
	}
	if c.outcome != nil {
		c.outcome(f.kind, outcome)
	}
}

func match(f *Future, msg *protocol.Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("kind", msg.Kind.String()).Str("waiter", f.id.String()).Interface("panic", r).Msg("correlate.Deliver predicate panicked")
			ok = false
		}
	}()
	return f.pred(msg)
}
