package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/gclink/internal/correlate"
	"github.com/danmuck/gclink/internal/inventory"
	"github.com/danmuck/gclink/internal/observability"
	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Transport sends envelopes on the outer session.
type Transport interface {
	SendFrame(ctx context.Context, env frame.Envelope) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, env frame.Envelope) error

func (f TransportFunc) SendFrame(ctx context.Context, env frame.Envelope) error {
	return f(ctx, env)
}

// Events are application callbacks. They run on the dispatch goroutine.
type Events struct {
	OnReady       func(s *Session)
	OnDisconnect  func(s *Session, cause error)
	OnItemCreate  func(s *Session, h *inventory.Handle)
	OnItemUpdate  func(s *Session, h *inventory.Handle)
	OnItemDestroy func(s *Session, h *inventory.Handle)
}

type Config struct {
	AppID     uint32
	AccountID uint64
	Table     schema.Table
	Session   session.Config
	// Fetcher supplies inventory snapshots for bootstrap and drift repair.
	Fetcher inventory.Fetcher
}

type Option func(*Session)

func WithExtensions(exts ...Extension) Option {
	return func(s *Session) {
		s.pendingExts = append(s.pendingExts, exts...)
	}
}

func WithEvents(ev Events) Option {
	return func(s *Session) {
		s.events = ev
	}
}

type task struct {
	env frame.Envelope
	fn  func()
	// ctx is the bind lifetime a posted fn belongs to; stale fns are skipped.
	ctx context.Context
}

type Session struct {
	cfg    Config
	tr     Transport
	events Events
	exts   registry
	corr   *correlate.Correlator
	inv    *inventory.Inventory

	pendingExts []Extension

	state atomic.Int32
	queue chan task
	life  context.Context
	stop  context.CancelFunc
	done  chan struct{}

	mu       sync.Mutex
	bindCtx  context.Context
	cancel   context.CancelFunc
	welcomed chan struct{}
	ready    chan struct{}
	down     chan struct{}
	downErr  error
	closeErr error
}

// New builds a session in the Disconnected state and starts its dispatch
// goroutine. Call Close to release it.
func New(cfg Config, tr Transport, opts ...Option) (*Session, error) {
	if tr == nil {
		return nil, ErrTransportRequired
	}
	if cfg.AppID == 0 {
		cfg.AppID = cfg.Table.AppID
	}
	if cfg.Table.AppID == 0 {
		return nil, fmt.Errorf("coordinator: table for app %d has no app id", cfg.AppID)
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	cfg.Session = cfg.Session.WithDefaults()

	s := &Session{cfg: cfg, tr: tr}
	for _, opt := range opts {
		opt(s)
	}
	exts, err := newRegistry(s.pendingExts)
	if err != nil {
		return nil, err
	}
	s.exts = exts
	s.pendingExts = nil

	app := cfg.AppID
	s.corr = correlate.New(correlate.WithOutcome(func(k schema.Kind, o correlate.Outcome) {
		observability.RecordWaiter(app, k.String(), string(o))
	}))
	s.inv = inventory.New(inventory.Config{
		AppID:           app,
		AccountID:       cfg.AccountID,
		Table:           cfg.Table,
		Fetcher:         cfg.Fetcher,
		Requester:       exts.requester,
		Observer:        observer{s},
		Post:            s.Post,
		ContentsTimeout: cfg.Session.RequestTimeout,
	})
	s.queue = make(chan task, cfg.Session.InboundBuffer)
	s.life, s.stop = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.corr.Close(ErrNotBound)

	for _, ext := range exts.list {
		ext.Attach(s)
	}
	observability.SetSessionState(app, int(StateDisconnected))
	go s.run()
	return s, nil
}

func (s *Session) AppID() uint32 {
	return s.cfg.AppID
}

func (s *Session) AccountID() uint64 {
	return s.cfg.AccountID
}

func (s *Session) Table() schema.Table {
	return s.cfg.Table
}

func (s *Session) Config() session.Config {
	return s.cfg.Session
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Inventory() *inventory.Inventory {
	return s.inv
}

func (s *Session) Correlator() *correlate.Correlator {
	return s.corr
}

// Extensions returns the registered extension names in registration order.
func (s *Session) Extensions() []string {
	out := make([]string, 0, len(s.exts.list))
	for _, ext := range s.exts.list {
		out = append(out, ext.Name())
	}
	return out
}

// Done is closed after Close once the dispatch goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Bind starts the handshake: the session moves to HandshakePending and the
// first hello is sent before Bind returns.
func (s *Session) Bind(ctx context.Context) error {
	s.mu.Lock()
	if s.life.Err() != nil {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.State() != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("%w: app=%d state=%s", ErrAlreadyBound, s.cfg.AppID, s.State())
	}
	bctx, cancel := context.WithCancel(s.life)
	s.bindCtx, s.cancel = bctx, cancel
	s.welcomed = make(chan struct{})
	s.ready = make(chan struct{})
	s.down = make(chan struct{})
	s.downErr = nil
	welcomed := s.welcomed
	s.corr.Reopen()
	s.setState(StateHandshakePending)
	s.mu.Unlock()

	log.Info().Uint32("app", s.cfg.AppID).Msg("coordinator.Session.Bind hello")
	if err := s.sendKind(ctx, "hello", schema.KindHello, s.helloPayload()); err != nil {
		s.fail(bctx, err)
		return err
	}
	go s.handshake(bctx, welcomed)
	return nil
}

// WaitReady blocks until the current bind reaches Ready, the session
// disconnects, or ctx ends.
func (s *Session) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	ready, down := s.ready, s.down
	s.mu.Unlock()
	if ready == nil {
		return ErrNotBound
	}
	select {
	case <-ready:
		return nil
	case <-down:
		return s.disconnectCause()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleFrame queues an inbound envelope for dispatch. It blocks while the
// dispatch queue is full.
func (s *Session) HandleFrame(ctx context.Context, env frame.Envelope) error {
	select {
	case s.queue <- task{env: env}:
		return nil
	case <-s.life.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post runs fn on the dispatch goroutine. fn is dropped if the current bind
// ends before it runs.
func (s *Session) Post(fn func()) error {
	s.mu.Lock()
	bctx := s.bindCtx
	s.mu.Unlock()
	if bctx == nil || bctx.Err() != nil {
		return ErrSessionClosed
	}
	select {
	case s.queue <- task{fn: fn, ctx: bctx}:
		return nil
	case <-bctx.Done():
		return ErrSessionClosed
	}
}

// Close disconnects the session and stops its dispatch goroutine. It does
// not wait; use Done.
func (s *Session) Close() {
	s.CloseWithError(ErrSessionClosed)
}

// CloseWithError is Close with the cause reported to OnDisconnect, used when
// the outer session goes away underneath the coordinator.
func (s *Session) CloseWithError(cause error) {
	if cause == nil {
		cause = ErrSessionClosed
	}
	s.mu.Lock()
	if s.closeErr == nil {
		s.closeErr = cause
	}
	s.mu.Unlock()
	s.stop()
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.life.Done():
			s.mu.Lock()
			cause := s.closeErr
			s.mu.Unlock()
			s.disconnect(cause)
			// repairs run under the bind context, which is cancelled by now
			s.inv.Wait()
			log.Debug().Uint32("app", s.cfg.AppID).Msg("coordinator.Session.run stopped")
			return
		case t := <-s.queue:
			if t.fn != nil {
				if t.ctx.Err() == nil {
					t.fn()
				}
				continue
			}
			s.dispatch(t.env)
		}
	}
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	observability.SetSessionState(s.cfg.AppID, int(st))
	if prev != st {
		log.Info().Uint32("app", s.cfg.AppID).Str("from", prev.String()).Str("to", st.String()).Msg("coordinator.Session state")
	}
}

// fail schedules a disconnect for the bind that ctx belongs to.
func (s *Session) fail(bctx context.Context, cause error) {
	if bctx.Err() != nil {
		return
	}
	select {
	case s.queue <- task{fn: func() { s.disconnect(cause) }, ctx: bctx}:
	case <-bctx.Done():
	}
}

// disconnect tears down the current bind. It runs on the dispatch goroutine.
func (s *Session) disconnect(cause error) {
	s.mu.Lock()
	if s.State() == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.setState(StateDisconnected)
	cancel, down := s.cancel, s.down
	s.cancel = nil
	s.downErr = cause
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if down != nil {
		close(down)
	}
	failWith := cause
	if !errors.Is(cause, ErrSessionClosed) {
		failWith = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	}
	failed := s.corr.Close(failWith)
	s.inv.Clear()
	log.Info().Uint32("app", s.cfg.AppID).Int("failed_requests", failed).Err(cause).Msg("coordinator.Session disconnected")
	if s.events.OnDisconnect != nil {
		s.events.OnDisconnect(s, cause)
	}
}

func (s *Session) disconnectCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downErr == nil {
		return ErrSessionClosed
	}
	if errors.Is(s.downErr, ErrSessionClosed) {
		return s.downErr
	}
	return fmt.Errorf("%w: %w", ErrSessionClosed, s.downErr)
}

func (s *Session) currentBind() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bindCtx == nil {
		return s.life
	}
	return s.bindCtx
}

type observer struct {
	s *Session
}

func (o observer) ItemCreated(h *inventory.Handle) {
	if fn := o.s.events.OnItemCreate; fn != nil {
		fn(o.s, h)
	}
}

func (o observer) ItemUpdated(h *inventory.Handle) {
	if fn := o.s.events.OnItemUpdate; fn != nil {
		fn(o.s, h)
	}
}

func (o observer) ItemDestroyed(h *inventory.Handle) {
	if fn := o.s.events.OnItemDestroy; fn != nil {
		fn(o.s, h)
	}
}
