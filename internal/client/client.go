// Package client owns one outer session and the coordinator sub-sessions
// bound over it, one per application.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/gclink/internal/coordinator"
	"github.com/danmuck/gclink/internal/inventory"
	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnRequired = errors.New("client: outer connection required")
	ErrClosed       = errors.New("client: closed")
	ErrAppBound     = errors.New("client: application already bound")
	ErrAppNotBound  = errors.New("client: application not bound")
)

// Conn is the outer session: an authenticated, ordered channel of envelopes.
type Conn interface {
	Send(ctx context.Context, env frame.Envelope) error
	Recv(ctx context.Context) (frame.Envelope, error)
	Close() error
}

type Config struct {
	AccountID uint64
	Session   session.Config
	// Fetcher is shared by every bound application.
	Fetcher inventory.Fetcher
}

type Client struct {
	cfg  Config
	conn Conn
	errs chan error

	mu       sync.Mutex
	sessions map[uint32]*coordinator.Session
	closed   bool
	once     sync.Once
}

func New(cfg Config, conn Conn) (*Client, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg:      cfg,
		conn:     conn,
		errs:     make(chan error, 16),
		sessions: make(map[uint32]*coordinator.Session),
	}, nil
}

// Errors delivers outer transport failures. Reports are dropped when the
// channel is full.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Bind creates the coordinator session for table's application and starts
// its handshake.
func (c *Client) Bind(ctx context.Context, table schema.Table, opts ...coordinator.Option) (*coordinator.Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := c.sessions[table.AppID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: app=%d", ErrAppBound, table.AppID)
	}
	s, err := coordinator.New(coordinator.Config{
		AppID:     table.AppID,
		AccountID: c.cfg.AccountID,
		Table:     table,
		Session:   c.cfg.Session,
		Fetcher:   c.cfg.Fetcher,
	}, coordinator.TransportFunc(c.send), opts...)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.sessions[table.AppID] = s
	c.mu.Unlock()

	if err := s.Bind(ctx); err != nil {
		c.Unbind(table.AppID)
		return nil, err
	}
	log.Info().Uint32("app", table.AppID).Str("table", table.Name).Msg("client.Client bound")
	return s, nil
}

// Unbind closes and forgets the application's session.
func (c *Client) Unbind(appID uint32) error {
	c.mu.Lock()
	s, ok := c.sessions[appID]
	delete(c.sessions, appID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: app=%d", ErrAppNotBound, appID)
	}
	s.Close()
	return nil
}

func (c *Client) Session(appID uint32) (*coordinator.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[appID]
	return s, ok
}

// Sessions returns the bound sessions ordered by application id.
func (c *Client) Sessions() []*coordinator.Session {
	c.mu.Lock()
	out := make([]*coordinator.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AppID() < out[j].AppID() })
	return out
}

// Run reads the outer session and routes each envelope to the session bound
// for its application. When the outer session fails every bound session is
// closed with a TransportError and Run returns it.
func (c *Client) Run(ctx context.Context) error {
	for {
		env, err := c.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			terr := &coordinator.TransportError{Op: "recv", Err: err}
			log.Error().Err(err).Msg("client.Client.Run outer session lost")
			c.report(terr)
			c.shutdown(terr)
			return terr
		}
		s, ok := c.Session(env.AppID)
		if !ok {
			log.Debug().Uint32("app", env.AppID).Uint32("tag", env.Tag()).Msg("client.Client.Run frame for unbound app dropped")
			continue
		}
		if err := s.HandleFrame(ctx, env); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close closes every session and the outer connection.
func (c *Client) Close() error {
	c.shutdown(coordinator.ErrSessionClosed)
	return c.conn.Close()
}

func (c *Client) shutdown(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		sessions := c.sessions
		c.sessions = make(map[uint32]*coordinator.Session)
		c.mu.Unlock()
		for _, s := range sessions {
			s.CloseWithError(cause)
		}
	})
}

func (c *Client) send(ctx context.Context, env frame.Envelope) error {
	if err := c.conn.Send(ctx, env); err != nil {
		c.report(&coordinator.TransportError{Op: "send", Err: err})
		return err
	}
	return nil
}

func (c *Client) report(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
