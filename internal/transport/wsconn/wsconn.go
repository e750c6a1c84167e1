// Package wsconn carries the outer session over a websocket: each binary
// message holds one marshaled envelope.
package wsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("wsconn: closed")

type Config struct {
	WriteTimeout time.Duration
	// PongTimeout is how long the peer may stay silent; pings go out at
	// half that interval. Zero disables keepalive.
	PongTimeout time.Duration
	Limits      frame.Limits
	// TLS overrides the client TLS settings for wss:// urls.
	TLS *tls.Config
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout: 5 * time.Second,
		PongTimeout:  60 * time.Second,
		Limits:       frame.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	return c
}

type Conn struct {
	ws   *websocket.Conn
	cfg  Config
	done chan struct{}
	once sync.Once

	wmu sync.Mutex
	rmu sync.Mutex
}

// Dial opens a websocket to url and wraps it.
func Dial(ctx context.Context, url string, header http.Header, cfg Config) (*Conn, error) {
	dialer := *websocket.DefaultDialer
	if cfg.TLS != nil {
		dialer.TLSClientConfig = cfg.TLS
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", url).Msg("wsconn.Dial connected")
	return New(ws, cfg), nil
}

// New wraps an established websocket and starts its ping loop.
func New(ws *websocket.Conn, cfg Config) *Conn {
	c := &Conn{ws: ws, cfg: cfg.withDefaults(), done: make(chan struct{})}
	ws.SetReadLimit(int64(c.cfg.Limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	if c.cfg.PongTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		})
		go c.pingLoop()
	}
	return c
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PongTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			log.Debug().Err(err).Msg("wsconn.Conn ping failed")
			return
		}
	}
}

func (c *Conn) Send(ctx context.Context, env frame.Envelope) error {
	b, err := frame.Marshal(env, c.cfg.Limits)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

// Recv returns the next binary message as an envelope; other message types
// are skipped. Cancelling ctx closes the connection.
func (c *Conn) Recv(ctx context.Context) (frame.Envelope, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	for {
		typ, b, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return frame.Envelope{}, ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("wsconn.Conn read failed")
			}
			return frame.Envelope{}, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return frame.Unmarshal(b, c.cfg.Limits)
	}
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	err := ErrClosed
	c.once.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}
