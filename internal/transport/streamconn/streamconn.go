// Package streamconn carries the outer session over a byte stream, one
// framed envelope after another.
package streamconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/danmuck/gclink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("streamconn: address required")
	ErrTLSKeyPair      = errors.New("streamconn: tls cert_file and key_file must be set together")
)

// TLSConfig enables TLS on the stream. A cert/key pair turns on client
// certificate authentication.
type TLSConfig struct {
	Enabled            bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

type Config struct {
	Address        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// ReadTimeout bounds each Recv; zero waits until ctx ends.
	ReadTimeout        time.Duration
	MaxConnectAttempts int
	Backoff            session.BackoffConfig
	Limits             frame.Limits
	TLS                TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxConnectAttempts: 5,
		Backoff:            session.DefaultConfig().HelloBackoff,
		Limits:             frame.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	return c
}

// Conn is an outer session over a net.Conn.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    Config

	wmu sync.Mutex
	rmu sync.Mutex
}

func New(conn net.Conn, cfg Config) *Conn {
	return &Conn{conn: conn, reader: bufio.NewReader(conn), cfg: cfg.withDefaults()}
}

// Dial connects to cfg.Address, retrying on the backoff schedule up to
// MaxConnectAttempts (zero retries forever).
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.withDefaults()
	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		var err error
		if tlsCfg, err = cfg.TLS.ClientConfig(cfg.Address); err != nil {
			return nil, err
		}
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		conn, err := dial(ctx, cfg, tlsCfg)
		if err == nil {
			log.Info().Str("addr", cfg.Address).Int("attempt", attempt).Msg("streamconn.Dial connected")
			return New(conn, cfg), nil
		}
		log.Warn().Str("addr", cfg.Address).Int("attempt", attempt).Err(err).Msg("streamconn.Dial failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, err
		}
		timer := time.NewTimer(cfg.Backoff.Delay(attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func dial(ctx context.Context, cfg Config, tlsCfg *tls.Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return rawConn, nil
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// ClientConfig builds the client side TLS settings. The server name falls
// back to the host part of address; an empty address leaves it to the dialer.
func (t TLSConfig) ClientConfig(address string) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(t.ServerName)
	if serverName == "" && address != "" {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	out.ServerName = serverName

	if caPath := strings.TrimSpace(t.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("streamconn: parse tls ca bundle: %s", caPath)
		}
		out.RootCAs = pool
	}

	certFile, keyFile := strings.TrimSpace(t.CertFile), strings.TrimSpace(t.KeyFile)
	if (certFile == "") != (keyFile == "") {
		return nil, ErrTLSKeyPair
	}
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

func (c *Conn) Send(ctx context.Context, env frame.Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return frame.WriteFrame(c.conn, env, c.cfg.Limits)
}

// Recv reads the next envelope. Cancelling ctx interrupts a blocked read.
func (c *Conn) Recv(ctx context.Context) (frame.Envelope, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	var deadline time.Time
	if c.cfg.ReadTimeout > 0 {
		deadline = time.Now().Add(c.cfg.ReadTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return frame.Envelope{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	env, err := frame.ReadFrame(c.reader, c.cfg.Limits)
	if err != nil && ctx.Err() != nil {
		return frame.Envelope{}, ctx.Err()
	}
	return env, err
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
