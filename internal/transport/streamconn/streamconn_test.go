package streamconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/danmuck/gclink/internal/testutil/testlog"
	"github.com/danmuck/gclink/internal/testutil/tlstest"
)

func TestSendRecvOverPipe(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	left, right := New(a, Config{}), New(b, Config{})
	defer left.Close()
	defer right.Close()

	want := frame.Envelope{AppID: 730, Kind: 4004 | frame.ProtoMask, Payload: []byte{0x08, 0x01}}
	errs := make(chan error, 1)
	go func() { errs <- left.Send(context.Background(), want) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := right.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.AppID != want.AppID || got.Kind != want.Kind || string(got.Payload) != string(want.Payload) {
		t.Fatalf("got=%+v want=%+v", got, want)
	}
}

func TestRecvCanceledByContext(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	c := New(b, Config{})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Recv(ctx)
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("recv not interrupted")
	}
}

func TestDialRequiresAddressAndGivesUp(t *testing.T) {
	testlog.Start(t)
	if _, err := Dial(context.Background(), Config{}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := Config{Address: addr, MaxConnectAttempts: 2}
	cfg.Backoff.InitialDelay = time.Millisecond
	cfg.Backoff.Multiplier = 1
	if _, err := Dial(context.Background(), cfg); err == nil {
		t.Fatalf("expected dial failure against a closed port")
	}
}

func TestDialConnects(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c, err := Dial(context.Background(), Config{Address: ln.Addr().String()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	server := New(<-accepted, Config{})
	defer server.Close()

	if err := c.Send(context.Background(), frame.Envelope{AppID: 440, Kind: 7}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := server.Recv(context.Background())
	if err != nil || env.AppID != 440 || env.Kind != 7 {
		t.Fatalf("env=%+v err=%v", env, err)
	}
}

func TestDialMutualTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "gclink-test-ca")
	serverCert, serverKey := ca.ServerCert(t, dir)
	clientCert, clientKey := ca.ClientCert(t, dir, "gcctl")

	pair, err := tls.LoadX509KeyPair(serverCert, serverKey)
	if err != nil {
		t.Fatalf("load server pair: %v", err)
	}
	caPEM, err := os.ReadFile(ca.CAFile())
	if err != nil {
		t.Fatalf("read ca: %v", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		t.Fatalf("bad ca pem")
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{pair},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type accepted struct {
		conn *tls.Conn
		err  error
	}
	acc := make(chan accepted, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acc <- accepted{err: err}
			return
		}
		tc := conn.(*tls.Conn)
		acc <- accepted{conn: tc, err: tc.Handshake()}
	}()

	cfg := Config{Address: ln.Addr().String(), MaxConnectAttempts: 1}
	cfg.TLS = TLSConfig{Enabled: true, ServerName: "localhost", CAFile: ca.CAFile(), CertFile: clientCert, KeyFile: clientKey}
	c, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	a := <-acc
	if a.err != nil {
		t.Fatalf("server handshake: %v", a.err)
	}
	if peers := a.conn.ConnectionState().PeerCertificates; len(peers) == 0 || peers[0].Subject.CommonName != "gcctl" {
		t.Fatalf("client certificate not presented")
	}
	server := New(a.conn, Config{})
	defer server.Close()

	if err := c.Send(context.Background(), frame.Envelope{AppID: 570, Kind: 9}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := server.Recv(context.Background())
	if err != nil || env.AppID != 570 || env.Kind != 9 {
		t.Fatalf("env=%+v err=%v", env, err)
	}
}

func TestTLSKeyPairMustBeComplete(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Address: "127.0.0.1:1", TLS: TLSConfig{Enabled: true, CertFile: "client.crt"}}
	if _, err := Dial(context.Background(), cfg); !errors.Is(err, ErrTLSKeyPair) {
		t.Fatalf("expected ErrTLSKeyPair, got %v", err)
	}
}
