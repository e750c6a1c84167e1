package wsconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/danmuck/gclink/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

// echoServer reflects every envelope back with the app id incremented.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(echoHandler())
}

func echoHandler() http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := New(ws, Config{})
		defer c.Close()
		for {
			env, err := c.Recv(context.Background())
			if err != nil {
				return
			}
			env.AppID++
			if err := c.Send(context.Background(), env); err != nil {
				return
			}
		}
	})
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	testlog.Start(t)
	srv := echoServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), nil, Config{PongTimeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Send(ctx, frame.Envelope{AppID: 730, Kind: 4006 | frame.ProtoMask, Payload: []byte{0x08, 0x01}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := c.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.AppID != 731 || env.Kind != 4006|frame.ProtoMask || string(env.Payload) != "\x08\x01" {
		t.Fatalf("env=%+v", env)
	}
}

func TestTextMessagesSkipped(t *testing.T) {
	testlog.Start(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte("hello"))
		b, _ := frame.Marshal(frame.Envelope{AppID: 440, Kind: 9}, frame.DefaultLimits())
		_ = ws.WriteMessage(websocket.BinaryMessage, b)
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), nil, Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	env, err := c.Recv(ctx)
	if err != nil || env.AppID != 440 || env.Kind != 9 {
		t.Fatalf("env=%+v err=%v", env, err)
	}
}

func TestRecvCanceledByContext(t *testing.T) {
	testlog.Start(t)
	srv := echoServer(t)
	defer srv.Close()
	c, err := Dial(context.Background(), wsURL(srv), nil, Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
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
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close=%v", err)
	}
}

func TestDialOverTLS(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewTLSServer(echoHandler())
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "wss" + strings.TrimPrefix(srv.URL, "https")

	if _, err := Dial(ctx, url, nil, Config{}); err == nil {
		t.Fatalf("expected untrusted certificate to fail")
	}

	c, err := Dial(ctx, url, nil, Config{TLS: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.Send(ctx, frame.Envelope{AppID: 440, Kind: 4010 | frame.ProtoMask}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := c.Recv(ctx)
	if err != nil || env.AppID != 441 {
		t.Fatalf("env=%+v err=%v", env, err)
	}
}
