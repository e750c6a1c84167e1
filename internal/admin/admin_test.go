package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/gclink/internal/auth"
	"github.com/danmuck/gclink/internal/coordinator"
	"github.com/danmuck/gclink/internal/inventory"
	"github.com/danmuck/gclink/internal/protocol/frame"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/protocol/session"
	"github.com/danmuck/gclink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type fakeSource struct {
	sessions []*coordinator.Session
}

func (f fakeSource) Sessions() []*coordinator.Session {
	return f.sessions
}

func (f fakeSource) Session(app uint32) (*coordinator.Session, bool) {
	for _, s := range f.sessions {
		if s.AppID() == app {
			return s, true
		}
	}
	return nil, false
}

func newSession(t *testing.T, app uint32, ready bool, objs ...inventory.Object) *coordinator.Session {
	t.Helper()
	table := schema.DefaultTable()
	table.AppID = app
	s, err := coordinator.New(coordinator.Config{
		Table:   table,
		Session: session.Config{HeartbeatInterval: time.Hour},
	}, coordinator.TransportFunc(func(context.Context, frame.Envelope) error { return nil }))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bind(context.Background()); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !ready {
		return s
	}
	c := session.CacheSubscribed{}
	for _, o := range objs {
		c.Objects = append(c.Objects, session.ObjectBlock{TypeID: 1, Data: inventory.EncodeObject(o)})
	}
	for _, f := range []struct {
		kind    schema.Kind
		payload []byte
	}{
		{schema.KindWelcome, session.EncodeWelcome(session.Welcome{Version: 1})},
		{schema.KindCacheSubscribed, session.EncodeCacheSubscribed(c)},
	} {
		env, err := table.Envelope(f.kind, f.payload)
		if err != nil {
			t.Fatalf("envelope: %v", err)
		}
		if err := s.HandleFrame(context.Background(), env); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	return s
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	ready := newSession(t, 730, true)
	pending := newSession(t, 440, false)

	srv := New(Config{Name: "gclink-test"}, fakeSource{sessions: []*coordinator.Session{ready}})
	if rec := get(t, srv, "/health"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health code=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := get(t, srv, "/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready code=%d body=%s", rec.Code, rec.Body.String())
	}

	srv = New(Config{Name: "gclink-test"}, fakeSource{sessions: []*coordinator.Session{ready, pending}})
	rec := get(t, srv, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with pending session code=%d", rec.Code)
	}
	var body struct {
		Ready   bool     `json:"ready"`
		Pending []uint32 `json:"pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Ready || len(body.Pending) != 1 || body.Pending[0] != 440 {
		t.Fatalf("ready body=%+v", body)
	}
}

func TestSessionsAndInventory(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	s := newSession(t, 730, true,
		inventory.Object{ID: 50, DefIndex: 1201, Attributes: []inventory.Attribute{inventory.Uint32Attribute(270, 1)}},
		inventory.Object{ID: 60, DefIndex: 7, CustomName: "Boxed", Attributes: []inventory.Attribute{
			inventory.Uint32Attribute(272, 50),
			inventory.Uint32Attribute(273, 0),
		}},
	)
	srv := New(Config{Name: "gclink-test", CorsOrigins: []string{" https://example.test "}}, fakeSource{sessions: []*coordinator.Session{s}})

	rec := get(t, srv, "/sessions")
	var list struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].App != 730 || list.Sessions[0].State != "ready" || list.Sessions[0].Items != 2 {
		t.Fatalf("sessions=%+v", list.Sessions)
	}

	rec = get(t, srv, "/inventory/730")
	if rec.Code != http.StatusOK {
		t.Fatalf("inventory code=%d", rec.Code)
	}
	var inv struct {
		Items []struct {
			ID       string `json:"id"`
			Kind     string `json:"kind"`
			ParentID string `json:"parent_id"`
			Count    *int   `json:"count"`
			Name     string `json:"custom_name"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &inv); err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	byID := map[string]int{}
	for i, it := range inv.Items {
		byID[it.ID] = i
	}
	box, ok := byID["50"]
	if !ok || inv.Items[box].Kind != "container" || inv.Items[box].Count == nil || *inv.Items[box].Count != 1 {
		t.Fatalf("container view=%+v", inv.Items)
	}
	child, ok := byID["60"]
	if !ok || inv.Items[child].ParentID != "50" || inv.Items[child].Name != "Boxed" {
		t.Fatalf("child view=%+v", inv.Items)
	}

	if rec := get(t, srv, "/inventory/440"); rec.Code != http.StatusNotFound {
		t.Fatalf("unbound app code=%d", rec.Code)
	}
	if rec := get(t, srv, "/inventory/abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad app code=%d", rec.Code)
	}
	if rec := get(t, srv, "/metrics"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "gclink_") {
		t.Fatalf("metrics code=%d", rec.Code)
	}
}

func TestTokenGuardsAllButHealth(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	s := newSession(t, 730, true)
	srv := New(Config{Name: "gclink-test", Auth: auth.StaticToken{Token: "s3cret"}}, fakeSource{sessions: []*coordinator.Session{s}})

	if rec := get(t, srv, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health code=%d", rec.Code)
	}
	if rec := get(t, srv, "/sessions"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated sessions code=%d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated sessions code=%d", rec.Code)
	}
}
