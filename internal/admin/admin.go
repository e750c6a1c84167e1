// Package admin serves a read-only HTTP view of the bound coordinator
// sessions and their mirrored inventories.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/gclink/internal/auth"
	"github.com/danmuck/gclink/internal/coordinator"
	"github.com/danmuck/gclink/internal/inventory"
	"github.com/danmuck/gclink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Source lists the sessions to expose.
type Source interface {
	Sessions() []*coordinator.Session
	Session(appID uint32) (*coordinator.Session, bool)
}

type Config struct {
	Name        string
	CorsOrigins []string
	// Auth guards every route except /health when set.
	Auth auth.Validator
}

type Server struct {
	Name    string
	Started time.Time

	src    Source
	auth   auth.Validator
	router *gin.Engine
}

func New(cfg Config, src Source) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.Logger("admin")))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{Name: cfg.Name, Started: time.Now(), src: src, auth: cfg.Auth, router: r}
	s.RegisterRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"name":    s.Name,
			"version": version,
		})
	})

	routes := s.router.Group("/")
	if s.auth != nil {
		routes.Use(auth.Require(s.auth))
	}

	routes.GET("/ready", func(c *gin.Context) {
		sessions := s.src.Sessions()
		ready := len(sessions) > 0
		pending := []uint32{}
		for _, sess := range sessions {
			if sess.State() != coordinator.StateReady {
				ready = false
				pending = append(pending, sess.AppID())
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "pending": pending})
	})

	routes.GET("/sessions", func(c *gin.Context) {
		sessions := s.src.Sessions()
		out := make([]sessionView, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, viewSession(sess))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	routes.GET("/inventory/:app", func(c *gin.Context) {
		app, err := strconv.ParseUint(c.Param("app"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid app id"})
			return
		}
		sess, ok := s.src.Session(uint32(app))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "app not bound"})
			return
		}
		handles := sess.Inventory().Items()
		items := make([]itemView, 0, len(handles))
		for _, h := range handles {
			items = append(items, viewItem(h))
		}
		c.JSON(http.StatusOK, gin.H{
			"app":      sess.AppID(),
			"state":    sess.State().String(),
			"reported": sess.Inventory().Reported(),
			"items":    items,
		})
	})

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// ListenAndServe serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("admin.Server listening")
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type sessionView struct {
	App        uint32   `json:"app"`
	Table      string   `json:"table"`
	State      string   `json:"state"`
	Items      int      `json:"items"`
	Reported   int      `json:"reported"`
	Drift      int      `json:"drift"`
	Loaded     bool     `json:"loaded"`
	Waiters    int      `json:"waiters"`
	Extensions []string `json:"extensions"`
}

func viewSession(s *coordinator.Session) sessionView {
	inv := s.Inventory()
	return sessionView{
		App:        s.AppID(),
		Table:      s.Table().Name,
		State:      s.State().String(),
		Items:      inv.Len(),
		Reported:   inv.Reported(),
		Drift:      inv.Drift(),
		Loaded:     inv.Loaded(),
		Waiters:    s.Correlator().Len(),
		Extensions: s.Extensions(),
	}
}

type itemView struct {
	inventory.Object
	Kind     string `json:"kind"`
	ParentID uint64 `json:"parent_id,omitempty,string"`
	Count    *int   `json:"count,omitempty"`
}

func viewItem(h *inventory.Handle) itemView {
	v := itemView{Object: h.Item().Snapshot(), Kind: h.Kind().String()}
	if pid, ok := h.Item().ParentID(); ok {
		v.ParentID = pid
	}
	if c, ok := h.Container(); ok {
		n := c.Count()
		v.Count = &n
	}
	return v
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
