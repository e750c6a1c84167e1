package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/gclink/internal/admin"
	"github.com/danmuck/gclink/internal/auth"
	"github.com/danmuck/gclink/internal/client"
	"github.com/danmuck/gclink/internal/config"
	"github.com/danmuck/gclink/internal/coordinator"
	"github.com/danmuck/gclink/internal/econ"
	"github.com/danmuck/gclink/internal/inventory"
	"github.com/danmuck/gclink/internal/protocol/schema"
	"github.com/danmuck/gclink/internal/snapshot"
	"github.com/danmuck/gclink/internal/transport/streamconn"
	"github.com/danmuck/gclink/internal/transport/wsconn"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the outer session, bind every configured game and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "gcctl.toml", "client config path")
	return cmd
}

func serve(ctx context.Context, cfg config.ClientConfig) error {
	tables := make([]schema.Table, 0, len(cfg.Tables))
	for _, p := range cfg.Tables {
		t, err := config.LoadGameTable(p)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}

	var fetcher inventory.Fetcher
	if cfg.SnapshotURL != "" {
		f, err := snapshot.NewHTTPFetcher(cfg.SnapshotURL)
		if err != nil {
			return err
		}
		fetcher = f
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	cl, err := client.New(client.Config{AccountID: cfg.AccountID, Session: cfg.Session, Fetcher: fetcher}, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer cl.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- cl.Run(ctx) }()

	for _, t := range tables {
		opts := []coordinator.Option{coordinator.WithEvents(events(ctx, fetcher != nil))}
		if cfg.Econ {
			opts = append(opts, coordinator.WithExtensions(econ.New()))
		}
		if _, err := cl.Bind(ctx, t, opts...); err != nil {
			return fmt.Errorf("bind %s: %w", t.Name, err)
		}
	}

	adminErr := make(chan error, 1)
	if cfg.AdminAddr != "" {
		adminCfg := admin.Config{Name: cfg.Name, CorsOrigins: cfg.CorsOrigins}
		if cfg.AdminToken != "" {
			adminCfg.Auth = auth.StaticToken{Token: cfg.AdminToken}
		}
		srv := admin.New(adminCfg, cl)
		go func() { adminErr <- srv.ListenAndServe(ctx, cfg.AdminAddr) }()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gcctl.serve shutdown")
			return nil
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case err := <-cl.Errors():
			log.Warn().Err(err).Msg("gcctl.serve outer session error")
		}
	}
}

func dial(ctx context.Context, cfg config.ClientConfig) (client.Conn, error) {
	switch cfg.Transport {
	case config.TransportStream:
		sc := streamconn.DefaultConfig()
		sc.Address = cfg.Address
		sc.TLS = cfg.TLS
		return streamconn.Dial(ctx, sc)
	default:
		wc := wsconn.DefaultConfig()
		if cfg.TLS.Enabled {
			tlsCfg, err := cfg.TLS.ClientConfig("")
			if err != nil {
				return nil, err
			}
			wc.TLS = tlsCfg
		}
		return wsconn.Dial(ctx, cfg.Address, nil, wc)
	}
}

// events logs lifecycle changes and bootstraps the inventory from a snapshot
// once a session is ready.
func events(ctx context.Context, bootstrap bool) coordinator.Events {
	return coordinator.Events{
		OnReady: func(s *coordinator.Session) {
			log.Info().Uint32("app", s.AppID()).Int("items", s.Inventory().Len()).Msg("gcctl session ready")
			if !bootstrap {
				return
			}
			go func() {
				if err := s.Inventory().Load(ctx); err != nil {
					log.Warn().Uint32("app", s.AppID()).Err(err).Msg("gcctl snapshot bootstrap failed")
				}
			}()
		},
		OnDisconnect: func(s *coordinator.Session, cause error) {
			log.Warn().Uint32("app", s.AppID()).Err(cause).Msg("gcctl session disconnected")
		},
	}
}
