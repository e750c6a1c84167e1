package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/gclink/internal/protocol/session"
	"github.com/danmuck/gclink/internal/transport/streamconn"
)

const (
	TransportWebsocket = "ws"
	TransportStream    = "tcp"
)

// ClientConfig configures cmd/gcctl run.
type ClientConfig struct {
	Name        string
	AccountID   uint64
	Transport   string
	Address     string
	SnapshotURL string
	AdminAddr   string
	// AdminToken, when set, is required as a bearer token on admin routes.
	AdminToken  string
	CorsOrigins []string
	// Tables are kind table files, resolved against the config file's directory.
	Tables  []string
	Econ    bool
	// TLS applies to tcp and wss transports; file paths resolve like Tables.
	TLS     streamconn.TLSConfig
	Session session.Config
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:      "gcctl",
		Transport: TransportWebsocket,
		AdminAddr: ":9400",
		Econ:      true,
		Session:   session.DefaultConfig(),
	}
}

type clientFile struct {
	Name                string   `toml:"name"`
	AccountID           uint64   `toml:"account_id"`
	Transport           string   `toml:"transport"`
	Address             string   `toml:"address"`
	SnapshotURL         string   `toml:"snapshot_url"`
	AdminAddr           string   `toml:"admin_addr"`
	AdminToken          string   `toml:"admin_token"`
	CorsOrigins         []string `toml:"cors_origins"`
	Tables              []string `toml:"tables"`
	Econ                bool     `toml:"econ"`
	HandshakeTimeout    string   `toml:"handshake_timeout"`
	HandshakeTimeoutMS  int64    `toml:"handshake_timeout_ms"`
	HeartbeatInterval   string   `toml:"heartbeat_interval"`
	HeartbeatIntervalMS int64    `toml:"heartbeat_interval_ms"`
	RequestTimeout      string   `toml:"request_timeout"`
	RequestTimeoutMS    int64    `toml:"request_timeout_ms"`
	InboundBuffer       int      `toml:"inbound_buffer"`
	HelloVersion        uint32   `toml:"hello_version"`
	TLS                 tlsFile  `toml:"tls"`
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// LoadClientConfig reads path over DefaultClientConfig; only keys present in
// the file override defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("account_id") {
		cfg.AccountID = raw.AccountID
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("snapshot_url") {
		cfg.SnapshotURL = strings.TrimSpace(raw.SnapshotURL)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	base := filepath.Dir(path)
	if meta.IsDefined("tables") {
		cfg.Tables = cfg.Tables[:0]
		for _, p := range normalizeList(raw.Tables) {
			cfg.Tables = append(cfg.Tables, resolvePath(base, p))
		}
	}
	if meta.IsDefined("tls") {
		cfg.TLS = streamconn.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			CAFile:             resolvePath(base, strings.TrimSpace(raw.TLS.CAFile)),
			CertFile:           resolvePath(base, strings.TrimSpace(raw.TLS.CertFile)),
			KeyFile:            resolvePath(base, strings.TrimSpace(raw.TLS.KeyFile)),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}
	if meta.IsDefined("econ") {
		cfg.Econ = raw.Econ
	}

	durations := []struct {
		key   string
		text  string
		msKey string
		ms    int64
		dst   *time.Duration
	}{
		{"handshake_timeout", raw.HandshakeTimeout, "handshake_timeout_ms", raw.HandshakeTimeoutMS, &cfg.Session.HandshakeTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, "heartbeat_interval_ms", raw.HeartbeatIntervalMS, &cfg.Session.HeartbeatInterval},
		{"request_timeout", raw.RequestTimeout, "request_timeout_ms", raw.RequestTimeoutMS, &cfg.Session.RequestTimeout},
	}
	for _, d := range durations {
		if meta.IsDefined(d.key) {
			v, err := time.ParseDuration(strings.TrimSpace(d.text))
			if err != nil {
				return ClientConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
			}
			*d.dst = v
		}
		if meta.IsDefined(d.msKey) {
			*d.dst = time.Duration(d.ms) * time.Millisecond
		}
	}
	if meta.IsDefined("inbound_buffer") {
		cfg.Session.InboundBuffer = raw.InboundBuffer
	}
	if meta.IsDefined("hello_version") {
		cfg.Session.HelloVersion = raw.HelloVersion
	}
	cfg.Session = cfg.Session.WithDefaults()

	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	switch cfg.Transport {
	case TransportWebsocket, TransportStream:
	default:
		return fmt.Errorf("client config transport must be %q or %q, got %q", TransportWebsocket, TransportStream, cfg.Transport)
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("client config missing address")
	}
	if len(cfg.Tables) == 0 {
		return fmt.Errorf("client config lists no tables")
	}
	if cfg.TLS.Enabled && (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("client config tls cert_file and key_file must be set together")
	}
	return nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
