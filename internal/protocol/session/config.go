package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines coordinator sub-session timing defaults.
type Config struct {
	// HandshakeTimeout bounds HandshakePending; hello is re-sent on HelloBackoff until then.
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	// RequestTimeout is the default deadline for request-style operations.
	RequestTimeout time.Duration
	// InboundBuffer is the dispatch queue depth per session.
	InboundBuffer int
	HelloVersion  uint32
	HelloBackoff  BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  30 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		RequestTimeout:    10 * time.Second,
		InboundBuffer:     64,
		HelloVersion:      1,
		HelloBackoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       false,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = d.InboundBuffer
	}
	if c.HelloVersion == 0 {
		c.HelloVersion = d.HelloVersion
	}
	if c.HelloBackoff.InitialDelay <= 0 {
		c.HelloBackoff = d.HelloBackoff
	}
	return c
}
