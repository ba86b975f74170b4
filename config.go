package realtime

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Prismer-AI/realtime/internal/clock"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectBase     = 1 * time.Second
	DefaultReconnectMax      = 30 * time.Second
	DefaultReconnectFactor   = 2.0
	DefaultMaxAttempts       = 10
	DefaultMaxRedeliveries   = 5
	DefaultWriteTimeout      = 10 * time.Second
	DefaultDialTimeout       = 30 * time.Second
)

// OverflowPolicy decides what a bounded outbound queue does when full.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop-oldest"
	OverflowRejectNew  OverflowPolicy = "reject-new"
)

// ReconnectPolicy configures the exponential backoff between
// reconnection attempts. Zero fields take the package defaults.
type ReconnectPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// MaxAttempts bounds consecutive failed attempts; negative means
	// unlimited.
	MaxAttempts int
	// Jitter adds up to Jitter*delay of random delay. Zero disables it.
	Jitter float64
}

// Config configures a Client. Build it with NewConfig so the defaults
// for ReconnectEnabled and HeartbeatInterval are set.
type Config struct {
	Endpoint         string
	SubProtocols     []string
	ReconnectEnabled bool
	// HeartbeatInterval <= 0 disables the heartbeat.
	HeartbeatInterval time.Duration
	// PongTimeout > 0 closes and reconnects a connection whose ping was
	// not answered in time. Zero only records pong times.
	PongTimeout     time.Duration
	Reconnect       ReconnectPolicy
	MaxRedeliveries int
	// QueueLimit bounds the outbound queue; zero means unbounded.
	QueueLimit    int
	QueueOverflow OverflowPolicy
	WriteTimeout  time.Duration
	DialTimeout   time.Duration
}

// NewConfig returns a Config for endpoint with every default applied.
func NewConfig(endpoint string) Config {
	cfg := Config{
		Endpoint:          endpoint,
		ReconnectEnabled:  true,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
	cfg.defaults()
	return cfg
}

func (c *Config) defaults() {
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBase
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if c.Reconnect.Multiplier < 1 {
		c.Reconnect.Multiplier = DefaultReconnectFactor
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxRedeliveries <= 0 {
		c.MaxRedeliveries = DefaultMaxRedeliveries
	}
	if c.QueueLimit > 0 && c.QueueOverflow == "" {
		c.QueueOverflow = OverflowDropOldest
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

func (c *Config) validate() error {
	endpoint, err := normalizeEndpoint(c.Endpoint)
	if err != nil {
		return err
	}
	c.Endpoint = endpoint

	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("%w: reconnect max delay %s below base delay %s",
			ErrInvalidConfig, c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.Jitter < 0 {
		return fmt.Errorf("%w: negative reconnect jitter", ErrInvalidConfig)
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("%w: negative queue limit", ErrInvalidConfig)
	}
	switch c.QueueOverflow {
	case "", OverflowDropOldest, OverflowRejectNew:
	default:
		return fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, c.QueueOverflow)
	}
	return nil
}

// normalizeEndpoint accepts ws(s) URLs and rewrites http(s) to ws(s).
func normalizeEndpoint(endpoint string) (string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return "", fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported endpoint scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: endpoint has no host", ErrInvalidConfig)
	}
	return u.String(), nil
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the diagnostics sink.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTransport replaces the default nhooyr.io/websocket transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithClock replaces the real time source. Intended for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithMetrics attaches Prometheus collectors built with NewMetrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}
