package proxy

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/kanekikun07/shiny-bassoon/internal/credentials"
	"github.com/kanekikun07/shiny-bassoon/internal/logger"
	"github.com/kanekikun07/shiny-bassoon/internal/metrics"
	"github.com/kanekikun07/shiny-bassoon/internal/upstream"
	"github.com/kanekikun07/shiny-bassoon/internal/usage"
)

// Tunneler opens a byte tunnel to address through an upstream proxy.
// *dialer.Tunnel implements it.
type Tunneler interface {
	Connect(ctx context.Context, up upstream.Proxy, address string) (net.Conn, error)
}

type Config struct {
	// NegotiationTimeout bounds a client's handshake, from accept until the
	// relay starts. Zero means no limit.
	NegotiationTimeout time.Duration

	Tunnel      Tunneler
	Credentials *credentials.Table
	Upstreams   []upstream.Proxy
	Ledger      *usage.Ledger

	// Sheet serves the HTTP status page. Nil answers 404.
	Sheet credentials.SheetReader

	// Traffic receives one event per relayed session. Optional.
	Traffic usage.Sink

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// NewSessionID names sessions in logs and spans. Defaults to UUIDs.
	NewSessionID func() string
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	if cfg.Ledger == nil {
		cfg.Ledger = usage.NewLedger()
	}
	return cfg
}

// upstreamFor resolves the upstream bound to an authenticated user.
func (c *Config) upstreamFor(user string) (upstream.Proxy, error) {
	if c.Credentials == nil {
		return upstream.Proxy{}, ErrNoUpstream
	}
	cred, ok := c.Credentials.Lookup(user)
	if !ok || cred.UpstreamIndex < 0 || cred.UpstreamIndex >= len(c.Upstreams) {
		return upstream.Proxy{}, ErrNoUpstream
	}
	return c.Upstreams[cred.UpstreamIndex], nil
}

func (c *Config) verify(user, pass string) bool {
	return c.Credentials != nil && c.Credentials.Verify(user, pass)
}
