package proxy

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kanekikun07/shiny-bassoon/internal/conn"
	"github.com/kanekikun07/shiny-bassoon/internal/credentials"
	"github.com/kanekikun07/shiny-bassoon/internal/dialer"
	"github.com/kanekikun07/shiny-bassoon/internal/upstream"
	"github.com/kanekikun07/shiny-bassoon/internal/usage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []usage.Event
}

func (r *recordingSink) RecordTraffic(_ context.Context, ev usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) Events() []usage.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usage.Event(nil), r.events...)
}

type fixture struct {
	cfg     Config
	ledger  *usage.Ledger
	traffic *recordingSink
	sheet   credentials.FileSheet
}

// newFixture builds a relay config whose users are bound, in order, to the
// upstream proxies listening on upstreamAddrs.
func newFixture(t *testing.T, upstreamAddrs ...string) *fixture {
	t.Helper()

	ups := make([]upstream.Proxy, 0, len(upstreamAddrs))
	for _, a := range upstreamAddrs {
		p, err := upstream.Parse("http://" + a)
		if err != nil {
			t.Fatal(err)
		}
		ups = append(ups, p)
	}

	f := &fixture{
		ledger:  usage.NewLedger(),
		traffic: &recordingSink{},
		sheet:   credentials.FileSheet{Path: filepath.Join(t.TempDir(), "user_proxies.txt")},
	}
	f.cfg = Config{
		NegotiationTimeout: 2 * time.Second,
		Tunnel:             dialer.NewTunnel(dialer.Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, nil),
		Credentials:        credentials.Generate(ups),
		Upstreams:          ups,
		Ledger:             f.ledger,
		Sheet:              f.sheet,
		Traffic:            f.traffic,
	}
	return f
}

func dialerWithTimeout(d time.Duration) Tunneler {
	return dialer.NewTunnel(dialer.Config{DialTimeout: d, NegotiationTimeout: d}, nil)
}

// shortWriteConn accepts half of the first write and then fails.
type shortWriteConn struct {
	net.Conn
}

func (c shortWriteConn) Write(p []byte) (int, error) {
	return len(p) / 2, errors.New("connection reset by upstream")
}

// fixedTunnel hands out the same connection for every tunnel.
type fixedTunnel struct {
	conn net.Conn
}

func (f fixedTunnel) Connect(context.Context, upstream.Proxy, string) (net.Conn, error) {
	return f.conn, nil
}

func startHTTPProxy(t *testing.T, cfg Config) string {
	t.Helper()
	return startServer(t, func(ctx context.Context, ln net.Listener) error {
		return NewHTTPProxyServer(ctx, cfg).Serve(ln)
	})
}

func startSOCKSProxy(t *testing.T, cfg Config) string {
	t.Helper()
	return startServer(t, func(ctx context.Context, ln net.Listener) error {
		return NewSOCKS5Server(ctx, cfg).Serve(ln)
	})
}

func startServer(t *testing.T, serve func(context.Context, net.Listener) error) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := conn.ListenTCP(ctx, "tcp", "127.0.0.1:0", conn.ListenOptions{})
	if err != nil {
		cancel()
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})

	return ln.Addr().String()
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = c.Close() })
	return c
}
