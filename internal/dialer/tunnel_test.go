package dialer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kanekikun07/shiny-bassoon/internal/testutil"
	"github.com/kanekikun07/shiny-bassoon/internal/upstream"
)

func mustUpstream(t *testing.T, addr string) upstream.Proxy {
	t.Helper()

	p, err := upstream.Parse("http://" + addr)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestTunnel() *Tunnel {
	return NewTunnel(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, nil)
}

func TestTunnelConnectSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	up := testutil.StartConnectProxy(t, ctx, "HTTP/1.1 200 Connection established\r\n\r\n")

	c, err := newTestTunnel().Connect(ctx, mustUpstream(t, up.Addr()), echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))

	if got := up.Targets(); len(got) != 1 || got[0] != echoLn.Addr().String() {
		t.Fatalf("unexpected CONNECT targets %v", got)
	}
}

func TestTunnelConnectSendsConnectRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan *http.Request, 1)
	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(c))
		if err != nil {
			return
		}
		got <- req
		_, _ = io.WriteString(c, "HTTP/1.0 200 OK\r\n\r\n")
	})
	defer waitUp()

	c, err := newTestTunnel().Connect(ctx, mustUpstream(t, upLn.Addr().String()), "example.com:443")
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Close()

	req := <-got
	if req.Method != http.MethodConnect || req.RequestURI != "example.com:443" || req.Host != "example.com:443" {
		t.Fatalf("unexpected request %s %s host=%s", req.Method, req.RequestURI, req.Host)
	}
}

func TestTunnelConnectReplaysTrailingBytes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		if _, err := http.ReadRequest(br); err != nil {
			return
		}
		_, _ = io.WriteString(c, "HTTP/1.1 200 Connection established\r\n\r\nEARLY")
		_, _ = io.WriteString(c, "-LATE")
		_, _ = io.Copy(io.Discard, br)
	})
	defer waitUp()

	c, err := newTestTunnel().Connect(ctx, mustUpstream(t, upLn.Addr().String()), "example.com:443")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	buf := make([]byte, len("EARLY-LATE"))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "EARLY-LATE" {
		t.Fatalf("got %q", buf)
	}
}

func TestTunnelConnectFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    func(net.Conn)
		timeout    time.Duration
		wantKind   Kind
		wantStatus string
		wantCode   int
	}{
		{
			name: "rejected",
			handler: func(c net.Conn) {
				br := bufio.NewReader(c)
				if _, err := http.ReadRequest(br); err != nil {
					return
				}
				_, _ = io.WriteString(c, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
			},
			wantKind:   KindRejected,
			wantStatus: "HTTP/1.1 407 Proxy Authentication Required",
			wantCode:   http.StatusProxyAuthRequired,
		},
		{
			name: "not http/1",
			handler: func(c net.Conn) {
				_, _ = http.ReadRequest(bufio.NewReader(c))
				_, _ = io.WriteString(c, "HTTP/2.0 200 OK\r\n\r\n")
			},
			wantKind:   KindRejected,
			wantStatus: "HTTP/2.0 200 OK",
			wantCode:   http.StatusOK,
		},
		{
			name: "closed without response",
			handler: func(c net.Conn) {
				_, _ = http.ReadRequest(bufio.NewReader(c))
			},
			wantKind:   KindNoResponse,
			wantStatus: "no response",
		},
		{
			name: "not http",
			handler: func(c net.Conn) {
				_, _ = http.ReadRequest(bufio.NewReader(c))
				_, _ = io.WriteString(c, "SSH-2.0-OpenSSH\r\n\r\n")
			},
			wantKind:   KindNoResponse,
			wantStatus: "no response",
		},
		{
			name: "oversized header",
			handler: func(c net.Conn) {
				_, _ = http.ReadRequest(bufio.NewReader(c))
				_, _ = io.WriteString(c, "HTTP/1.1 200 OK\r\nX-Pad: "+strings.Repeat("a", MaxResponseHeaderBytes)+"\r\n\r\n")
			},
			wantKind:   KindNoResponse,
			wantStatus: "no response",
		},
		{
			name: "handshake timeout",
			handler: func(c net.Conn) {
				_, _ = io.Copy(io.Discard, c)
			},
			timeout:  100 * time.Millisecond,
			wantKind: KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, tt.handler)
			defer waitUp()

			cfg := Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}
			if tt.timeout > 0 {
				cfg.NegotiationTimeout = tt.timeout
			}

			c, err := NewTunnel(cfg, nil).Connect(ctx, mustUpstream(t, upLn.Addr().String()), "example.com:443")
			if err == nil {
				_ = c.Close()
				t.Fatal("expected error")
			}

			var te *TunnelError
			if !errors.As(err, &te) {
				t.Fatalf("expected *TunnelError, got %T: %v", err, err)
			}
			if te.Kind != tt.wantKind {
				t.Fatalf("got kind %s want %s (%v)", te.Kind, tt.wantKind, err)
			}
			if te.Status != tt.wantStatus {
				t.Fatalf("got status %q want %q", te.Status, tt.wantStatus)
			}
			if te.StatusCode != tt.wantCode {
				t.Fatalf("got status code %d want %d", te.StatusCode, tt.wantCode)
			}
		})
	}
}

func TestTunnelConnectDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newTestTunnel().Connect(ctx, mustUpstream(t, testutil.ClosedAddr(t)), "example.com:443")

	var te *TunnelError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TunnelError, got %v", err)
	}
	if te.Kind != KindDial {
		t.Fatalf("got kind %s", te.Kind)
	}
	if !te.Refused() {
		t.Fatalf("expected refused, got %v", te.Err)
	}
}

func TestTunnelConnectContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	})
	defer waitUp()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	tun := NewTunnel(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 10 * time.Second}, nil)
	start := time.Now()
	_, err := tun.Connect(ctx, mustUpstream(t, upLn.Addr().String()), "example.com:443")
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancel did not interrupt the handshake")
	}
}
