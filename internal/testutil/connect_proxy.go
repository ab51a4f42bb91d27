package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
)

// ConnectProxy is a minimal unauthenticated HTTP CONNECT proxy used as an
// upstream in tests.
type ConnectProxy struct {
	ln       net.Listener
	response string
	wg       sync.WaitGroup

	mu      sync.Mutex
	targets []string
	conns   []net.Conn
}

// StartConnectProxy starts a proxy that answers every CONNECT with response.
// When response carries a 2xx status, the proxy dials the requested target
// and relays bytes in both directions.
func StartConnectProxy(t *testing.T, ctx context.Context, response string) *ConnectProxy {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	p := &ConnectProxy{ln: ln, response: response}
	p.wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			p.track(c)
			go p.handle(ctx, c)
		}
	})
	t.Cleanup(p.Close)

	return p
}

// Addr returns the proxy listen address.
func (p *ConnectProxy) Addr() string {
	return p.ln.Addr().String()
}

// Targets returns the CONNECT targets requested so far.
func (p *ConnectProxy) Targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.targets...)
}

// Close stops accepting and closes every proxied connection.
func (p *ConnectProxy) Close() {
	_ = p.ln.Close()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		_ = c.Close()
	}
	p.conns = nil
}

func (p *ConnectProxy) track(c net.Conn) {
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
}

func (p *ConnectProxy) handle(ctx context.Context, c net.Conn) {
	defer c.Close()

	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	_ = req.Body.Close()
	if req.Method != http.MethodConnect {
		_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
		return
	}

	p.mu.Lock()
	p.targets = append(p.targets, req.Host)
	p.mu.Unlock()

	if !strings.HasPrefix(p.response, "HTTP/1.1 2") && !strings.HasPrefix(p.response, "HTTP/1.0 2") {
		_, _ = io.WriteString(c, p.response)
		return
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Host)
	if err != nil {
		_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	p.track(dst)
	defer dst.Close()

	if _, err := io.WriteString(c, p.response); err != nil {
		return
	}

	go func() {
		_, _ = io.Copy(dst, br)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
}
