package dialer

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kanekikun07/shiny-bassoon/internal/conn"
	"github.com/kanekikun07/shiny-bassoon/internal/upstream"
)

// MaxResponseHeaderBytes bounds how much of an upstream's CONNECT response is
// buffered while looking for the end of its header block.
const MaxResponseHeaderBytes = 64 << 10

const noResponse = "no response"

// Tunnel establishes byte tunnels to destinations through upstream HTTP
// proxies using the CONNECT method.
type Tunnel struct {
	cfg    Config
	direct Dialer
}

// NewTunnel returns a Tunnel that reaches upstream proxies with direct, or
// with a direct dialer built from cfg if direct is nil.
func NewTunnel(cfg Config, direct Dialer) *Tunnel {
	if direct == nil {
		direct = NewDirectDialer(cfg)
	}
	return &Tunnel{cfg: cfg, direct: direct}
}

// Connect opens a connection to up and asks it to CONNECT to address
// (host:port). Domain names are passed to the upstream unresolved.
//
// On success the returned conn is ready for raw relaying. Any bytes the
// upstream sent after its response header are returned by the first reads.
// All failures are *TunnelError.
func (t *Tunnel) Connect(ctx context.Context, up upstream.Proxy, address string) (net.Conn, error) {
	fail := func(kind Kind, status string, err error) error {
		return &TunnelError{Kind: kind, Upstream: up.String(), Target: address, Status: status, Err: err}
	}

	c, err := t.direct.DialContext(ctx, "tcp", up.Addr())
	if err != nil {
		if isTimeout(err) {
			return nil, fail(KindTimeout, "", err)
		}
		return nil, fail(KindDial, "", err)
	}

	if t.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(t.cfg.NegotiationTimeout))
	}
	// Unblock the handshake if the session is torn down meanwhile.
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req := "CONNECT " + address + " HTTP/1.1\r\nHost: " + address + "\r\n\r\n"
	if _, err := io.WriteString(c, req); err != nil {
		_ = c.Close()
		if isTimeout(err) {
			return nil, fail(KindTimeout, "", err)
		}
		return nil, fail(KindNoResponse, noResponse, err)
	}

	br := bufio.NewReader(io.LimitReader(c, MaxResponseHeaderBytes))
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		_ = c.Close()
		if isTimeout(err) {
			return nil, fail(KindTimeout, "", err)
		}
		return nil, fail(KindNoResponse, noResponse, err)
	}
	_ = resp.Body.Close()

	// Only an HTTP/1.x 2xx reply opens the tunnel.
	if resp.ProtoMajor != 1 || resp.StatusCode/100 != 2 {
		_ = c.Close()
		e := fail(KindRejected, resp.Proto+" "+resp.Status, nil).(*TunnelError)
		e.StatusCode = resp.StatusCode
		return nil, e
	}

	if !stop() {
		// ctx fired after the response arrived; the deadline is poisoned.
		_ = c.Close()
		return nil, fail(KindTimeout, "", ctx.Err())
	}
	_ = c.SetDeadline(time.Time{})

	if n := br.Buffered(); n > 0 {
		head, _ := br.Peek(n)
		pending := bytes.Clone(head)
		return &conn.BufferedConn{Conn: c, R: io.MultiReader(bytes.NewReader(pending), c)}, nil
	}
	return c, nil
}
