package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"strings"

	"github.com/kanekikun07/shiny-bassoon/internal/conn"
	"github.com/kanekikun07/shiny-bassoon/internal/dialer"
	"github.com/kanekikun07/shiny-bassoon/internal/metrics"
)

const proxyAuthenticate = `Basic realm="Proxy Relay"`

// HTTPProxyServer serves an authenticated HTTP forward proxy.
//
// Every connection carries one proxy request:
// - CONNECT is answered with 200 and turned into a raw tunnel
// - other methods with an absolute-form target are re-issued verbatim over a
// tunnel to the target, and the rest of the connection is relayed as is
// - GET / is answered with the credential sheet, without authentication
//
// All tunnels go through the upstream proxy bound to the client's user.
type HTTPProxyServer struct {
	srv *server
}

// NewHTTPProxyServer constructs an HTTP proxy server with the given config.
// Sessions end when ctx is cancelled.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	h := &HTTPProxyServer{}
	h.srv = newServer(ctx, cfg, metrics.ProtocolHTTP, h.handle)
	return h
}

// Serve serves HTTP proxy requests on ln until ln is closed.
func (h *HTTPProxyServer) Serve(ln net.Listener) error {
	return h.srv.serve(ln)
}

func (h *HTTPProxyServer) handle(sess *session) error {
	cfg := &h.srv.cfg
	c := sess.client

	sess.handshakeDeadline()
	br := bufio.NewReader(c)
	head, err := readRequestHead(br)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			_ = writeResponse(c, http.StatusBadRequest, nil, "Bad request")
		}
		return err
	}
	req := head.req

	kind, address, err := classifyRequest(req)
	if err != nil {
		_ = writeResponse(c, http.StatusBadRequest, nil, "Bad request")
		return err
	}
	if kind == requestStatusPage {
		return h.serveStatusPage(sess)
	}
	sess.setTarget(req.RequestURI)

	user, pass, err := parseProxyAuthorization(req.Header.Get("Proxy-Authorization"))
	if err != nil {
		sess.authFailure("auth_required")
		hdr := http.Header{"Proxy-Authenticate": {proxyAuthenticate}}
		_ = writeResponse(c, http.StatusProxyAuthRequired, hdr, "Proxy authentication required")
		return fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if !cfg.verify(user, pass) {
		sess.authFailure("invalid_credentials")
		sess.log.Info("invalid credentials", "attempted_user", user)
		_ = writeResponse(c, http.StatusForbidden, nil, "Invalid username or password")
		return ErrAuthFailed
	}
	sess.authenticated(user)

	up, err := cfg.upstreamFor(user)
	if err != nil {
		_ = writeResponse(c, http.StatusInternalServerError, nil, "No upstream proxy assigned")
		return err
	}

	sess.log.Info("proxy request", "method", req.Method, "kind", kind.String(), "upstream", up.String())

	upConn, err := cfg.Tunnel.Connect(sess.ctx, up, address)
	if err != nil {
		sess.tunnelFailure(err)
		code := statusForTunnelError(err)
		_ = writeResponse(c, code, nil, http.StatusText(code))
		return err
	}
	sess.tunnelUp()

	if kind == requestConnect {
		if _, err := io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
			_ = upConn.Close()
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	} else {
		n, err := upConn.Write(head.raw)
		sess.sent += int64(n)
		if err != nil {
			_ = upConn.Close()
			_ = writeResponse(c, http.StatusBadGateway, nil, http.StatusText(http.StatusBadGateway))
			return fmt.Errorf("%w: re-issue request: %w", ErrTransport, err)
		}
	}
	sess.clearDeadline()

	return sess.relay(conn.Buffered(c, br), upConn)
}

func (h *HTTPProxyServer) serveStatusPage(sess *session) error {
	cfg := &h.srv.cfg
	cfg.Metrics.StatusPageServed()

	if cfg.Sheet == nil {
		return writeResponse(sess.client, http.StatusNotFound, nil, "credential sheet not found")
	}
	body, err := cfg.Sheet.ReadSheet()
	if err != nil {
		sess.log.Debug("status page unavailable", "error", err)
		return writeResponse(sess.client, http.StatusNotFound, nil, "credential sheet not found")
	}
	return writeResponse(sess.client, http.StatusOK, nil, string(body))
}

// statusForTunnelError maps a tunnel failure to the status sent to the
// client.
func statusForTunnelError(err error) int {
	var te *dialer.TunnelError
	if !errors.As(err, &te) {
		return http.StatusBadGateway
	}
	switch te.Kind {
	case dialer.KindTimeout:
		return http.StatusGatewayTimeout
	case dialer.KindRejected:
		if te.StatusCode == http.StatusForbidden || te.StatusCode == http.StatusProxyAuthRequired {
			return http.StatusForbidden
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// writeResponse writes a complete plain-text response and asks the client to
// close the connection.
func writeResponse(w io.Writer, code int, header http.Header, body string) error {
	h := http.Header{}
	maps.Copy(h, header)
	h.Set("Content-Type", "text/plain; charset=utf-8")

	resp := &http.Response{
		StatusCode:    code,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
	}
	if err := resp.Write(w); err != nil {
		return fmt.Errorf("write %d response: %w", code, err)
	}
	return nil
}
