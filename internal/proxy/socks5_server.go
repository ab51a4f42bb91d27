package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/kanekikun07/shiny-bassoon/internal/conn"
	"github.com/kanekikun07/shiny-bassoon/internal/dialer"
	"github.com/kanekikun07/shiny-bassoon/internal/metrics"
	"github.com/kanekikun07/shiny-bassoon/internal/socks5"
)

// SOCKS5Server serves SOCKS5 CONNECT with mandatory username/password
// authentication. SOCKS4 clients get a rejection reply.
type SOCKS5Server struct {
	srv *server
}

// NewSOCKS5Server constructs a SOCKS5 server with the given config. Sessions
// end when ctx is cancelled.
func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	s := &SOCKS5Server{}
	s.srv = newServer(ctx, cfg, metrics.ProtocolSOCKS, s.handle)
	return s
}

// Serve serves SOCKS clients on ln until ln is closed.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	return s.srv.serve(ln)
}

func (s *SOCKS5Server) handle(sess *session) error {
	cfg := &s.srv.cfg

	sess.handshakeDeadline()
	br := bufio.NewReader(sess.client)
	ver, err := socks5.PeekVersion(br)
	if err != nil {
		return err
	}
	switch ver {
	case socks5.VersionSOCKS5:
	case socks5.VersionSOCKS4:
		sess.authFailure("socks4")
		socks5.WriteSOCKS4RejectedReply(sess.client)
		return fmt.Errorf("%w: SOCKS4 carries no password", ErrAuthRequired)
	default:
		return fmt.Errorf("%w: unsupported SOCKS version %d", ErrProtocol, ver)
	}

	c := conn.Buffered(sess.client, br)

	user, err := socks5.ServerNegotiate(c, cfg.verify)
	switch {
	case errors.Is(err, socks5.ErrNoAcceptableMethods):
		sess.authFailure("no_acceptable_methods")
		return fmt.Errorf("%w: %w", ErrAuthRequired, err)
	case errors.Is(err, socks5.ErrAuthFailed):
		sess.authFailure("invalid_credentials")
		sess.log.Info("invalid credentials", "attempted_user", user)
		return ErrAuthFailed
	case err != nil:
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	sess.authenticated(user)

	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		socks5.WriteGeneralFailureReply(c, txsocks5.ATYPIPv4)
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteCommandNotSupportedReply(c, req.Atyp)
		return fmt.Errorf("%w: unsupported command %d", ErrProtocol, req.Cmd)
	}
	address := req.Address()
	sess.setTarget(address)

	up, err := cfg.upstreamFor(user)
	if err != nil {
		socks5.WriteGeneralFailureReply(c, req.Atyp)
		return err
	}

	sess.log.Info("connect", "upstream", up.String())

	upConn, err := cfg.Tunnel.Connect(sess.ctx, up, address)
	if err != nil {
		sess.tunnelFailure(err)
		writeTunnelFailureReply(c, req.Atyp, err)
		return err
	}
	sess.tunnelUp()

	if err := socks5.WriteSuccessReply(c, upConn.LocalAddr()); err != nil {
		_ = upConn.Close()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	sess.clearDeadline()

	return sess.relay(c, upConn)
}

// writeTunnelFailureReply answers a failed tunnel with connection refused
// when the upstream refused or rejected it, and host unreachable otherwise.
func writeTunnelFailureReply(c net.Conn, atyp byte, err error) {
	var te *dialer.TunnelError
	if errors.As(err, &te) && (te.Kind == dialer.KindRejected || te.Refused()) {
		socks5.WriteConnectionRefusedReply(c, atyp)
		return
	}
	socks5.WriteHostUnreachableReply(c, atyp)
}
