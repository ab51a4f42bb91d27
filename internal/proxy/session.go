package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kanekikun07/shiny-bassoon/internal/dialer"
	"github.com/kanekikun07/shiny-bassoon/internal/metrics"
	"github.com/kanekikun07/shiny-bassoon/internal/observability"
	"github.com/kanekikun07/shiny-bassoon/internal/usage"
)

// session is one accepted client connection. It is owned by the goroutine
// serving that connection.
type session struct {
	srv    *server
	id     string
	ctx    context.Context
	span   trace.Span
	log    *slog.Logger
	client net.Conn
	start  time.Time
	done   func()

	user   string
	target string

	// relayed is set once the tunnel to the target is up. Usage is
	// recorded from then on, including bytes moved before a later fault.
	relayed  bool
	sent     int64
	received int64
	err      error
}

func newSession(s *server, c net.Conn) *session {
	id := s.cfg.NewSessionID()
	ctx, span := observability.Tracer().Start(s.ctx, s.protocol+".session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("client.address", c.RemoteAddr().String()),
		),
	)
	return &session{
		srv:    s,
		id:     id,
		ctx:    ctx,
		span:   span,
		log:    s.log.With(slog.String("session", id), slog.String("remote", c.RemoteAddr().String())),
		client: c,
		start:  time.Now(),
		done:   s.cfg.Metrics.SessionStarted(s.protocol),
	}
}

// authenticated records the user the session acts for.
func (s *session) authenticated(user string) {
	s.user = user
	s.log = s.log.With(slog.String("user", user))
	s.span.SetAttributes(attribute.String("user", user))
}

func (s *session) setTarget(target string) {
	s.target = target
	s.log = s.log.With(slog.String("target", target))
	s.span.SetAttributes(attribute.String("target", target))
}

// handshakeDeadline bounds the client handshake by the negotiation timeout.
func (s *session) handshakeDeadline() {
	if t := s.srv.cfg.NegotiationTimeout; t > 0 {
		_ = s.client.SetDeadline(time.Now().Add(t))
	}
}

func (s *session) clearDeadline() {
	_ = s.client.SetDeadline(time.Time{})
}

func (s *session) authFailure(reason string) {
	s.srv.cfg.Metrics.AuthFailure(s.srv.protocol, reason)
}

func (s *session) tunnelFailure(err error) {
	var te *dialer.TunnelError
	if errors.As(err, &te) {
		s.srv.cfg.Metrics.TunnelFailure(s.srv.protocol, te.Kind.String())
	}
}

func (s *session) tunnelUp() {
	s.relayed = true
}

// relay pumps bytes between client and up until either side closes.
func (s *session) relay(client, up net.Conn) error {
	s.log.Debug("relaying")
	res := Relay(s.ctx, client, up)
	s.sent += res.Sent
	s.received += res.Received
	return res.Err
}

// finish closes the client, records usage for relayed sessions and logs the
// outcome.
func (s *session) finish() {
	defer s.done()
	defer s.span.End()
	_ = s.client.Close()

	if s.relayed {
		s.srv.cfg.Ledger.Add(s.user, s.sent, s.received)
		if s.srv.cfg.Traffic != nil {
			s.srv.cfg.Traffic.RecordTraffic(s.ctx, usage.Event{
				Type:          s.eventType(),
				User:          s.user,
				Target:        s.target,
				BytesSent:     s.sent,
				BytesReceived: s.received,
				Timestamp:     time.Now(),
			})
		}
	}

	s.span.SetAttributes(
		attribute.Int64("bytes.sent", s.sent),
		attribute.Int64("bytes.received", s.received),
	)

	attrs := []any{
		"sent", s.sent,
		"received", s.received,
		"duration", time.Since(s.start),
	}
	if s.err == nil || errors.Is(s.err, io.EOF) {
		if s.relayed {
			s.log.InfoContext(s.ctx, "session closed", attrs...)
		} else {
			s.log.DebugContext(s.ctx, "session ended without relay", attrs...)
		}
		return
	}

	kind := errorKind(s.err)
	s.span.RecordError(s.err)
	s.span.SetStatus(codes.Error, kind)
	attrs = append(attrs, "error", s.err, "kind", kind)

	switch kind {
	case "auth", "protocol":
		s.log.InfoContext(s.ctx, "session rejected", attrs...)
	case "config":
		s.log.ErrorContext(s.ctx, "session failed", attrs...)
	default:
		s.log.WarnContext(s.ctx, "session failed", attrs...)
	}
}

func (s *session) eventType() string {
	if s.srv.protocol == metrics.ProtocolHTTP {
		return usage.TypeHTTP
	}
	return usage.TypeSOCKS
}
