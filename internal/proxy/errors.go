package proxy

import (
	"errors"

	"github.com/kanekikun07/shiny-bassoon/internal/dialer"
)

var (
	// ErrAuthRequired means the client sent no usable credentials.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthFailed means the client's credentials were rejected.
	ErrAuthFailed = errors.New("invalid username or password")

	// ErrProtocol wraps malformed or unsupported client requests.
	ErrProtocol = errors.New("protocol error")

	// ErrNoUpstream means an authenticated user has no upstream bound.
	ErrNoUpstream = errors.New("no upstream proxy assigned")

	// ErrTransport wraps socket faults during relaying.
	ErrTransport = errors.New("transport error")
)

// errorKind names the class of a session error for logs and metrics.
func errorKind(err error) string {
	var te *dialer.TunnelError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAuthFailed):
		return "auth"
	case errors.As(err, &te):
		return "tunnel"
	case errors.Is(err, ErrNoUpstream):
		return "config"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "transport"
	}
}
