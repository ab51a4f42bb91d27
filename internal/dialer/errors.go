package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Kind classifies why a tunnel could not be established.
type Kind int

const (
	// KindDial means the TCP connection to the upstream proxy failed.
	KindDial Kind = iota
	// KindTimeout means connecting or the CONNECT exchange timed out.
	KindTimeout
	// KindRejected means the upstream answered with a non-2xx status.
	KindRejected
	// KindNoResponse means the upstream closed the connection or sent
	// something that is not an HTTP response.
	KindNoResponse
)

func (k Kind) String() string {
	switch k {
	case KindDial:
		return "dial"
	case KindTimeout:
		return "timeout"
	case KindRejected:
		return "rejected"
	case KindNoResponse:
		return "no_response"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TunnelError reports a failed tunnel through an upstream proxy.
type TunnelError struct {
	Kind     Kind
	Upstream string
	Target   string

	// Status is the upstream's status line for KindRejected, and
	// "no response" for KindNoResponse.
	Status string

	// StatusCode is the upstream's HTTP status for KindRejected.
	StatusCode int

	Err error
}

func (e *TunnelError) Error() string {
	msg := fmt.Sprintf("tunnel to %s via %s: %s", e.Target, e.Upstream, e.Kind)
	if e.Status != "" {
		msg += ": " + e.Status
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}

// Refused reports whether the upstream actively refused the TCP connection.
func (e *TunnelError) Refused() bool {
	return e.Kind == KindDial && errors.Is(e.Err, syscall.ECONNREFUSED)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
