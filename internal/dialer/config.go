package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect to the upstream proxy.
	DialTimeout time.Duration

	// NegotiationTimeout bounds the CONNECT exchange with the upstream.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
