package dialer

// Package dialer opens the relay's outbound connections.
//
// A Tunnel reaches an upstream HTTP proxy with a direct Dialer and asks it to
// CONNECT to the client's destination. Failures are reported as
// *TunnelError, classified by Kind so listeners can pick the reply they send
// back to the client.
