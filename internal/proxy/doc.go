package proxy

// Package proxy implements the relay's client-facing listeners.
//
// It contains the authenticated HTTP forward proxy (CONNECT, verbatim
// re-issue of other requests, and the credential status page), the SOCKS5
// server, and the session plumbing they share: the accept loop, per-session
// logging, tracing and usage accounting, and the counting bidirectional
// relay.
