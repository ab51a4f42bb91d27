package socks5

// Package socks5 provides the SOCKS5 handshake pieces used by the relay's
// SOCKS listener: username/password-only method negotiation, CONNECT request
// parsing, and reply writers for each outcome (plus the SOCKS4 rejection).
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 so the
// listener in internal/proxy deals in outcomes rather than wire bytes. The
// client half exists for exercising the server end to end.
