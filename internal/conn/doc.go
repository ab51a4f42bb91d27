package conn

// Package conn holds the connection plumbing shared by the listeners and the
// tunnel dialer: keepalive (and optionally reuse-port) TCP listeners, and a
// net.Conn wrapper that replays bytes already buffered off the socket.
