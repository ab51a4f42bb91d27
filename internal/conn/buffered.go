package conn

import (
	"bufio"
	"io"
	"net"
)

// BufferedConn is a net.Conn whose reads are served from R, typically a
// bufio.Reader over the same connection that already holds unread bytes.
// Writes, deadlines and Close go to the underlying Conn.
type BufferedConn struct {
	net.Conn
	R io.Reader
}

func (c *BufferedConn) Read(p []byte) (int, error) {
	return c.R.Read(p)
}

// Buffered wraps c so that bytes already buffered in br are read before the
// socket. If br holds nothing, c is returned unchanged.
func Buffered(c net.Conn, br *bufio.Reader) net.Conn {
	if br == nil || br.Buffered() == 0 {
		return c
	}
	return &BufferedConn{Conn: c, R: br}
}
