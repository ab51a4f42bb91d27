package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

var relayBuffers = NewBufferPool(32 << 10)

// RelayResult reports what a finished relay moved.
type RelayResult struct {
	// Sent counts client to upstream bytes, Received upstream to client.
	Sent     int64
	Received int64

	// Err is the first transport fault, wrapped in ErrTransport. A clean
	// close by either side is not an error.
	Err error
}

// Relay copies bytes between client and upstream in both directions until
// either side finishes, then closes both. Cancelling ctx closes both too.
func Relay(ctx context.Context, client, upstream net.Conn) RelayResult {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var res RelayResult
	var g errgroup.Group

	g.Go(func() error {
		defer closeBoth()
		return copyCounted(upstream, client, &res.Sent)
	})

	g.Go(func() error {
		defer closeBoth()
		return copyCounted(client, upstream, &res.Received)
	})

	if err := g.Wait(); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return res
}

func copyCounted(dst io.Writer, src io.Reader, n *int64) error {
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)

	_, err := io.CopyBuffer(&countingWriter{w: dst, n: n}, src, buf)
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// countingWriter adds the bytes written through it to *n. It must not
// implement io.ReaderFrom: every byte has to pass through Write.
type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}
