package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"
)

// server is the accept loop and session bookkeeping shared by the HTTP and
// SOCKS listeners.
type server struct {
	ctx      context.Context
	cfg      Config
	protocol string
	log      *slog.Logger
	handle   func(*session) error
}

func newServer(ctx context.Context, cfg Config, protocol string, handle func(*session) error) *server {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()
	return &server{
		ctx:      ctx,
		cfg:      cfg,
		protocol: protocol,
		log:      cfg.Logger.With(slog.String("protocol", protocol)),
		handle:   handle,
	}
}

// serve accepts connections on ln until it is closed, running one session
// per connection. It waits for running sessions before returning. Closing ln
// after the server context is done is a clean shutdown and returns nil.
func (s *server) serve(ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				if s.ctx.Err() != nil {
					return nil
				}
				return err
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			// Out of file descriptors and similar; retry like net/http.
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.log.Warn("accept failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		wg.Go(func() { s.run(c) })
	}
}

func (s *server) run(c net.Conn) {
	sess := newSession(s, c)
	defer sess.finish()
	defer func() {
		if r := recover(); r != nil {
			sess.err = errors.New("session panic")
			sess.log.Error("session panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	stop := context.AfterFunc(s.ctx, func() { _ = c.Close() })
	defer stop()

	sess.err = s.handle(sess)
}
