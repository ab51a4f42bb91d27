package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kanekikun07/shiny-bassoon/internal/config"
	"github.com/kanekikun07/shiny-bassoon/internal/conn"
	"github.com/kanekikun07/shiny-bassoon/internal/credentials"
	"github.com/kanekikun07/shiny-bassoon/internal/dialer"
	"github.com/kanekikun07/shiny-bassoon/internal/logger"
	"github.com/kanekikun07/shiny-bassoon/internal/metrics"
	"github.com/kanekikun07/shiny-bassoon/internal/observability"
	"github.com/kanekikun07/shiny-bassoon/internal/proxy"
	"github.com/kanekikun07/shiny-bassoon/internal/upstream"
	"github.com/kanekikun07/shiny-bassoon/internal/usage"
)

// run starts both proxy listeners and blocks until ctx is cancelled, a
// termination signal arrives or a listener fails.
func run(ctx context.Context, o *config.Options, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ka, err := o.KeepAlive()
	if err != nil {
		return err
	}

	logs, err := openLogs(o, stderr)
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.log.WithComponent("relay")

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:  o.TracingEnabled,
		Exporter: o.TracingExporter,
		Endpoint: o.TracingEndpoint,
		Insecure: o.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	ups, rejected, err := upstreamsFrom(o.UpstreamsFile)
	for _, r := range rejected {
		log.Warn("skipping upstream entry", "line", r.Line, "entry", r.Entry, "reason", r.Reason)
	}
	if err != nil {
		return err
	}
	log.Info("loaded upstream proxies", "count", len(ups), "path", o.UpstreamsFile)

	newSessionID, err := proxy.SessionIDFunc(o.SessionIDMode)
	if err != nil {
		return err
	}

	m := metrics.New()
	table := credentials.Generate(ups)
	ledger := usage.NewLedger()
	sheet := credentials.FileSheet{Path: o.SheetFile}
	// A sheet from an earlier run must not be served before this run's is written.
	if err := sheet.Remove(); err != nil {
		return err
	}

	sinks := usage.Sinks{m}
	if logs.traffic != nil {
		sinks = append(sinks, logs.traffic)
	}

	tunnel := dialer.NewTunnel(dialer.Config{
		DialTimeout:        o.DialTimeout,
		NegotiationTimeout: o.NegotiationTimeout,
		KeepAlive:          ka,
	}, nil)

	cfg := proxy.Config{
		NegotiationTimeout: o.NegotiationTimeout,
		Tunnel:             tunnel,
		Credentials:        table,
		Upstreams:          ups,
		Ledger:             ledger,
		Sheet:              sheet,
		Traffic:            sinks,
		Metrics:            m,
		Logger:             logs.log.WithComponent("proxy"),
		NewSessionID:       newSessionID,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	// abort stops whatever already runs before returning a startup error.
	abort := func(err error) error {
		stop()
		_ = g.Wait()
		return err
	}
	lnOpts := conn.ListenOptions{KeepAlive: ka, ReusePort: o.ReusePort}

	if o.DebugListen != "" {
		debugLn, err := conn.ListenTCP(ctx, "tcp", o.DebugListen, lnOpts)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		debugSrv := &http.Server{Handler: newDebugMux(m, ledger), ReadHeaderTimeout: 10 * time.Second}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening", "addr", debugLn.Addr().String())
	}

	httpLn, err := conn.ListenTCP(ctx, "tcp", o.HTTPListen, lnOpts)
	if err != nil {
		return abort(fmt.Errorf("http listen: %w", err))
	}
	context.AfterFunc(ctx, func() { _ = httpLn.Close() })
	httpSrv := proxy.NewHTTPProxyServer(ctx, cfg)
	g.Go(func() error {
		if err := httpSrv.Serve(httpLn); err != nil {
			return fmt.Errorf("http proxy serve: %w", err)
		}
		return nil
	})
	log.Info("http proxy listening", "addr", httpLn.Addr().String())

	socksLn, err := conn.ListenTCP(ctx, "tcp", o.SOCKSListen, lnOpts)
	if err != nil {
		return abort(fmt.Errorf("socks5 listen: %w", err))
	}
	context.AfterFunc(ctx, func() { _ = socksLn.Close() })
	socksSrv := proxy.NewSOCKS5Server(ctx, cfg)
	g.Go(func() error {
		if err := socksSrv.Serve(socksLn); err != nil {
			return fmt.Errorf("socks5 serve: %w", err)
		}
		return nil
	})
	log.Info("socks5 proxy listening", "addr", socksLn.Addr().String())

	if err := sheet.Write(credentials.Sheet(table, ups)); err != nil {
		log.Error("writing credential sheet failed", "path", sheet.Path, "error", err)
	} else {
		log.Info("credential sheet written", "path", sheet.Path, "users", table.Len())
	}

	if o.UsageReportInterval > 0 {
		g.Go(func() error {
			reportUsage(ctx, log, ledger, o.UsageReportInterval)
			return nil
		})
	}

	err = g.Wait()
	log.Info("shutting down")
	logUsage(log, ledger)
	return err
}

func upstreamsFrom(path string) ([]upstream.Proxy, []upstream.Rejected, error) {
	ups, rejected, err := upstream.Load(path)
	if err != nil {
		return nil, rejected, fmt.Errorf("load upstreams: %w", err)
	}
	return ups, rejected, nil
}

// logOutputs owns the process log destinations.
type logOutputs struct {
	log     *logger.Logger
	traffic *logger.TrafficLog
	closers []io.Closer
}

func openLogs(o *config.Options, stderr io.Writer) (*logOutputs, error) {
	out := &logOutputs{}
	rotated := func(path string) io.WriteCloser {
		f := logger.NewRotatingFile(logger.FileConfig{
			Path:       path,
			MaxSizeMB:  o.LogMaxSizeMB,
			MaxBackups: o.LogMaxBackups,
			MaxAgeDays: o.LogMaxAgeDays,
			Compress:   o.LogCompress,
		})
		out.closers = append(out.closers, f)
		return f
	}

	w := stderr
	if o.LogFile != "" {
		w = io.MultiWriter(stderr, rotated(o.LogFile))
	}

	lg, err := logger.New(logger.Config{
		Format:  logger.Format(strings.ToLower(o.LogFormat)),
		Level:   strings.ToLower(o.LogLevel),
		Writer:  w,
		Version: version,
	})
	if err != nil {
		out.Close()
		return nil, err
	}
	out.log = lg

	if o.TrafficLog != "" {
		out.traffic = logger.NewTrafficLog(rotated(o.TrafficLog))
	}
	return out, nil
}

func (l *logOutputs) Close() {
	for _, c := range l.closers {
		_ = c.Close()
	}
}

func reportUsage(ctx context.Context, log *slog.Logger, ledger *usage.Ledger, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logUsage(log, ledger)
		}
	}
}

// logUsage logs one line per user with recorded usage.
func logUsage(log *slog.Logger, ledger *usage.Ledger) {
	snap := ledger.Snapshot()
	for _, user := range slices.Sorted(maps.Keys(snap)) {
		rec := snap[user]
		log.Info("usage",
			"user", user,
			"bytes_sent", rec.BytesSent,
			"bytes_received", rec.BytesReceived,
			"requests", rec.Requests,
		)
	}
}
