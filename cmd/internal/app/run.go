package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatshell/cmd/internal/telemetry"
)

const (
	serviceName     = "chatshell"
	shutdownTimeout = 5 * time.Second
)

// Version is stamped at build time.
var Version = "dev"

// Run builds the App for cfg, runs fn until it returns or the process is
// interrupted, then tears everything down. The transcript goes to out and
// logs go to stderr.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(ctx context.Context, cfg Config, out io.Writer, fn func(ctx context.Context, a *App) error) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Version:     Version,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("telemetry.shutdown.fail", "err", err)
		}
	}()

	a, err := New(cfg, log, out)
	if err != nil {
		return err
	}
	defer a.Close()

	metricsErr := make(chan error, 1)
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go func() { metricsErr <- a.ServeMetrics(metricsCtx) }()

	runErr := fn(ctx, a)

	stopMetrics()
	if err := <-metricsErr; err != nil {
		log.Warn("metrics.serve.fail", "err", err)
	}

	if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		log.Info("app.interrupted")
		return nil
	}
	return runErr
}
