package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 2 * time.Second
)

// serveMetrics exposes h at /metrics on addr until ctx is done.
// A nil ready channel is allowed; otherwise it receives the bound address.
func serveMetrics(ctx context.Context, log *slog.Logger, addr string, h http.Handler, ready chan<- string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", WithRequestLogging(h, log))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics.listen", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		log.Info("metrics.shutdown")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
