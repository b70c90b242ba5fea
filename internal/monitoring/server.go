package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/conneroisu/spindle/internal/logging"
)

// Mux routes /metrics and /healthz.
func (m *Metrics) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", m.HealthHandler())
	return mux
}

// Serve listens on addr until ctx is done. The listener is bound before
// Serve returns, so a bad address is reported to the caller.
func (m *Metrics) Serve(ctx context.Context, addr string, logger logging.Logger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("monitoring")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           m.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), err, "Metrics listener stopped")
		}
	}()

	logger.Info(ctx, "Serving metrics", "addr", ln.Addr().String())
	return nil
}
