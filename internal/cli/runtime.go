package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/config"
	"github.com/qirat-network/qiratd/internal/httpx"
)

// defaultWorkerID derives a stable-enough worker id when none is
// configured. Lock reclaim handles a replaced id after a crash.
func defaultWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "qiratd"
	}
	return hostname + "-" + uuid.NewString()[:8]
}

// metricsMux exposes prometheus metrics and the health endpoints on the
// operational listener.
func metricsMux(health *httpx.Health) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.Register(mux)
	return mux
}

// serveHTTP runs an HTTP server until ctx is done, then drains it.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	logger.Info("http server listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// applyWorkerDefaults fills runtime-only defaults the config loader
// cannot know.
func applyWorkerDefaults(cfg *config.Config) {
	if cfg.Submitter.WorkerID == "" {
		cfg.Submitter.WorkerID = defaultWorkerID()
	}
}
