package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chirpid/chirpid/internal/conf"
	chirperrors "github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
	metricspkg "github.com/chirpid/chirpid/internal/observability/metrics"
)

// Endpoint serves the Prometheus /metrics page.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewEndpoint creates a metrics endpoint. It returns an error when metrics
// are disabled in settings.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Metrics.Enabled {
		return nil, chirperrors.Newf("metrics not enabled in settings").
			Component("observability").
			Category(chirperrors.CategoryConfiguration).
			Build()
	}

	return &Endpoint{
		listenAddress: settings.Metrics.Listen,
		metrics:       metrics,
	}, nil
}

// Start binds the listen address and serves in the background until ctx is
// cancelled or Shutdown is called.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		return nil
	}

	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return chirperrors.New(err).
			Component("observability").
			Category(chirperrors.CategoryNetwork).
			Context("listen", e.listenAddress).
			Build()
	}

	e.listener = ln
	e.done = make(chan struct{})
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server, done := e.server, e.done
	go func() {
		defer close(done)
		log.Info("Metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics HTTP server error", logger.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			e.Shutdown()
		case <-done:
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (e *Endpoint) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.listenAddress
}

// Shutdown stops the server gracefully and waits for it to exit. Safe to
// call more than once.
func (e *Endpoint) Shutdown() {
	e.mu.Lock()
	server, done := e.server, e.done
	e.mu.Unlock()

	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Metrics server shutdown error", logger.Error(err))
	}
	<-done
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
