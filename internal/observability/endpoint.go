package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/audiostream-go/internal/logging"
)

// Endpoint serves the Prometheus metrics over HTTP.
type Endpoint struct {
	server  *http.Server
	Metrics *StreamMetrics
	logger  *slog.Logger
}

// NewEndpoint creates an endpoint with a fresh registry and stream metrics.
func NewEndpoint(listenAddress string) (*Endpoint, error) {
	registry := prometheus.NewRegistry()
	metrics, err := NewStreamMetrics(registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Endpoint{
		server: &http.Server{
			Addr:              listenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Metrics: metrics,
		logger:  logging.ForService("observability"),
	}, nil
}

// Start runs the HTTP server until Shutdown is called.
func (e *Endpoint) Start() {
	go func() {
		e.logger.Info("metrics endpoint listening", "address", e.server.Addr)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics endpoint failed", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server gracefully.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
