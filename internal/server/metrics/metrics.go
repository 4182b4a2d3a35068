// Package metrics serves Prometheus metrics for the pipeline on its own
// registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/pricealert/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DepthFunc reports the current depth of the named queue.
type DepthFunc func(ctx context.Context, queueName string) (int64, error)

// NewRegistry returns a registry with the Go runtime and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// RegisterQueueDepth exports the queue depth as a gauge sampled on every
// scrape. A failed sample reports -1.
func RegisterQueueDepth(reg prometheus.Registerer, queueName string, depth DepthFunc, logger logging.Logger) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "pricealert",
		Subsystem:   "queue",
		Name:        "depth",
		Help:        "Approximate number of pending price events.",
		ConstLabels: prometheus.Labels{"queue": queueName},
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := depth(ctx, queueName)
		if err != nil {
			logger.Warn(ctx, "queue depth sample failed", "queue", queueName, "error", err)
			return -1
		}
		return float64(n)
	})
	return reg.Register(g)
}

type Server struct {
	address string
	logger  logging.Logger
	handler http.Handler
}

func NewServer(address string, gatherer prometheus.Gatherer, logger logging.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		address: address,
		logger:  logger.With("module", "metrics_server"),
		handler: mux,
	}
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting metrics server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
