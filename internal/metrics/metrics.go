// Package metrics exposes the controller's Prometheus instrumentation
// and the HTTP endpoint it is scraped from.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace prefixes every metric the controller exports.
const Namespace = "gridmii"

// GridMetrics holds the controller's instruments together with the
// registry they live in. Each instance gets its own registry, so tests
// can create as many as they like without duplicate-registration
// panics.
type GridMetrics struct {
	registry *prometheus.Registry

	JobsSubmitted    prometheus.Counter
	JobsActive       prometheus.Gauge
	JobsAbandoned    prometheus.Counter
	NodesOnline      prometheus.Gauge
	BrokerReconnects prometheus.Counter
	CommandsTotal    *prometheus.CounterVec
}

// NewGridMetrics creates a registry with the standard Go and process
// collectors plus the grid's own instruments.
func NewGridMetrics() *GridMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &GridMetrics{
		registry: registry,
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "job",
			Name:      "submitted_total",
			Help:      "Total number of jobs submitted to the grid.",
		}),
		JobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "job",
			Name:      "active",
			Help:      "Number of jobs currently tracked in the job table.",
		}),
		JobsAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "job",
			Name:      "abandoned_total",
			Help:      "Total number of jobs abandoned via roll-call reconciliation or admin command.",
		}),
		NodesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "node",
			Name:      "online",
			Help:      "Number of nodes currently present in the node table.",
		}),
		BrokerReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "reconnects_total",
			Help:      "Total number of successful broker connections, the first one included.",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "command",
			Name:      "invocations_total",
			Help:      "Total command-surface invocations by command name.",
		}, []string{"command"}),
	}
}

// Handler returns the scrape handler for this instance's registry.
func (m *GridMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics and /healthz on the given port until ctx is
// cancelled. It blocks; run it in a goroutine.
func Serve(ctx context.Context, m *GridMetrics, port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("serving metrics", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", zap.Error(err))
	}
}
