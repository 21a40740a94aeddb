// Package metrics holds the Prometheus instrumentation for caption runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gaurav-prasanna/pagecaption/core"
)

// Metrics holds all Prometheus metrics for a run. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	References      *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	CaptionDuration prometheus.Histogram
}

// New registers the metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		References: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pagecaption_references_total",
			Help: "Image references processed, by terminal outcome and reason.",
		}, []string{"outcome", "reason"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagecaption_fetch_duration_seconds",
			Help:    "Duration of image fetch and decode.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		CaptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagecaption_caption_duration_seconds",
			Help:    "Duration of captioning model calls.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

func (m *Metrics) ObserveOutcome(status core.Status, reason core.Reason) {
	if m == nil {
		return
	}
	m.References.WithLabelValues(status.String(), string(reason)).Inc()
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCaption(d time.Duration) {
	if m == nil {
		return
	}
	m.CaptionDuration.Observe(d.Seconds())
}

// Handler exposes /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the metrics server on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics, logger *zap.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
