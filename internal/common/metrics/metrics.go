// Package metrics exposes import counters to prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gtfsload/internal/common/logger"
)

var (
	RecordsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gtfsload",
		Name:      "records_imported_total",
		Help:      "Records written to the store, by feed file.",
	}, []string{"file"})

	WriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gtfsload",
		Name:      "write_failures_total",
		Help:      "Records a bulk write failed to persist, by feed file.",
	}, []string{"file"})

	ReferencesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gtfsload",
		Name:      "references_resolved_total",
		Help:      "Resolved references by collection and outcome (linked or missing).",
	}, []string{"collection", "outcome"})

	AgencyImports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gtfsload",
		Name:      "agency_imports_total",
		Help:      "Agency imports by result.",
	}, []string{"result"})

	ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gtfsload",
		Name:      "agency_import_duration_seconds",
		Help:      "Wall time of one agency import.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics server failed", "error", err)
	}
}
