package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	idsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanofield_ids_generated_total",
			Help: "Total number of NanoIDs generated",
		},
		[]string{"kind"},
	)

	idCollisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanofield_id_collisions_total",
			Help: "Total number of generated NanoIDs that were already taken",
		},
		[]string{"kind"},
	)

	idsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanofield_ids_exhausted_total",
			Help: "Total number of searches that ran out of attempts",
		},
		[]string{"kind"},
	)

	regenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanofield_regenerations_total",
			Help: "Total number of regenerated NanoID values",
		},
		[]string{"collection", "field"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanofield_uploads_total",
			Help: "Total number of stored uploads",
		},
		[]string{"bucket", "status"},
	)

	uploadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nanofield_upload_size_bytes",
			Help:    "Size of stored uploads in bytes",
			Buckets: []float64{1000, 10000, 100000, 1000000, 10000000, 100000000},
		},
		[]string{"bucket"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nanofield_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nanofield_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nanofield_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordGenerated(kind string) {
	idsGenerated.WithLabelValues(kind).Inc()
}

func RecordCollision(kind string) {
	idCollisions.WithLabelValues(kind).Inc()
}

func RecordExhausted(kind string) {
	idsExhausted.WithLabelValues(kind).Inc()
}

func RecordRegeneration(collection, field string) {
	regenerations.WithLabelValues(collection, field).Inc()
}

func RecordUpload(bucket, status string, size int64) {
	uploadsTotal.WithLabelValues(bucket, status).Inc()
	if status == "ok" {
		uploadSize.WithLabelValues(bucket).Observe(float64(size))
	}
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

// Serve exposes the registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
