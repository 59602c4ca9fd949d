package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boardscraper/pkg/logger"
)

const namespace = "boardscraper"

// Collector holds the crawl metrics on its own registry
type Collector struct {
	Registry *prometheus.Registry

	PagesFetched      prometheus.Counter
	PagesSkipped      prometheus.Counter
	PageRetries       prometheus.Counter
	TransportRetries  *prometheus.CounterVec
	RecordsWritten    prometheus.Counter
	RecordsSkipped    prometheus.Counter
	Flushes           prometheus.Counter
	BatchSize         prometheus.Histogram
	CheckpointPage    prometheus.Gauge
	TotalPages        prometheus.Gauge
	FetchDuration     prometheus.Histogram
	JobsFinished      *prometheus.CounterVec
	ExportUploads     *prometheus.CounterVec
	PolitenessSeconds prometheus.Counter
}

// New registers every collector on a fresh registry labelled with job
func New(job string) *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"job_name": job}, reg))

	return &Collector{
		Registry: reg,
		PagesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages fetched and committed",
		}),
		PagesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_skipped_total",
			Help:      "Pages given up on under the skip policy",
		}),
		PageRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_retries_total",
			Help:      "Page-level retry attempts",
		}),
		TransportRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_retries_total",
			Help:      "HTTP round trips retried by the transport",
		}, []string{"code"}),
		RecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records durably appended to the output",
		}),
		RecordsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records dropped for schema errors",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Sink flushes",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_batch_size",
			Help:      "Records per sink flush",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		CheckpointPage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_page",
			Help:      "Next page recorded in the checkpoint",
		}),
		TotalPages: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_pages",
			Help:      "Pages in the result set",
		}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of successful page fetches including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Job runs by final state",
		}, []string{"state"}),
		ExportUploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_uploads_total",
			Help:      "Uploads of finished output files",
		}, []string{"status"}),
		PolitenessSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "politeness_wait_seconds_total",
			Help:      "Time spent in politeness delays",
		}),
	}
}

// ObserveFlush records one sink flush of n records
func (c *Collector) ObserveFlush(n int) {
	c.Flushes.Inc()
	c.BatchSize.Observe(float64(n))
	c.RecordsWritten.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (c *Collector) Serve(ctx context.Context, addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		log.InfoWithFields("Metrics server listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server stopped")
		}
	}()
}
