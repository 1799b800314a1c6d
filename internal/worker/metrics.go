package worker

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunamismax/pixelpass/internal/domain"
	"github.com/dunamismax/pixelpass/internal/imgerr"
	"github.com/dunamismax/pixelpass/internal/pipeline"
)

type metrics struct {
	registry     *prometheus.Registry
	jobs         *prometheus.CounterVec
	jobSeconds   *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	failures     *prometheus.CounterVec
	sourceBytes  prometheus.Histogram
	stepOutputs  *prometheus.CounterVec
	stepSeconds  *prometheus.HistogramVec
	usagePixels  prometheus.Counter
	usageSaved   prometheus.Counter
	usageCompute prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpass_worker_jobs_total",
			Help: "Render jobs handled, by source type and outcome.",
		}, []string{"source_type", "status"}),
		jobSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpass_worker_job_duration_seconds",
			Help:    "Wall time per render job including fetch and emit.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source_type", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelpass_worker_active_jobs",
			Help: "Render jobs currently holding a concurrency slot.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpass_worker_failures_total",
			Help: "Failed render attempts by error code and whether they will be retried.",
		}, []string{"code", "retry"}),
		sourceBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelpass_worker_source_bytes",
			Help:    "Size of fetched sources for successful jobs.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
		}),
		stepOutputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpass_worker_outputs_total",
			Help: "Rendered outputs emitted by the worker, by format and whether the source passed through untouched.",
		}, []string{"format", "passthrough"}),
		stepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpass_worker_step_duration_seconds",
			Help:    "Render and emit time per step, by output format.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"format"}),
		usagePixels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpass_usage_pixels_processed_total",
			Help: "Output pixels across all successful jobs.",
		}),
		usageSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpass_usage_bytes_saved_total",
			Help: "Source bytes minus output bytes across all successful jobs.",
		}),
		usageCompute: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelpass_usage_compute_time_ms_total",
			Help: "Billed compute milliseconds across successful jobs.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobs,
		m.jobSeconds,
		m.inFlight,
		m.failures,
		m.sourceBytes,
		m.stepOutputs,
		m.stepSeconds,
		m.usagePixels,
		m.usageSaved,
		m.usageCompute,
	)
	return m
}

// failure counts one failed attempt. Errors without a render code are
// labelled "internal".
func (m *metrics) failure(err error, retry bool) {
	code := string(imgerr.CodeOf(err))
	if code == "" {
		code = "internal"
	}
	m.failures.WithLabelValues(code, strconv.FormatBool(retry)).Inc()
}

func (m *metrics) result(result pipeline.Result) {
	m.sourceBytes.Observe(float64(result.SourceBytes))
	for _, out := range result.Outputs {
		m.stepOutputs.WithLabelValues(out.Format, strconv.FormatBool(out.Passthrough)).Inc()
		m.stepSeconds.WithLabelValues(out.Format).Observe(out.Elapsed.Seconds())
	}
}

func (m *metrics) usage(u domain.UsageLog) {
	m.usagePixels.Add(float64(u.PixelsProcessed))
	m.usageSaved.Add(float64(u.BytesSaved))
	m.usageCompute.Add(float64(u.ComputeTimeMS))
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
