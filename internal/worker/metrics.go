package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry                  *prometheus.Registry
	jobsTotal                 *prometheus.CounterVec
	jobDuration               *prometheus.HistogramVec
	activeJobs                prometheus.Gauge
	imagesAnalyzedTotal       prometheus.Counter
	analysisPlaceholdersTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_worker_jobs_total",
			Help: "Total worker jobs by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_worker_active_jobs",
			Help: "Current number of documents being processed.",
		}),
		imagesAnalyzedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_worker_images_analyzed_total",
			Help: "Total embedded images successfully analyzed by the vision model.",
		}),
		analysisPlaceholdersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_worker_analysis_placeholders_total",
			Help: "Total image analyses that fell back to a placeholder section.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.imagesAnalyzedTotal,
		m.analysisPlaceholdersTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
