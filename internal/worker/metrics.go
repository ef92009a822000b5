package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec
	activeJobs         prometheus.Gauge
	promptTokensTotal  prometheus.Counter
	outputTokensTotal  prometheus.Counter
	costUSDTotal       prometheus.Counter
	computeTimeMSTotal prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stylegen_worker_jobs_total",
			Help: "Total generation attempts by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stylegen_worker_job_duration_seconds",
			Help:    "Duration of each generation attempt.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 180},
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stylegen_worker_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stylegen_worker_active_jobs",
			Help: "Current number of jobs being generated.",
		}),
		promptTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stylegen_usage_prompt_tokens_total",
			Help: "Total prompt tokens billed across successful jobs.",
		}),
		outputTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stylegen_usage_output_tokens_total",
			Help: "Total output tokens billed across successful jobs.",
		}),
		costUSDTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stylegen_usage_estimated_cost_usd_total",
			Help: "Estimated generation spend in USD across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stylegen_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	reg.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.stageDuration,
		m.activeJobs,
		m.promptTokensTotal,
		m.outputTokensTotal,
		m.costUSDTotal,
		m.computeTimeMSTotal,
	)
	return m
}
