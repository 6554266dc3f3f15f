package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	// jobsProcessed counts finished jobs by outcome ("delivered" or "failed").
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_jobs_processed_total",
			Help: "Total number of jobs processed by delivery workers.",
		},
		[]string{"outcome"},
	)

	// jobDuration observes end-to-end processing time. LLM calls dominate,
	// hence the long tail buckets.
	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_job_duration_seconds",
			Help:    "Duration of job processing in seconds.",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// stageFailures counts failures by the stage that was being entered.
	stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_job_stage_failures_total",
			Help: "Total number of job failures by pipeline stage.",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(jobsProcessed, jobDuration, stageFailures)
}
