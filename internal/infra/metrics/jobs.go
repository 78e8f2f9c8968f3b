package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsCreatedTotal, jobTransitionsTotal, jobsSweptTotal, jobsEvictedTotal) }

var jobsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobs_created_total",
		Help: "Total number of jobs admitted, labeled by kind.",
	},
	[]string{"kind"},
)

var jobTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "job_transitions_total",
		Help: "Total number of job state transitions, labeled by reached state.",
	},
	[]string{"state"},
)

var jobsSweptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "jobs_idle_swept_total",
		Help: "Jobs failed by the idle sweeper for exceeding the idle window.",
	},
)

var jobsEvictedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "jobs_evicted_total",
		Help: "Terminal jobs evicted by the retention sweeper.",
	},
)

func IncJobCreated(kind string) {
	jobsCreatedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncJobTransition(state string) {
	jobTransitionsTotal.WithLabelValues(norm(state)).Inc()
}

func IncJobsIdleSwept() { jobsSweptTotal.Inc() }

func AddJobsEvicted(n int) { jobsEvictedTotal.Add(float64(n)) }
