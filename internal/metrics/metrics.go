package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinica"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_submissions_total",
			Help:      "Appointment submissions by outcome.",
		},
		[]string{"outcome"},
	)

	moderations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_moderations_total",
			Help:      "Moderation actions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	activeFeeds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_feeds",
			Help:      "Open appointment feed subscriptions by view.",
		},
		[]string{"view"},
	)

	syncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sheets_sync_tasks_total",
			Help:      "Sheets mirror tasks by final status.",
		},
		[]string{"status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, submissions, moderations, activeFeeds, syncTasks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

func IncSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

func IncModeration(action, outcome string) {
	moderations.WithLabelValues(action, outcome).Inc()
}

// AddActiveFeeds adjusts the open feed gauge for a view ("client" or "admin").
func AddActiveFeeds(view string, delta float64) {
	activeFeeds.WithLabelValues(view).Add(delta)
}

func IncSyncTask(status string) {
	syncTasks.WithLabelValues(status).Inc()
}
