// Package metrics exposes orchestrator counters on a dedicated registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	DownloadsStarted   prometheus.Counter
	JobsCompleted      prometheus.Counter
	JobsFailed         prometheus.Counter
	JobsExhausted      prometheus.Counter
	NotificationsSent  prometheus.Counter
	NotificationsMuted prometheus.Counter
	WebhookMatches     *prometheus.CounterVec
	StaleJobsSwept     prometheus.Counter
	QueueSyncCancels   prometheus.Counter
	TxRetries          prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		DownloadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_downloads_started_total",
			Help: "Download jobs moved to processing.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_jobs_completed_total",
			Help: "Jobs that reached completed.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_jobs_failed_total",
			Help: "Jobs that reached failed.",
		}),
		JobsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_jobs_exhausted_total",
			Help: "Jobs handed off after exhausting their target.",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_notifications_sent_total",
			Help: "Notifications delivered to users.",
		}),
		NotificationsMuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_notifications_suppressed_total",
			Help: "Notifications the policy suppressed.",
		}),
		WebhookMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundspan_webhook_matches_total",
			Help: "Webhook matches by strategy.",
		}, []string{"strategy"}),
		StaleJobsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_stale_jobs_swept_total",
			Help: "Jobs failed by the stale-job sweep.",
		}),
		QueueSyncCancels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_queue_sync_cancels_total",
			Help: "Jobs failed after the queue-sync grace period.",
		}),
		TxRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundspan_tx_retries_total",
			Help: "Serialization conflicts retried by the store.",
		}),
	}

	reg.MustRegister(
		m.DownloadsStarted, m.JobsCompleted, m.JobsFailed, m.JobsExhausted,
		m.NotificationsSent, m.NotificationsMuted, m.WebhookMatches,
		m.StaleJobsSwept, m.QueueSyncCancels, m.TxRetries,
	)
	return m
}
