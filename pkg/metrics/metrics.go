package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	CampaignsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "api_campaigns_created_total", Help: "Campaigns created"},
	)
	QueueItemsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "api_queue_items_created_total", Help: "Queue items inserted at campaign creation"},
	)
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_events_published_total", Help: "Campaign lifecycle events published"},
		[]string{"type"},
	)

	WorkerBatchesClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_batches_claimed_total", Help: "Non-empty batches claimed"},
	)
	WorkerItemsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_items_claimed_total", Help: "Queue items claimed"},
	)
	WorkerItemsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_items_sent_total", Help: "Queue items sent successfully"},
	)
	WorkerItemsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_items_failed_total", Help: "Queue items failed"},
	)
	WorkerItemsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_items_released_total", Help: "Claimed items released back to pending on stop"},
	)
	WorkerLeasesLost = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_leases_lost_total", Help: "Claimed items skipped because the lease was reclaimed"},
	)
	WorkerStoreRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_store_retries_total", Help: "Store operation retries"},
		[]string{"op"},
	)
	WorkerGatewayNotReady = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_gateway_not_ready_total", Help: "Polls skipped because the gateway was not ready"},
	)
	WorkerSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_send_duration_seconds",
			Help:    "Time spent in a single gateway send",
			Buckets: prometheus.DefBuckets,
		},
	)
	WorkerBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_batch_duration_seconds",
			Help:    "Time from claim to reconcile for one batch",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	ItemsReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_items_reclaimed_total", Help: "Processing items returned to pending after lease expiry"},
	)
	CampaignsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "campaigns_completed_total", Help: "Campaigns that reached completed"},
	)
	CampaignsHeld = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "campaigns_recovery_held_total", Help: "Running campaigns held for operator consent at startup"},
	)
	ReconcileInvariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "reconcile_invariant_violations_total", Help: "Reconciles that observed sent+failed > total"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration, CampaignsCreated, QueueItemsCreated, EventsPublished,
		WorkerBatchesClaimed, WorkerItemsClaimed, WorkerItemsSent, WorkerItemsFailed, WorkerItemsReleased, WorkerLeasesLost,
		WorkerStoreRetries, WorkerGatewayNotReady, WorkerSendDuration, WorkerBatchDuration,
		ItemsReclaimed, CampaignsCompleted, CampaignsHeld, ReconcileInvariantViolations,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
