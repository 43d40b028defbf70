package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Transfers reaching a terminal success state",
		},
		[]string{"kind"},
	)
	TransfersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_failed_total",
			Help: "Transfers reaching FAILED",
		},
		[]string{"kind"},
	)
	MiningAccrued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mining_accruals_total",
			Help: "Successful mining accruals",
		},
	)
	MiningQuotaRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mining_quota_rejections_total",
			Help: "Accruals rejected by the daily cap",
		},
	)
	ReferralRewards = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_rewards_total",
			Help: "Referral reward payouts issued",
		},
	)
	ConfirmationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confirmation_retries_total",
			Help: "Re-polls of submitted withdrawals",
		},
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(TransfersFailed)
	prometheus.MustRegister(MiningAccrued)
	prometheus.MustRegister(MiningQuotaRejected)
	prometheus.MustRegister(ReferralRewards)
	prometheus.MustRegister(ConfirmationRetries)
	prometheus.MustRegister(WorkerQueueDepth)
}
