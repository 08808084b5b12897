package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Total number of stale unpaid orders expired by the reconciler",
	})

	OrdersPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders marked paid",
	}, []string{"method"})

	GatewayCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_callbacks_total",
		Help: "Total number of gateway callbacks by outcome",
	}, []string{"outcome"})

	VouchersRedeemedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vouchers_redeemed_total",
		Help: "Total number of voucher redemptions",
	})

	VouchersExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vouchers_exhausted_total",
		Help: "Total number of redemption attempts against an exhausted voucher",
	})

	PayoutsPostedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payouts_posted_total",
		Help: "Total number of seller payouts posted to the ledger",
	})

	PayoutsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payouts_skipped_total",
		Help: "Total number of payout attempts skipped as already posted",
	})

	RefundsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_completed_total",
		Help: "Total number of refunds completed with a ledger posting",
	})

	NotifyPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_publish_failed_total",
		Help: "Total number of notification publish failures",
	})

	CarrierCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carrier_call_latency_seconds",
		Help:    "Latency of outbound carrier API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
