package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders committed",
	}, []string{"payment_method"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order placements",
	}, []string{"reason"})

	CommitRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_commit_retries_total",
		Help: "Total number of checkout commits retried after a write conflict",
	})

	CommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_commit_latency_seconds",
		Help:    "Latency of the checkout commit including retries",
		Buckets: prometheus.DefBuckets,
	})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Total number of gateway payment verifications",
	}, []string{"result"})

	PaymentVerificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_verification_latency_seconds",
		Help:    "Latency of gateway payment verification",
		Buckets: prometheus.DefBuckets,
	})

	OrderNumberCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_number_collisions_total",
		Help: "Total number of generated order numbers that were already taken",
	})

	CouponRedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Total number of coupon uses recorded by committed orders",
	})

	ReservationReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_reconciliations_total",
		Help: "Total number of reservations reconciled at checkout",
	}, []string{"direction"})

	OutboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Total number of outbox events delivered to the broker",
	})

	OutboxPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_publish_failed_total",
		Help: "Total number of failed outbox deliveries",
	})

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
