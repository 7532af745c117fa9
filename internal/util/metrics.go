package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BillsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bills_created_total",
		Help: "Total number of bills created",
	})

	RefundsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_created_total",
		Help: "Total number of refunds recorded",
	}, []string{"type"})

	RefundsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_rejected_total",
		Help: "Total number of rejected refund requests",
	}, []string{"reason"})

	RefundsReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_replayed_total",
		Help: "Total number of refund requests answered from an earlier idempotency key",
	})

	RefundAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_amount_total",
		Help: "Sum of all refunded amounts",
	})

	RefundLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "refund_latency_seconds",
		Help:    "Latency of refund processing",
		Buckets: prometheus.DefBuckets,
	})

	StockRestockedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_restocked_units_total",
		Help: "Total number of units returned to available stock by refunds",
	})

	StockMirrorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_mirror_events_total",
		Help: "Total number of events applied to the stock mirror",
	}, []string{"event_type", "result"})

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
