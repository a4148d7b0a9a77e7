package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the order and payment lifecycle
var (
	OrdersPlacedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Total number of orders committed",
		},
	)

	OrderPlacementFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_placement_failures_total",
			Help: "Total number of order placements rolled back",
		},
	)

	PaymentDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_dispatch_total",
			Help: "Payment dispatches by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Reconciliation outcomes by provider",
		},
		[]string{"provider", "outcome"},
	)

	SweptOrdersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_cancelled_orders_total",
			Help: "Total number of stale unpaid orders cancelled by the sweeper",
		},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of create-redirect calls to payment gateways",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Register registers all Prometheus metrics
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		OrdersPlacedTotal,
		OrderPlacementFailuresTotal,
		PaymentDispatchTotal,
		ReconciliationsTotal,
		SweptOrdersTotal,
		GatewayRequestDuration,
	)
}
