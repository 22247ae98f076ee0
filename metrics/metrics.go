// Package metrics defines the Prometheus instrumentation for both services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OrderMetrics counts orchestrator activity.
type OrderMetrics struct {
	OrdersCreated      prometheus.Counter
	OrdersCancelled    prometheus.Counter
	StatusChanges      *prometheus.CounterVec
	InvalidTransitions prometheus.Counter
}

// InventoryMetrics counts reservation engine activity.
type InventoryMetrics struct {
	ReservationsCreated   prometheus.Counter
	ReservationsFailed    prometheus.Counter
	ReservationsConfirmed prometheus.Counter
	ReservationsReleased  prometheus.Counter
	ReservationsExpired   prometheus.Counter
	SweepDuration         prometheus.Histogram
}

// BusMetrics counts event bus adapter activity.
type BusMetrics struct {
	Published    *prometheus.CounterVec
	Consumed     *prometheus.CounterVec
	Deduplicated prometheus.Counter
	DeadLettered prometheus.Counter
}

// NewOrderMetrics creates orchestrator metrics for a service.
func NewOrderMetrics(serviceName string) *OrderMetrics {
	return &OrderMetrics{
		OrdersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_orders_created_total",
			Help: "Total number of orders created",
		}),
		OrdersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		}),
		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_order_status_changes_total",
			Help: "Total number of order status transitions",
		}, []string{"to"}),
		InvalidTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_order_invalid_transitions_total",
			Help: "Total number of rejected order status transitions",
		}),
	}
}

// NewInventoryMetrics creates reservation engine metrics for a service.
func NewInventoryMetrics(serviceName string) *InventoryMetrics {
	return &InventoryMetrics{
		ReservationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_created_total",
			Help: "Total number of reservations created",
		}),
		ReservationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_failed_total",
			Help: "Total number of reservation attempts rejected for insufficient stock",
		}),
		ReservationsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_confirmed_total",
			Help: "Total number of reservations confirmed",
		}),
		ReservationsReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_released_total",
			Help: "Total number of reservations released",
		}),
		ReservationsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_expired_total",
			Help: "Total number of reservations reclaimed by the sweeper",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    serviceName + "_reservation_sweep_duration_seconds",
			Help:    "Duration of expired-reservation sweeps",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NewBusMetrics creates event bus metrics for a service.
func NewBusMetrics(serviceName string) *BusMetrics {
	return &BusMetrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_events_published_total",
			Help: "Total number of events published, by routing key",
		}, []string{"routing_key"}),
		Consumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_events_consumed_total",
			Help: "Total number of events consumed, by queue and outcome",
		}, []string{"queue", "outcome"}),
		Deduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_events_deduplicated_total",
			Help: "Total number of duplicate deliveries short-circuited",
		}),
		DeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_events_dead_lettered_total",
			Help: "Total number of messages routed to a DLQ after max retries",
		}),
	}
}

// Serve starts the /metrics HTTP server. It blocks until the server exits.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
