package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiobook_bookings_total",
			Help: "Booking operations by action (book, reopen, cancel, confirm) and result",
		},
		[]string{"action", "result"},
	)

	CapacityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiobook_capacity_rejections_total",
			Help: "Bookings and ticket purchases rejected because the event was full",
		},
		[]string{"kind"},
	)

	TicketsSoldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studiobook_tickets_sold_total",
			Help: "Tickets sold for ticketed events",
		},
	)

	PaymentNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiobook_payment_notifications_total",
			Help: "Payment notifications processed by source, payment status and outcome",
		},
		[]string{"source", "status", "outcome"},
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studiobook_reconcile_duration_seconds",
			Help:    "Time spent reconciling one payment notification",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studiobook_emails_total",
			Help: "Emails handed to the mail transport by result",
		},
		[]string{"result"},
	)

	BookingsAutoCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studiobook_bookings_auto_cancelled_total",
			Help: "Unpaid bookings cancelled by the sweep",
		},
	)
)

// Label value for an error result
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
