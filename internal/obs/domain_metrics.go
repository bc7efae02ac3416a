package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentRequestTotal counts signed payment requests by kind and result.
	PaymentRequestTotal *prometheus.CounterVec
	// PaymentCallbackTotal counts verified gateway payloads by source and outcome.
	PaymentCallbackTotal *prometheus.CounterVec
	// PaymentCallbackReplays counts duplicate callbacks acknowledged without re-applying.
	PaymentCallbackReplays prometheus.Counter
	// ReservationSweepTotal counts sweeper runs by result.
	ReservationSweepTotal *prometheus.CounterVec
	// ReservationSweepDuration records sweep latency in milliseconds.
	ReservationSweepDuration prometheus.Histogram
	// ReservationsAutoCompleted counts reservations moved to completed by the sweeper.
	ReservationsAutoCompleted prometheus.Counter
	// GiftCardEmailTotal counts gift card deliveries by result.
	GiftCardEmailTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises the payment and reservation collectors once.
// Until it runs the package variables stay nil and callers skip instrumentation.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentRequestTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_request_total",
			Help:      "Count of CMI payment requests signed, by kind and result.",
		}, []string{"kind", "result"}))
		PaymentCallbackTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callback_total",
			Help:      "Count of CMI payloads verified, by source and outcome.",
		}, []string{"source", "outcome"}))
		PaymentCallbackReplays = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callback_replays_total",
			Help:      "Duplicate CMI callbacks acknowledged without being applied again.",
		}))
		ReservationSweepTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_sweep_total",
			Help:      "Count of reservation auto-complete sweeps by result.",
		}, []string{"result"}))
		ReservationSweepDuration = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_sweep_duration_ms",
			Help:      "Duration of reservation auto-complete sweeps in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000, 15000},
		}))
		ReservationsAutoCompleted = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_auto_completed_total",
			Help:      "Reservations transitioned from confirmed to completed by the sweeper.",
		}))
		GiftCardEmailTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gift_card_email_total",
			Help:      "Gift card emails by result.",
		}, []string{"result"}))
	})
}
