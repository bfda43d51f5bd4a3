// Package metrics holds the Prometheus collectors shared by the services.
// All methods are safe on a nil receiver so callers may run without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cleanroute"

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SchedulingMetrics covers availability and appointment lifecycle.
type SchedulingMetrics struct {
	slotsComputed *prometheus.CounterVec
	transitions   *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		slotsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slot_queries_total",
			Help:      "Availability computations by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment lifecycle transitions",
		}, []string{"event", "to"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotsComputed, m.transitions)
	return m
}

func (m *SchedulingMetrics) ObserveSlots(outcome string) {
	if m == nil {
		return
	}
	m.slotsComputed.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(event, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, to).Inc()
}

// BillingMetrics covers invoice generation.
type BillingMetrics struct {
	invoices *prometheus.CounterVec
	failures prometheus.Counter
	runs     *prometheus.CounterVec
}

func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	m := &BillingMetrics{
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "invoices_total",
			Help:      "Invoices created by source",
		}, []string{"source"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "customer_failures_total",
			Help:      "Customers whose billing transaction failed",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "cycle_runs_total",
			Help:      "Daily billing cycle runs by trigger",
		}, []string{"trigger"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.invoices, m.failures, m.runs)
	return m
}

func (m *BillingMetrics) ObserveInvoice(source string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(source).Inc()
}

func (m *BillingMetrics) ObserveFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

func (m *BillingMetrics) ObserveRun(trigger string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(trigger).Inc()
}

// NotificationMetrics covers dispatcher outcomes.
type NotificationMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	m := &NotificationMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_total",
			Help:      "Notification dispatch attempts by type and outcome",
		}, []string{"type", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomes)
	return m
}

func (m *NotificationMetrics) ObserveDispatch(notificationType, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(notificationType, outcome).Inc()
}

// PaymentMetrics covers payment links and gateway webhooks.
type PaymentMetrics struct {
	links    *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "links_total",
			Help:      "Payment link requests by outcome",
		}, []string{"outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhooks_total",
			Help:      "Gateway webhook deliveries by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.links, m.webhooks)
	return m
}

func (m *PaymentMetrics) ObserveLink(outcome string) {
	if m == nil {
		return
	}
	m.links.WithLabelValues(outcome).Inc()
}

func (m *PaymentMetrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}
