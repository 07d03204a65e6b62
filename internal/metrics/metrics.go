// Package metrics содержит коллекторы Prometheus сервиса paytapper.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics хранит коллекторы Prometheus, используемые сервисом.
// Каждый экземпляр несёт собственный реестр: повторное создание
// с другим пространством имён не делит коллекторы с предыдущим.
type Metrics struct {
	registry *prometheus.Registry

	WebhookEvents    *prometheus.CounterVec
	PaymentsRecorded prometheus.Counter
	RoutingDecisions *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

// New создаёт и регистрирует коллекторы с указанным пространством имён.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		PaymentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Total settled payments written to the ledger.",
		}),
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total checkout routing decisions by mode.",
		}, []string{"mode"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}

	m.registry.MustRegister(
		m.WebhookEvents,
		m.PaymentsRecorded,
		m.RoutingDecisions,
		m.Errors,
	)

	return m
}

// Handler возвращает HTTP-обработчик выдачи метрик этого реестра.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
