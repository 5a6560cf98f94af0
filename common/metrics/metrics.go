package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the process collectors
type Metrics struct {
	Registry *prometheus.Registry

	webhooksTotal      *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
}

// New creates the metric collectors on a fresh registry
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: registry,
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "secbot",
			Name:        "webhooks_total",
			Help:        "Webhook deliveries by event kind and outcome.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"event", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "secbot",
			Name:        "task_duration_seconds",
			Help:        "Pipeline task duration by handler and outcome.",
			ConstLabels: prometheus.Labels{"service": serviceName},
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"handler", "outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "secbot",
			Name:        "notifications_sent_total",
			Help:        "Notifications delivered to external channels.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"channel"}),
	}

	registry.MustRegister(m.webhooksTotal, m.taskDuration, m.notificationsTotal)
	return m
}

// ObserveWebhook counts one webhook delivery
func (m *Metrics) ObserveWebhook(event, outcome string) {
	m.webhooksTotal.WithLabelValues(event, outcome).Inc()
}

// ObserveTask records one pipeline task execution
func (m *Metrics) ObserveTask(handler, outcome string, seconds float64) {
	m.taskDuration.WithLabelValues(handler, outcome).Observe(seconds)
}

// ObserveNotification counts one delivered notification
func (m *Metrics) ObserveNotification(channel string) {
	m.notificationsTotal.WithLabelValues(channel).Inc()
}
