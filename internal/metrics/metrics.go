package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paygate"

// Metrics prometheus коллекторы сервиса.
// Методы безопасны для nil получателя, чтобы тесты и утилиты могли работать без метрик.
type Metrics struct {
	registry *prometheus.Registry

	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	payments         *prometheus.CounterVec
	webhooks         *prometheus.CounterVec
	jobs             *prometheus.CounterVec
	outbox           *prometheus.CounterVec
}

// New создаёт отдельный registry и регистрирует в нём все коллекторы
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider HTTP calls by operation and result code.",
		}, []string{"operation", "code"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider HTTP call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Settled payment attempts by result.",
		}, []string{"result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Processed provider webhooks by result.",
		}, []string{"result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_jobs_total",
			Help:      "Payment job executions by result.",
		}, []string{"result"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events by publish result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.providerRequests, m.providerDuration, m.payments, m.webhooks, m.jobs, m.outbox)
	return m
}

// Handler отдаёт метрики в формате prometheus (GET /metrics)
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ProviderCall учитывает один HTTP вызов провайдера
func (m *Metrics) ProviderCall(operation, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(operation, code).Inc()
	m.providerDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// PaymentSettled учитывает терминальный результат попытки (success, failed)
func (m *Metrics) PaymentSettled(result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(result).Inc()
}

// WebhookHandled учитывает результат обработки webhook
func (m *Metrics) WebhookHandled(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

// JobHandled учитывает результат выполнения платёжной задачи
func (m *Metrics) JobHandled(result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(result).Inc()
}

// OutboxPublished учитывает результат публикации события outbox
func (m *Metrics) OutboxPublished(result string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(result).Inc()
}
