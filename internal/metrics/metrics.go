package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the server.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPLatency         *prometheus.HistogramVec
	BotRequests         *prometheus.CounterVec
	BotLatency          *prometheus.HistogramVec
	LoginAttempts       *prometheus.CounterVec
	MessagesIngested    *prometheus.CounterVec
	OutboxDeliveries    *prometheus.CounterVec
	RealtimeSubscribers prometheus.Gauge
	Errors              *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton. The namespace of the
// first call wins.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status code.",
			}, []string{"method", "route", "status"}),
			HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			BotRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_requests_total",
				Help:      "Calls to the WhatsApp bot API by endpoint and outcome.",
			}, []string{"endpoint", "status"}),
			BotLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bot_request_duration_seconds",
				Help:      "Latency of WhatsApp bot API calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint"}),
			LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Password login attempts by result.",
			}, []string{"result"}),
			MessagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_ingested_total",
				Help:      "Messages reported by the bot webhook, by sender type.",
			}, []string{"sender_type"}),
			OutboxDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_deliveries_total",
				Help:      "Agent message deliveries to the bot by final status.",
			}, []string{"status"}),
			RealtimeSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_subscribers",
				Help:      "Open realtime websocket subscriptions.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.HTTPRequests,
			metricsInstance.HTTPLatency,
			metricsInstance.BotRequests,
			metricsInstance.BotLatency,
			metricsInstance.LoginAttempts,
			metricsInstance.MessagesIngested,
			metricsInstance.OutboxDeliveries,
			metricsInstance.RealtimeSubscribers,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
