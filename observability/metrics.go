package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "chathub"

// Metrics groups the collectors of the process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	messagesCommitted prometheus.Counter
	eventsPublished   *prometheus.CounterVec
	deliveries        prometheus.Counter
	deliveryFailures  *prometheus.CounterVec
	relayDropped      prometheus.Counter
	workerRestarts    *prometheus.CounterVec
	connections       prometheus.Gauge
	subscriptions     prometheus.Gauge
	typingSessions    prometheus.Gauge
	onlineUsers       prometheus.Gauge
	processRSS        prometheus.Gauge
	processCPU        prometheus.Gauge
	httpRequests      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		messagesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_committed_total",
			Help: "Messages appended to the ledger.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Events handed to the fan-out bus.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Events enqueued to a connection.",
		}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivery_failures_total",
			Help: "Events that could not be enqueued to a connection.",
		}, []string{"reason"}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_dropped_total",
			Help: "Committed events dropped because the relay buffer was full.",
		}),
		workerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_restarts_total",
			Help: "Supervised worker restarts.",
		}, []string{"worker"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Attached live connections.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subscriptions",
			Help: "Connection to conversation subscriptions.",
		}),
		typingSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "typing_sessions",
			Help: "Active typing sessions.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online_users",
			Help: "Users active within the online window.",
		}),
		processRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_rss_bytes",
			Help: "Resident memory sampled by the process monitor.",
		}),
		processCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_cpu_percent",
			Help: "CPU usage sampled by the process monitor.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.messagesCommitted, m.eventsPublished, m.deliveries, m.deliveryFailures,
		m.relayDropped, m.workerRestarts, m.connections, m.subscriptions,
		m.typingSessions, m.onlineUsers, m.processRSS, m.processCPU, m.httpRequests,
	)
	return m
}

func (m *Metrics) MessageCommitted() {
	if m != nil {
		m.messagesCommitted.Inc()
	}
}

func (m *Metrics) EventPublished(kind string) {
	if m != nil {
		m.eventsPublished.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Delivered() {
	if m != nil {
		m.deliveries.Inc()
	}
}

func (m *Metrics) DeliveryFailed(reason string) {
	if m != nil {
		m.deliveryFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RelayDropped() {
	if m != nil {
		m.relayDropped.Inc()
	}
}

func (m *Metrics) WorkerRestarted(worker string) {
	if m != nil {
		m.workerRestarts.WithLabelValues(worker).Inc()
	}
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) SetSubscriptions(n int) {
	if m != nil {
		m.subscriptions.Set(float64(n))
	}
}

func (m *Metrics) SetTypingSessions(n int) {
	if m != nil {
		m.typingSessions.Set(float64(n))
	}
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m != nil {
		m.onlineUsers.Set(float64(n))
	}
}

func (m *Metrics) SetProcess(rss uint64, cpu float64) {
	if m != nil {
		m.processRSS.Set(float64(rss))
		m.processCPU.Set(cpu)
	}
}

func (m *Metrics) HTTPRequest(route string, status int) {
	if m != nil {
		m.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
