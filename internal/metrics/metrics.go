package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alumnet"

// Push outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeDropped   = "dropped"
	OutcomeRejected  = "rejected"
)

// Collector tracks messaging activity. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	messagesPersisted    *prometheus.CounterVec
	conversationsCreated prometheus.Counter
	pushEvents           *prometheus.CounterVec
	onlineUsers          prometheus.Gauge
	connections          prometheus.Gauge
	requestDuration      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		gatherer: gatherer,
		messagesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Messages stored, by kind.",
		}, []string{"kind"}),
		conversationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Conversations created on first contact.",
		}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Push channel events by event name and outcome.",
		}, []string{"event", "outcome"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users currently in the presence registry.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open push channel connections.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "REST request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		c.messagesPersisted,
		c.conversationsCreated,
		c.pushEvents,
		c.onlineUsers,
		c.connections,
		c.requestDuration,
	)
	return c
}

func (c *Collector) MessagePersisted(kind string) {
	if c == nil {
		return
	}
	c.messagesPersisted.WithLabelValues(kind).Inc()
}

func (c *Collector) ConversationCreated() {
	if c == nil {
		return
	}
	c.conversationsCreated.Inc()
}

func (c *Collector) PushEvent(event, outcome string) {
	if c == nil {
		return
	}
	c.pushEvents.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) SetOnlineUsers(n int) {
	if c == nil {
		return
	}
	c.onlineUsers.Set(float64(n))
}

func (c *Collector) SetConnections(n int) {
	if c == nil {
		return
	}
	c.connections.Set(float64(n))
}

func (c *Collector) ObserveRequest(route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.requestDuration.WithLabelValues(route, http.StatusText(status)).Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
