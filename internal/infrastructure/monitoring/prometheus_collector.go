package monitoring

import (
	"time"

	"groupchat/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records gateway activity. Pass a fresh registry in
// tests and prometheus.DefaultRegisterer in the server.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	connectionLife    prometheus.Histogram
	roomsActive       prometheus.Gauge

	joinsTotal       *prometheus.CounterVec
	submissionsTotal *prometheus.CounterVec
	fanOutSize       prometheus.Histogram
	persistDuration  prometheus.Histogram

	slowConsumers prometheus.Counter
}

var _ ports.GatewayMetrics = (*PrometheusCollector)(nil)

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "groupchat_connections_active",
			Help: "Number of live gateway connections",
		}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "groupchat_connections_total",
			Help: "Connection attempts by result",
		}, []string{"result"}),

		connectionLife: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupchat_connection_duration_seconds",
			Help:    "Lifetime of closed connections",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "groupchat_rooms_active",
			Help: "Number of rooms with at least one joined connection",
		}),

		joinsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "groupchat_joins_total",
			Help: "Join requests by result",
		}, []string{"result"}),

		submissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "groupchat_submissions_total",
			Help: "Message submissions by result",
		}, []string{"result"}),

		fanOutSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupchat_fanout_recipients",
			Help:    "Connections a relayed message was delivered to",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),

		persistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupchat_persist_duration_seconds",
			Help:    "Time spent persisting a message before fan-out",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3},
		}),

		slowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Name: "groupchat_slow_consumer_disconnects_total",
			Help: "Connections closed because their send buffer was full",
		}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.WithLabelValues("accepted").Inc()
}

func (p *PrometheusCollector) ConnectionClosed(lifetime time.Duration) {
	p.connectionsActive.Dec()
	p.connectionLife.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) ConnectionRefused(reason string) {
	p.connectionsTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) JoinAttempt(result string) {
	p.joinsTotal.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) RoomsActive(count int) {
	p.roomsActive.Set(float64(count))
}

func (p *PrometheusCollector) MessageRelayed(recipients int, persist time.Duration) {
	p.submissionsTotal.WithLabelValues("relayed").Inc()
	p.fanOutSize.Observe(float64(recipients))
	p.persistDuration.Observe(persist.Seconds())
}

func (p *PrometheusCollector) MessageRejected(reason string) {
	p.submissionsTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SlowConsumerDisconnected() {
	p.slowConsumers.Inc()
}

// ConnectionsTotal exposes the per-result connection counter.
func (p *PrometheusCollector) ConnectionsTotal(result string) prometheus.Counter {
	return p.connectionsTotal.WithLabelValues(result)
}

func (p *PrometheusCollector) SubmissionsTotal(result string) prometheus.Counter {
	return p.submissionsTotal.WithLabelValues(result)
}

func (p *PrometheusCollector) SlowConsumers() prometheus.Counter {
	return p.slowConsumers
}
