package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "framekv"

// Stats holds the server metrics. Each Stats owns its registry so several
// servers can run in one process.
type Stats struct {
	registry *prometheus.Registry

	commands    *prometheus.CounterVec
	hits        prometheus.Counter
	misses      prometheus.Counter
	errors      *prometheus.CounterVec
	connections prometheus.Gauge
	accepted    prometheus.Counter
	duration    *prometheus.HistogramVec
	snapshots   *prometheus.CounterVec
	keys        prometheus.Gauge
}

func New() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands applied to the store.",
		}, []string{"command"}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "get_hits_total",
			Help:      "GET commands that found a value.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "get_misses_total",
			Help:      "GET commands on absent keys.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Requests that ended in an error, by kind.",
		}, []string{"kind"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently being served.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted since start.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request decoded to response flushed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot writes, by result.",
		}, []string{"result"}),
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Keys currently in the store.",
		}),
	}
	s.registry.MustRegister(
		s.commands, s.hits, s.misses, s.errors, s.connections,
		s.accepted, s.duration, s.snapshots, s.keys,
		collectors.NewGoCollector(),
	)
	return s
}

func (s *Stats) RecordCommand(name string, d time.Duration) {
	s.commands.WithLabelValues(name).Inc()
	s.duration.WithLabelValues(name).Observe(d.Seconds())
}

func (s *Stats) RecordGet(hit bool) {
	if hit {
		s.hits.Inc()
	} else {
		s.misses.Inc()
	}
}

// RecordError counts a failed request. kind is one of protocol, command or io.
func (s *Stats) RecordError(kind string) {
	s.errors.WithLabelValues(kind).Inc()
}

func (s *Stats) ConnOpened() {
	s.accepted.Inc()
	s.connections.Inc()
}

func (s *Stats) ConnClosed() {
	s.connections.Dec()
}

func (s *Stats) RecordSnapshot(err error, keys int) {
	if err != nil {
		s.snapshots.WithLabelValues("error").Inc()
		return
	}
	s.snapshots.WithLabelValues("ok").Inc()
	s.keys.Set(float64(keys))
}

func (s *Stats) SetKeys(n int) {
	s.keys.Set(float64(n))
}

func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus text format.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
