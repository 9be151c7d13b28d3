// Package metrics exposes ingest, connectivity and command counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldsync/internal/models"
)

// Prom implements the subscription and command recorders.
type Prom struct {
	reg *prometheus.Registry

	accepted     *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	subFailures  *prometheus.CounterVec
	connectivity *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	commands     *prometheus.CounterVec
	writeLatency *prometheus.HistogramVec
}

// NewProm registers every collector on reg; a nil reg gets a fresh registry.
func NewProm(reg *prometheus.Registry) *Prom {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	p := &Prom{
		reg: reg,
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_readings_accepted_total",
			Help: "Readings accepted and broadcast to listeners.",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_readings_dropped_total",
			Help: "Snapshots dropped as malformed or not newer than the last accepted reading.",
		}, []string{"topic", "reason"}),
		subFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_subscribe_failures_total",
			Help: "Failed remote subscribe attempts.",
		}, []string{"topic"}),
		connectivity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fieldsync_topic_online",
			Help: "1 when the topic is Online, 0 otherwise.",
		}, []string{"topic"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_connectivity_transitions_total",
			Help: "Connectivity state changes by target state.",
		}, []string{"topic", "to"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_commands_total",
			Help: "Actuator commands by outcome.",
		}, []string{"actuator", "outcome"}),
		writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldsync_actuator_write_seconds",
			Help:    "Round trip of remote actuator writes.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"actuator"}),
	}
	reg.MustRegister(p.accepted, p.dropped, p.subFailures, p.connectivity, p.transitions, p.commands, p.writeLatency)
	return p
}

func (p *Prom) ReadingAccepted(topic models.Topic) {
	p.accepted.WithLabelValues(string(topic)).Inc()
}

func (p *Prom) ReadingDropped(topic models.Topic, reason string) {
	p.dropped.WithLabelValues(string(topic), reason).Inc()
}

func (p *Prom) SubscribeFailed(topic models.Topic) {
	p.subFailures.WithLabelValues(string(topic)).Inc()
}

// ObserveTransition tracks the current connectivity of a topic.
func (p *Prom) ObserveTransition(tr models.Transition) {
	online := 0.0
	if tr.To == models.Online {
		online = 1
	}
	p.connectivity.WithLabelValues(string(tr.Topic)).Set(online)
	p.transitions.WithLabelValues(string(tr.Topic), tr.To.String()).Inc()
}

func (p *Prom) CommandOutcome(actuatorID, outcome string) {
	p.commands.WithLabelValues(actuatorID, outcome).Inc()
}

func (p *Prom) WriteLatency(actuatorID string, d time.Duration) {
	p.writeLatency.WithLabelValues(actuatorID).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}
