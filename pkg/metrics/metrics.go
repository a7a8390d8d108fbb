package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels how a submission ended
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRejected  Outcome = "rejected"
)

// Collector holds the client's stream metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	packets        *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	streamDuration prometheus.Histogram
	activeStreams  prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Name:      "packets_total",
				Help:      "Packets received, by family.",
			},
			[]string{"family"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatstream",
				Name:      "submissions_total",
				Help:      "Submissions, by outcome.",
			},
			[]string{"outcome"},
		),
		streamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "chatstream",
				Name:      "stream_duration_seconds",
				Help:      "Time from submission to the end of the response stream.",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chatstream",
				Name:      "active_streams",
				Help:      "Response streams currently being drained.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(c.packets, c.submissions, c.streamDuration, c.activeStreams)
	}
	return c
}

// ObservePacket counts one packet of family
func (c *Collector) ObservePacket(family string) {
	if c == nil {
		return
	}
	c.packets.WithLabelValues(family).Inc()
}

// Submission counts one submission ending with outcome
func (c *Collector) Submission(outcome Outcome) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(string(outcome)).Inc()
}

// StreamStarted marks a stream active and returns the func that ends it
func (c *Collector) StreamStarted() func() {
	if c == nil {
		return func() {}
	}
	start := time.Now()
	c.activeStreams.Inc()
	return func() {
		c.activeStreams.Dec()
		c.streamDuration.Observe(time.Since(start).Seconds())
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
