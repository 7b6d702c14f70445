// Package metrics provides Prometheus metrics for the chat client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatshell"

// Chat holds the client's collectors. It implements chat.Metrics and realtime.Metrics.
type Chat struct {
	reg *prometheus.Registry

	pageFetches  *prometheus.CounterVec
	pageDuration prometheus.Histogram
	liveMerges   *prometheus.CounterVec
	echoes       *prometheus.CounterVec
	envelopesIn  *prometheus.CounterVec
	envelopesOut *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Chat {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Chat{
		reg: reg,
		pageFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_page_loads_total",
				Help:      "History page load attempts by result",
			},
			[]string{"result"},
		),
		pageDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "history_page_fetch_duration_seconds",
				Help:      "Duration of history page fetches that reached the server",
				Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		liveMerges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_messages_merged_total",
				Help:      "Live messages merged into conversation caches by outcome",
			},
			[]string{"outcome"},
		),
		echoes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "optimistic_echoes_total",
				Help:      "Optimistic local echoes by resolution",
			},
			[]string{"outcome"},
		),
		envelopesIn: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_envelopes_received_total",
				Help:      "Realtime envelopes received by type",
			},
			[]string{"type"},
		),
		envelopesOut: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_envelopes_sent_total",
				Help:      "Realtime envelopes sent by type",
			},
			[]string{"type"},
		),
	}
}

// Registry exposes the underlying registry.
func (c *Chat) Registry() *prometheus.Registry { return c.reg }

// PageFetched records a load attempt. Skipped loads carry a zero duration and
// are not observed in the histogram.
func (c *Chat) PageFetched(result string, d time.Duration) {
	c.pageFetches.WithLabelValues(result).Inc()
	if d > 0 {
		c.pageDuration.Observe(d.Seconds())
	}
}

func (c *Chat) LiveMerged(outcome string)   { c.liveMerges.WithLabelValues(outcome).Inc() }
func (c *Chat) EchoResolved(outcome string) { c.echoes.WithLabelValues(outcome).Inc() }
func (c *Chat) EnvelopeIn(typ string)       { c.envelopesIn.WithLabelValues(typ).Inc() }
func (c *Chat) EnvelopeOut(typ string)      { c.envelopesOut.WithLabelValues(typ).Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (c *Chat) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
