// Package metrics is the Prometheus-backed implementation of pws.Metrics,
// exposed for scraping via Handler() on the address cmd/pwsd/cmd/pwsc
// listen on.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements pws.Metrics against its own prometheus.Registry, so
// more than one Engine (or a test process) can construct a Collector
// without a global-registry double-registration panic.
type Collector struct {
	registry *prometheus.Registry

	chunksSent     *prometheus.CounterVec
	chunksReceived *prometheus.CounterVec
	journalDepth   prometheus.Gauge
	reconnects     prometheus.Counter
	acksSent       prometheus.Counter
	resendsSent    prometheus.Counter
	jetBytes       prometheus.Counter
	unrecoverable  prometheus.Counter
}

// New constructs and registers a Collector.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		chunksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pws_chunks_sent_total",
			Help: "Total chunks sent, by kind (message/jet/jetcmd/resend/ack/resend-signal/ping/pong/signal).",
		}, []string{"kind"}),
		chunksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pws_chunks_received_total",
			Help: "Total chunks accepted as in-order, by kind (message/jet).",
		}, []string{"kind"}),
		journalDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pws_journal_depth",
			Help: "Current count of sent-but-unacknowledged outbound chunks.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pws_reconnects_total",
			Help: "Total successful (re)connections of the underlying WebSocket.",
		}),
		acksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pws_acks_sent_total",
			Help: "Total ACK signals sent.",
		}),
		resendsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pws_resends_sent_total",
			Help: "Total RESEND signals sent.",
		}),
		jetBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pws_jet_bytes_relayed_total",
			Help: "Total bytes relayed through the jet (TCP tunnel) channel.",
		}),
		unrecoverable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pws_unrecoverable_errors_total",
			Help: "Total times an engine's message stream ended on an unrecoverable protocol error.",
		}),
	}
	reg.MustRegister(
		c.chunksSent, c.chunksReceived, c.journalDepth, c.reconnects,
		c.acksSent, c.resendsSent, c.jetBytes, c.unrecoverable,
	)
	return c
}

// Handler serves the registered metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ChunkSent(kind string)     { c.chunksSent.WithLabelValues(kind).Inc() }
func (c *Collector) ChunkReceived(kind string) { c.chunksReceived.WithLabelValues(kind).Inc() }
func (c *Collector) JournalDepth(n int)        { c.journalDepth.Set(float64(n)) }
func (c *Collector) Reconnect()                { c.reconnects.Inc() }
func (c *Collector) AckSent()                  { c.acksSent.Inc() }
func (c *Collector) ResendSent()               { c.resendsSent.Inc() }
func (c *Collector) JetBytesRelayed(n int)     { c.jetBytes.Add(float64(n)) }
func (c *Collector) UnrecoverableError()       { c.unrecoverable.Inc() }
