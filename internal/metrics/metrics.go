// Package metrics exposes Prometheus collectors for the connection layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loginserver"

// Collector groups the server metrics. A nil *Collector is valid and
// records nothing, so components can be built without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	connectionsDenied *prometheus.CounterVec
	disconnects       *prometheus.CounterVec
	messagesDecoded   prometheus.Counter
	objectsDecoded    prometheus.Counter
	rawPackets        prometheus.Counter
	packetsSent       prometheus.Counter
	bytesSent         prometheus.Counter
	outboundDropped   prometheus.Counter
	dumpDropped       prometheus.Counter
	playersByState    *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	c := newCollector(reg)
	c.registry = reg
	return c
}

func newCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of client connections currently open",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted client connections",
		}),
		connectionsDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_denied_total",
			Help:      "Connections refused by the listener",
		}, []string{"reason"}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Client disconnects by read loop failure kind",
		}, []string{"kind"}),
		messagesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_decoded_total",
			Help:      "Logical packets decoded from clients",
		}),
		objectsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_decoded_total",
			Help:      "Protocol objects decoded from clients",
		}),
		rawPackets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_packets_received_total",
			Help:      "Length-prefixed raw packets received from clients",
		}),
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Logical packets written to clients",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to client sockets including length prefixes",
		}),
		outboundDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Replies dropped because a client outbound queue was full",
		}),
		dumpDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dump_dropped_total",
			Help:      "Raw packets dropped by the diagnostic dump queue",
		}),
		playersByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players",
			Help:      "Players by state machine state",
		}, []string{"state"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Inc()
	c.connectionsTotal.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

// ConnectionDenied counts a connection refused before a reader started.
func (c *Collector) ConnectionDenied(reason string) {
	if c == nil {
		return
	}
	c.connectionsDenied.WithLabelValues(reason).Inc()
}

// Disconnect counts a read loop exit, labelled by protocol.ErrorKind.
func (c *Collector) Disconnect(kind string) {
	if c == nil {
		return
	}
	c.disconnects.WithLabelValues(kind).Inc()
}

func (c *Collector) MessageDecoded(objects int) {
	if c == nil {
		return
	}
	c.messagesDecoded.Inc()
	c.objectsDecoded.Add(float64(objects))
}

func (c *Collector) RawPacketsReceived(n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.rawPackets.Add(float64(n))
}

func (c *Collector) PacketSent(bytes int) {
	if c == nil {
		return
	}
	c.packetsSent.Inc()
	c.bytesSent.Add(float64(bytes))
}

func (c *Collector) OutboundDropped() {
	if c == nil {
		return
	}
	c.outboundDropped.Inc()
}

// SetDumpDropped mirrors the dump queue's own drop counter.
func (c *Collector) SetDumpDropped(total uint64) {
	if c == nil {
		return
	}
	// Counters cannot be set; add the delta since the last sample.
	current := valueOf(c.dumpDropped)
	if delta := float64(total) - current; delta > 0 {
		c.dumpDropped.Add(delta)
	}
}

// SetPlayers replaces the per-state player gauge.
func (c *Collector) SetPlayers(byState map[string]int) {
	if c == nil {
		return
	}
	c.playersByState.Reset()
	for state, n := range byState {
		c.playersByState.WithLabelValues(state).Set(float64(n))
	}
}
