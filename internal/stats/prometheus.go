package stats

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ticketchat"

// PromStats mirrors the chat counters as Prometheus metrics.
// ActiveSessions is a gauge; everything else only counts up.
type PromStats struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func NewPromStats(reg prometheus.Registerer) (*PromStats, error) {
	ps := &PromStats{
		counters: map[string]prometheus.Counter{
			FramesReceived: newCounter("frames_received_total", "Inbound frames read from the chat server."),
			FramesDropped:  newCounter("frames_dropped_total", "Inbound frames dropped as malformed."),
			IntentsSent:    newCounter("intents_sent_total", "Outbound intents queued for the chat server."),
			IntentsDropped: newCounter("intents_dropped_total", "Outbound intents dropped while not connected or over the limit."),
			Reconnects:     newCounter("reconnects_total", "Reconnect attempts scheduled."),
		},
		gauges: map[string]prometheus.Gauge{
			ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Chat sessions currently open.",
			}),
		},
	}

	for name, c := range ps.counters {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	for name, g := range ps.gauges {
		if err := reg.Register(g); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}

	return ps, nil
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func (ps *PromStats) Incr(name string) {
	if c, ok := ps.counters[name]; ok {
		c.Inc()
		return
	}
	if g, ok := ps.gauges[name]; ok {
		g.Inc()
	}
}

func (ps *PromStats) Decr(name string) {
	if g, ok := ps.gauges[name]; ok {
		g.Dec()
	}
}

// Multi fans every update out to all of its providers.
type Multi []StatsProvider

func (m Multi) Incr(name string) {
	for _, p := range m {
		p.Incr(name)
	}
}

func (m Multi) Decr(name string) {
	for _, p := range m {
		p.Decr(name)
	}
}
