// Package metrics exposes engine state as Prometheus metrics, gathered at
// scrape time rather than pushed.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/callbridge/callbridge/internal/engine"
)

// EngineStats provides a point-in-time snapshot of engine counters.
type EngineStats interface {
	Snapshot() engine.Stats
}

// ClientCounter returns the number of connected event-stream clients.
type ClientCounter interface {
	ClientCount() int
}

// Collector is a prometheus.Collector that gathers CallBridge metrics at scrape time.
type Collector struct {
	engine    EngineStats
	clients   ClientCounter
	startTime time.Time

	// Metric descriptors.
	activeSessionsDesc *prometheus.Desc
	bridgesDesc        *prometheus.Desc
	bridgeFailuresDesc *prometheus.Desc
	outcomesDesc       *prometheus.Desc
	unroutableDesc     *prometheus.Desc
	clientsDesc        *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(eng EngineStats, clients ClientCounter, startTime time.Time) *Collector {
	return &Collector{
		engine:    eng,
		clients:   clients,
		startTime: startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"callbridge_active_sessions",
			"Number of in-flight outbound call sessions",
			nil, nil,
		),
		bridgesDesc: prometheus.NewDesc(
			"callbridge_bridges_total",
			"Total number of successfully bridged calls",
			nil, nil,
		),
		bridgeFailuresDesc: prometheus.NewDesc(
			"callbridge_bridge_failures_total",
			"Total number of failed bridge commands",
			nil, nil,
		),
		outcomesDesc: prometheus.NewDesc(
			"callbridge_call_outcomes_total",
			"Total finalized calls by outcome",
			[]string{"outcome"}, nil,
		),
		unroutableDesc: prometheus.NewDesc(
			"callbridge_unroutable_webhooks_total",
			"Webhooks that could not be matched to a session or call record",
			nil, nil,
		),
		clientsDesc: prometheus.NewDesc(
			"callbridge_event_clients",
			"Number of connected event-stream websocket clients",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callbridge_uptime_seconds",
			"Seconds since the CallBridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.bridgesDesc
	ch <- c.bridgeFailuresDesc
	ch <- c.outcomesDesc
	ch <- c.unroutableDesc
	ch <- c.clientsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.engine != nil {
		stats := c.engine.Snapshot()

		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(stats.ActiveSessions),
		)
		ch <- prometheus.MustNewConstMetric(
			c.bridgesDesc, prometheus.CounterValue,
			float64(stats.BridgesTotal),
		)
		ch <- prometheus.MustNewConstMetric(
			c.bridgeFailuresDesc, prometheus.CounterValue,
			float64(stats.BridgeFailures),
		)
		ch <- prometheus.MustNewConstMetric(
			c.unroutableDesc, prometheus.CounterValue,
			float64(stats.UnroutableWebhooks),
		)

		for outcome, value := range map[string]int64{
			"completed": stats.OutcomesCompleted,
			"busy":      stats.OutcomesBusy,
			"no_answer": stats.OutcomesNoAnswer,
			"cancelled": stats.OutcomesCancelled,
			"failed":    stats.OutcomesFailed,
		} {
			ch <- prometheus.MustNewConstMetric(
				c.outcomesDesc, prometheus.CounterValue,
				float64(value), outcome,
			)
		}
	}

	if c.clients != nil {
		ch <- prometheus.MustNewConstMetric(
			c.clientsDesc, prometheus.GaugeValue,
			float64(c.clients.ClientCount()),
		)
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
