// Package metrics exports dispatch activity to Prometheus.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/dispatch"
)

const namespace = "agentgate"

// Collector owns every agentgate metric. It implements dispatch.Observer
// and wraps event sinks with Sink.
type Collector struct {
	events        *prometheus.CounterVec
	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	turns         *prometheus.CounterVec
	turnDuration  prometheus.Histogram
}

var _ dispatch.Observer = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Dispatch events emitted, by event name.",
		}, []string{"event"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Finished queries, by overall result.",
		}, []string{"success"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall time of whole queries including every triggered turn.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished agent turns, by result.",
		}, []string{"success"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of single agent turns.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(c.events, c.queries, c.queryDuration, c.turns, c.turnDuration)
	}
	return c
}

// QueryFinished implements dispatch.Observer.
func (c *Collector) QueryFinished(success bool, elapsed time.Duration) {
	c.queries.WithLabelValues(strconv.FormatBool(success)).Inc()
	c.queryDuration.Observe(elapsed.Seconds())
}

// TurnFinished implements dispatch.Observer.
func (c *Collector) TurnFinished(_ int64, success bool, elapsed time.Duration) {
	c.turns.WithLabelValues(strconv.FormatBool(success)).Inc()
	c.turnDuration.Observe(elapsed.Seconds())
}

// Sink counts every event before forwarding it to next. A nil next only
// counts.
func (c *Collector) Sink(next core.EventSink) core.EventSink {
	return &sink{events: c.events, next: next}
}

type sink struct {
	events *prometheus.CounterVec
	next   core.EventSink
}

func (s *sink) Emit(ctx context.Context, name string, payload any) {
	s.events.WithLabelValues(name).Inc()
	if s.next != nil {
		s.next.Emit(ctx, name, payload)
	}
}
