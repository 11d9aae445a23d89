// Package metrics exports agent activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "devpilot"

// Collector records model calls, tool calls and iteration-limit hits. It
// satisfies agent.Observer.
type Collector struct {
	modelCalls      *prometheus.CounterVec
	modelLatency    *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolLatency     *prometheus.HistogramVec
	iterationLimits prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model adapter calls by outcome.",
		}, []string{"outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Latency of model adapter calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Latency of tool executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		iterationLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iteration_limit_total",
			Help:      "Exchanges stopped by the iteration ceiling.",
		}),
	}
	for _, col := range []prometheus.Collector{c.modelCalls, c.modelLatency, c.toolCalls, c.toolLatency, c.iterationLimits} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func outcome(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

func (c *Collector) ModelCall(elapsed time.Duration, err error) {
	o := outcome(err != nil)
	c.modelCalls.WithLabelValues(o).Inc()
	c.modelLatency.WithLabelValues(o).Observe(elapsed.Seconds())
}

func (c *Collector) ToolCall(name string, elapsed time.Duration, failed bool) {
	c.toolCalls.WithLabelValues(name, outcome(failed)).Inc()
	c.toolLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (c *Collector) IterationLimit() {
	c.iterationLimits.Inc()
}
