// Package metrics exposes Prometheus instrumentation for agent invocations,
// business tool calls and order interceptions.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	Invocations        *prometheus.CounterVec
	InvocationDuration prometheus.Histogram
	ToolCalls          *prometheus.CounterVec
	Interceptions      *prometheus.CounterVec
	ActiveInvocations  prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		Invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_invocations_total",
				Help: "Agent invocations by terminal outcome",
			},
			[]string{"outcome"},
		),
		InvocationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailtriage_invocation_duration_seconds",
				Help:    "Wall time of one agent invocation",
				Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 120},
			},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_tool_calls_total",
				Help: "Business tool calls by tool and structured success flag",
			},
			[]string{"tool", "success"},
		),
		Interceptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_interceptions_total",
				Help: "Order interception attempts by result",
			},
			[]string{"result"},
		),
		ActiveInvocations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtriage_active_invocations",
				Help: "Invocations currently in flight (0 or 1)",
			},
		),
	}
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) InvocationStarted() {
	if r == nil {
		return
	}
	r.ActiveInvocations.Inc()
}

// InvocationFinished records the outcome ("done", "error", "timeout", "canceled", "unavailable").
func (r *Recorder) InvocationFinished(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.ActiveInvocations.Dec()
	r.Invocations.WithLabelValues(outcome).Inc()
	r.InvocationDuration.Observe(d.Seconds())
}

func (r *Recorder) ToolCall(tool string, success bool) {
	if r == nil {
		return
	}
	r.ToolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}

// Interception records "intercepted", "already_intercepted", "already_shipped" or "not_found".
func (r *Recorder) Interception(result string) {
	if r == nil {
		return
	}
	r.Interceptions.WithLabelValues(result).Inc()
}
