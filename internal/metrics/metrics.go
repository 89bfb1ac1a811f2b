package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LinkResults      *prometheus.CounterVec
	ChatRateLimited  prometheus.Counter
	ChatStreams      *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	RateLimitTracked prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LinkResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "open_gamma_auth_link_results_total",
			Help: "Account-linking steps by outcome",
		}, []string{"step", "result"}),
		ChatRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "open_gamma_chat_rate_limited_total",
			Help: "Chat requests rejected by the per-user rate limiter",
		}),
		ChatStreams: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "open_gamma_chat_streams_total",
			Help: "Chat model streams by provider and outcome",
		}, []string{"provider", "result"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "open_gamma_chat_tool_calls_total",
			Help: "Tool calls made by the chat agent by tool and outcome",
		}, []string{"tool", "result"}),
		RateLimitTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "open_gamma_ratelimit_tracked_identities",
			Help: "Identities currently tracked by the chat rate limiter",
		}),
	}
}

func (m *Metrics) LinkResult(step, result string) {
	if m == nil {
		return
	}
	m.LinkResults.WithLabelValues(step, result).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.ChatRateLimited.Inc()
}

func (m *Metrics) ChatStream(provider, result string) {
	if m == nil {
		return
	}
	m.ChatStreams.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) SetTrackedIdentities(n int) {
	if m == nil {
		return
	}
	m.RateLimitTracked.Set(float64(n))
}
