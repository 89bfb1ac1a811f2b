package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.LinkResult("complete", "ok")
	m.LinkResult("complete", "ok")
	m.LinkResult("complete", "no_connection")
	m.RateLimited()
	m.ChatStream("openai", "error")
	m.ToolCall("GOOGLESLIDES_CREATE_PRESENTATION", "ok")
	m.SetTrackedIdentities(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LinkResults.WithLabelValues("complete", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkResults.WithLabelValues("complete", "no_connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatRateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatStreams.WithLabelValues("openai", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("GOOGLESLIDES_CREATE_PRESENTATION", "ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RateLimitTracked))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LinkResult("start", "ok")
		m.RateLimited()
		m.ChatStream("google", "ok")
		m.ToolCall("GEMINI_GENERATE_IMAGE", "error")
		m.SetTrackedIdentities(1)
	})
}
