package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Route("RESERVATION", "override")
	m.Route("RESERVATION", "override")
	m.ToolCall("list_spaces", false)
	m.ToolCall("create_reservation", true)
	m.StepResult("COMPLETE", "COMPLETED")
	m.Turn("ok")
	m.LoopDepth(2)
	m.ProviderCall("chat", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.routes.WithLabelValues("RESERVATION", "override")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("create_reservation", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepResults.WithLabelValues("COMPLETE", "COMPLETED")))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Route("GENERAL", "classifier")
	m.ToolCall("x", false)
	m.StepResult("x", "y")
	m.Turn("ok")
	m.LoopDepth(1)
	m.ProviderCall("chat", time.Now())
}
