package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMetrics_RegistersCollectorsAndRecordsObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := GetMetrics(reg)
	require.NotNil(t, m)

	m.RecordTick("credit-risk", "completed", 0.5)
	m.RecordDriftRatio("credit-risk", 0.2, true)
	m.RecordGateOutcome("credit-risk", "G4")
	m.RecordOrchestrationRun("credit-risk", "promote")
	m.RecordPromotion("credit-risk")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestGetMetrics_IsASingleton(t *testing.T) {
	a := GetMetrics(prometheus.NewRegistry())
	b := GetMetrics(prometheus.NewRegistry())
	assert.Same(t, a, b)
}

func TestMetrics_NilReceiverMethodsDoNotPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTick("credit-risk", "completed", 0.1)
		m.RecordDriftRatio("credit-risk", 0.1, false)
		m.RecordGateOutcome("credit-risk", "G1")
		m.RecordOrchestrationRun("credit-risk", "skip")
		m.RecordPromotion("credit-risk")
	})
}
