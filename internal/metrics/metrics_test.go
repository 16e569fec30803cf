package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"RPCCallsTotal", RPCCallsTotal},
		{"RPCRateLimitWaits", RPCRateLimitWaits},
		{"RPCCallLatency", RPCCallLatency},
		{"ProviderCircuitState", ProviderCircuitState},
		{"ProviderReputationScore", ProviderReputationScore},
		{"ReputationDisagreements", ReputationDisagreements},
		{"RequesterAttempts", RequesterAttempts},
		{"RequesterBudgetEscalations", RequesterBudgetEscalations},
		{"RequesterRotations", RequesterRotations},
		{"PipelineRunsTotal", PipelineRunsTotal},
		{"PipelineRunLatency", PipelineRunLatency},
		{"PipelineLockContention", PipelineLockContention},
		{"PipelineRateUpdates", PipelineRateUpdates},
		{"PipelineNonceResends", PipelineNonceResends},
		{"PipelineLatestRate", PipelineLatestRate},
		{"RunnerAttempts", RunnerAttempts},
		{"AlertsSentTotal", AlertsSentTotal},
		{"AlertsCooldownSkipped", AlertsCooldownSkipped},
		{"DBPoolOpen", DBPoolOpen},
		{"DBPoolInUse", DBPoolInUse},
		{"JournalAppendErrors", JournalAppendErrors},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_CounterIncrement(t *testing.T) {
	t.Parallel()

	c := PipelineRunsTotal.WithLabelValues("counter-test", "submitted")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))

	assert.NotPanics(t, func() { RPCCallsTotal.WithLabelValues("p1", "eth_call", "ok").Inc() })
	assert.NotPanics(t, func() { RPCRateLimitWaits.WithLabelValues("p1").Inc() })
	assert.NotPanics(t, func() { RequesterAttempts.WithLabelValues("consensus", "ok").Inc() })
	assert.NotPanics(t, func() { RequesterBudgetEscalations.WithLabelValues("single").Inc() })
	assert.NotPanics(t, func() { PipelineLockContention.WithLabelValues("counter-test").Inc() })
	assert.NotPanics(t, func() { PipelineRateUpdates.WithLabelValues("counter-test", "increase").Inc() })
	assert.NotPanics(t, func() { PipelineNonceResends.WithLabelValues("counter-test").Inc() })
	assert.NotPanics(t, func() { AlertsSentTotal.WithLabelValues("slack", "rate_change").Inc() })
	assert.NotPanics(t, func() { AlertsCooldownSkipped.WithLabelValues("slack", "exhausted").Inc() })
	assert.NotPanics(t, func() { ReputationDisagreements.Inc() })
	assert.NotPanics(t, func() { RequesterRotations.Inc() })
	assert.NotPanics(t, func() { JournalAppendErrors.Inc() })
}

func TestMetrics_HistogramObserve(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { RPCCallLatency.WithLabelValues("p1", "eth_call").Observe(0.2) })
	assert.NotPanics(t, func() { PipelineRunLatency.WithLabelValues("histogram-test").Observe(1.5) })

	RunnerAttempts.WithLabelValues("histogram-test").Observe(2)
	assert.Equal(t, 1, testutil.CollectAndCount(RunnerAttempts, "ratekeeper_runner_attempts"))
}

func TestMetrics_GaugeSet(t *testing.T) {
	t.Parallel()

	ProviderReputationScore.WithLabelValues("gauge-test").Set(-3)
	assert.Equal(t, -3.0, testutil.ToFloat64(ProviderReputationScore.WithLabelValues("gauge-test")))

	PipelineLatestRate.WithLabelValues("gauge-test").Set(0.05)
	assert.Equal(t, 0.05, testutil.ToFloat64(PipelineLatestRate.WithLabelValues("gauge-test")))

	assert.NotPanics(t, func() { ProviderCircuitState.WithLabelValues("gauge-test").Set(1) })
	assert.NotPanics(t, func() { DBPoolOpen.Set(4) })
	assert.NotPanics(t, func() { DBPoolInUse.Set(2) })
}

func TestMetrics_RegisteredWithDefaultRegistry(t *testing.T) {
	t.Parallel()

	err := prometheus.DefaultRegisterer.Register(JournalAppendErrors)
	var already prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)
}
