package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncStoreOperation("save", "ok")
	collector.IncCorruptRecord()
	collector.IncPipelineOutcome("succeeded")
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	storeOpsCounterLock.Lock()
	storeOpsCounter = nil
	storeOpsCounterLock.Unlock()
	corruptRecordCounterLock.Lock()
	corruptRecordCounter = nil
	corruptRecordCounterLock.Unlock()
	pipelineOutcomeCounterLock.Lock()
	pipelineOutcomeCounter = nil
	pipelineOutcomeCounterLock.Unlock()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncStoreOperation("save", "ok")

	metrics, err := reg.Gather()
	require.NoError(t, err)

	family := findFamily(t, metrics, "pumpvault_store_operations_total")
	requireCounterValue(t, family, 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.storeOps, again.storeOps)

	again.IncStoreOperation("save", "ok")

	metrics, err = reg.Gather()
	require.NoError(t, err)
	requireCounterValue(t, findFamily(t, metrics, "pumpvault_store_operations_total"), 2)
}

func TestPrometheusCollectorPipelineOutcome(t *testing.T) {
	pipelineOutcomeCounterLock.Lock()
	pipelineOutcomeCounter = nil
	pipelineOutcomeCounterLock.Unlock()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncPipelineOutcome("failed")
	collector.IncPipelineOutcome("failed")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	requireCounterValue(t, findFamily(t, metrics, "pumpvault_load_pipeline_total"), 2)
}

func findFamily(t *testing.T, metrics []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
