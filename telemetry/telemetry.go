package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the profile engine.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with storage operations and the load pipeline.
type Collector interface {
	IncStoreOperation(op, result string)
	IncCorruptRecord()
	IncPipelineOutcome(result string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncStoreOperation(string, string) {}
func (noopCollector) IncCorruptRecord()                {}
func (noopCollector) IncPipelineOutcome(string)        {}

// PrometheusCollector exposes engine counters via Prometheus.
type PrometheusCollector struct {
	storeOps       *prometheus.CounterVec
	corruptRecords prometheus.Counter
	pipelineRuns   *prometheus.CounterVec
}

var (
	storeOpsCounter            *prometheus.CounterVec
	storeOpsCounterLock        sync.Mutex
	corruptRecordCounter       prometheus.Counter
	corruptRecordCounterLock   sync.Mutex
	pipelineOutcomeCounter     *prometheus.CounterVec
	pipelineOutcomeCounterLock sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	storeOpsCounterLock.Lock()
	if storeOpsCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpvault_store_operations_total",
			Help: "Number of profile store operations by operation and result.",
		}, []string{"op", "result"})
		if err := reg.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					storeOpsCounter = existing
				} else {
					storeOpsCounterLock.Unlock()
					return nil, err
				}
			} else {
				storeOpsCounterLock.Unlock()
				return nil, err
			}
		} else {
			storeOpsCounter = counter
		}
	}
	storeOpsCounterLock.Unlock()

	corruptRecordCounterLock.Lock()
	if corruptRecordCounter == nil {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpvault_store_corrupt_records_total",
			Help: "Number of stored records skipped during listing because they failed to deserialize.",
		})
		if err := reg.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
					corruptRecordCounter = existing
				} else {
					corruptRecordCounterLock.Unlock()
					return nil, err
				}
			} else {
				corruptRecordCounterLock.Unlock()
				return nil, err
			}
		} else {
			corruptRecordCounter = counter
		}
	}
	corruptRecordCounterLock.Unlock()

	pipelineOutcomeCounterLock.Lock()
	if pipelineOutcomeCounter == nil {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpvault_load_pipeline_total",
			Help: "Number of profile load pipeline runs by terminal result.",
		}, []string{"result"})
		if err := reg.Register(counter); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					pipelineOutcomeCounter = existing
				} else {
					pipelineOutcomeCounterLock.Unlock()
					return nil, err
				}
			} else {
				pipelineOutcomeCounterLock.Unlock()
				return nil, err
			}
		} else {
			pipelineOutcomeCounter = counter
		}
	}
	pipelineOutcomeCounterLock.Unlock()

	return &PrometheusCollector{
		storeOps:       storeOpsCounter,
		corruptRecords: corruptRecordCounter,
		pipelineRuns:   pipelineOutcomeCounter,
	}, nil
}

// IncStoreOperation increments the counter for a store operation outcome.
func (p *PrometheusCollector) IncStoreOperation(op, result string) {
	if p == nil || p.storeOps == nil {
		return
	}
	p.storeOps.WithLabelValues(op, result).Inc()
}

// IncCorruptRecord records a record skipped during best-effort listing.
func (p *PrometheusCollector) IncCorruptRecord() {
	if p == nil || p.corruptRecords == nil {
		return
	}
	p.corruptRecords.Inc()
}

// IncPipelineOutcome records a terminal load pipeline result.
func (p *PrometheusCollector) IncPipelineOutcome(result string) {
	if p == nil || p.pipelineRuns == nil {
		return
	}
	p.pipelineRuns.WithLabelValues(result).Inc()
}
