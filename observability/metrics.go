package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StableMetrics tracks the engine operations exposed over RPC.
type StableMetrics struct {
	operations   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
}

var (
	stableOnce     sync.Once
	stableRegistry *StableMetrics
)

// Stable returns the metrics registry for the position engine.
func Stable() *StableMetrics {
	stableOnce.Do(func() {
		stableRegistry = &StableMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Count of completed liquidations segmented by seized asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			stableRegistry.operations,
			stableRegistry.liquidations,
		)
	})
	return stableRegistry
}

// RecordOperation increments the operation counter with a success or failure
// outcome.
func (m *StableMetrics) RecordOperation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// RecordLiquidation increments the liquidation counter for the seized asset.
func (m *StableMetrics) RecordLiquidation(asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.liquidations.WithLabelValues(normalized).Inc()
}
