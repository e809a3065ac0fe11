package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for the inventory core.
// A nil *Metrics is valid and records nothing.
// 在庫コアのPrometheusメトリクスを保持
type Metrics struct {
	attempts     *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	failures     *prometheus.CounterVec
	stockChanges *prometheus.CounterVec
	lowStock     prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg
// メトリクスを作成してレジストリに登録
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buffet",
			Subsystem: "inventory",
			Name:      "unit_attempts_total",
			Help:      "Atomic unit attempts by operation.",
		}, []string{"operation"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buffet",
			Subsystem: "inventory",
			Name:      "unit_conflicts_total",
			Help:      "Optimistic concurrency conflicts by operation.",
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buffet",
			Subsystem: "inventory",
			Name:      "unit_failures_total",
			Help:      "Terminal unit failures by operation and error kind.",
		}, []string{"operation", "kind"}),
		stockChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buffet",
			Subsystem: "inventory",
			Name:      "stock_changes_total",
			Help:      "Committed stock mutations by cause.",
		}, []string{"type"}),
		lowStock: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buffet",
			Subsystem: "inventory",
			Name:      "low_stock_alerts_total",
			Help:      "Low stock alerts raised after commit.",
		}),
	}

	for _, c := range []prometheus.Collector{m.attempts, m.conflicts, m.failures, m.stockChanges, m.lowStock} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) attempt(operation string) {
	if m != nil {
		m.attempts.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) conflict(operation string) {
	if m != nil {
		m.conflicts.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) failure(operation string, kind ErrorKind) {
	if m != nil {
		m.failures.WithLabelValues(operation, string(kind)).Inc()
	}
}

func (m *Metrics) stockChanged(changeType AuditLogType) {
	if m != nil {
		m.stockChanges.WithLabelValues(string(changeType)).Inc()
	}
}

func (m *Metrics) lowStockAlert() {
	if m != nil {
		m.lowStock.Inc()
	}
}
