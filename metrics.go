package multipipes

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors a Manager updates as it
// dispatches events, giving prometheus/client_golang (already a dependency
// of the retrieved example pack's Chapter12/Chapter13 material) a concrete
// home in this library's supervision path.
type Metrics struct {
	restartsTotal   *prometheus.CounterVec
	exceptionsTotal *prometheus.CounterVec
	activeWorkers   *prometheus.GaugeVec
}

// NewMetrics constructs and registers the collectors against reg. Passing
// prometheus.NewRegistry() keeps them isolated from the global default
// registry, which matters for tests that construct multiple Managers.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		restartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multipipes_worker_restarts_total",
			Help: "Number of max_requests events dispatched (worker quota retirements), by node.",
		}, []string{"node"}),
		exceptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multipipes_worker_exceptions_total",
			Help: "Number of unhandled target exceptions observed, by node.",
		}, []string{"node"}),
		activeWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "multipipes_active_workers",
			Help: "Workers currently believed to be running, by node.",
		}, []string{"node"}),
	}

	reg.MustRegister(m.restartsTotal, m.exceptionsTotal, m.activeWorkers)
	return m
}

// observeEvent updates the relevant collector for ev. Called from
// Manager.dispatch for every event, before policy handling runs.
func (m *Metrics) observeEvent(ev Event) {
	switch ev.Kind {
	case EventMaxRequests:
		m.restartsTotal.WithLabelValues(ev.NodeName).Inc()
	case EventException:
		m.exceptionsTotal.WithLabelValues(ev.NodeName).Inc()
	}
}

// SetActiveWorkers records the current pool size for a node. Intended to be
// called by a caller polling Node.IsAlive()/pool size at an interval, since
// the Manager's event stream alone cannot observe steady-state pool size.
func (m *Metrics) SetActiveWorkers(nodeName string, count int) {
	m.activeWorkers.WithLabelValues(nodeName).Set(float64(count))
}
