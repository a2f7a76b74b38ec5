package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	compilationsTotal   *prometheus.CounterVec
	diagnosticsTotal    *prometheus.CounterVec
	deploymentsTotal    *prometheus.CounterVec
	deployStepDuration  *prometheus.HistogramVec
	remoteCallsTotal    *prometheus.CounterVec
	healthStatus        *prometheus.GaugeVec
	queuePending        prometheus.Gauge
	deployTriggersTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		compilationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_compilations_total", Help: "Total bundle compilations"},
			[]string{"result"},
		),
		diagnosticsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_compile_diagnostics_total", Help: "Conditions or dialect outputs skipped during compilation"},
			[]string{"dialect"},
		),
		deploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_deployments_total", Help: "Total deployments by outcome"},
			[]string{"server", "outcome", "step"},
		),
		deployStepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_deploy_step_duration_seconds",
				Help:    "Deployment step duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		remoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_remote_calls_total", Help: "Total remote commands and copies"},
			[]string{"server", "op", "outcome"},
		),
		healthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sentinel_health_check", Help: "Last health check result (1 healthy, 0 unhealthy)"},
			[]string{"server", "check"},
		),
		queuePending: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sentinel_queue_pending", Help: "Applications with a pending or running deployment"},
		),
		deployTriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sentinel_deploy_triggers_total", Help: "Deployment requests received by the control API"},
			[]string{"result"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.compilationsTotal,
		m.diagnosticsTotal,
		m.deploymentsTotal,
		m.deployStepDuration,
		m.remoteCallsTotal,
		m.healthStatus,
		m.queuePending,
		m.deployTriggersTotal,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCompile(ok bool, diagnostics map[string]int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.compilationsTotal.WithLabelValues(result).Inc()
	for dialect, n := range diagnostics {
		if dialect == "" {
			dialect = "any"
		}
		m.diagnosticsTotal.WithLabelValues(dialect).Add(float64(n))
	}
}

func (m *Metrics) ObserveDeployment(server, outcome, step string) {
	if m == nil {
		return
	}
	m.deploymentsTotal.WithLabelValues(server, outcome, step).Inc()
}

func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.deployStepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) ObserveRemote(server, op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.remoteCallsTotal.WithLabelValues(server, op, outcome).Inc()
}

func (m *Metrics) ObserveHealth(server, check string, ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.healthStatus.WithLabelValues(server, check).Set(v)
}

func (m *Metrics) SetQueuePending(n int) {
	if m == nil {
		return
	}
	m.queuePending.Set(float64(n))
}

func (m *Metrics) ObserveTrigger(result string) {
	if m == nil {
		return
	}
	m.deployTriggersTotal.WithLabelValues(result).Inc()
}
