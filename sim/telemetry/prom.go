package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's own Prometheus instruments (about the
// simulator process, not the simulated hardware — that lives in the
// cluster store).
type Metrics struct {
	CommandsTotal      *prometheus.CounterVec
	CommandErrorsTotal *prometheus.CounterVec
	FaultsInjected     *prometheus.CounterVec
	EvolverTicks       prometheus.Counter
}

// NewMetrics registers the engine instruments on the given registerer.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dclab_commands_total",
			Help: "Commands executed, by tool.",
		}, []string{"tool"}),
		CommandErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dclab_command_errors_total",
			Help: "Commands that returned a non-zero exit code, by tool.",
		}, []string{"tool"}),
		FaultsInjected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dclab_faults_injected_total",
			Help: "Hardware faults injected into the cluster model, by kind.",
		}, []string{"kind"}),
		EvolverTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "dclab_evolver_ticks_total",
			Help: "Completed telemetry evolution ticks.",
		}),
	}
}
