// Package observability exposes HELIX's Prometheus metrics: per-agent
// task throughput, failure classification, phase latency, and Janitor
// sweep counters.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every Prometheus collector HELIX registers. Construct
// one per process and thread it through Worker, Orchestrator, Evolution
// Coordinator, and Janitor.
type Metrics struct {
	tasksClaimed     *prometheus.CounterVec
	tasksCompleted   *prometheus.CounterVec
	tasksFailed      *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	zombiesRecovered prometheus.Counter
	eventsPurged     prometheus.Counter
	promptsInstalled *prometheus.CounterVec
	evolutionRuns    *prometheus.CounterVec
}

// NewMetrics registers every collector against the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers every collector against reg, letting
// tests use a scratch prometheus.NewRegistry() instead of the global
// default.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasksClaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "tasks_claimed_total",
			Help:      "Tasks claimed by an Agent Worker, by agent_id.",
		}, []string{"agent_id"}),
		tasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "tasks_completed_total",
			Help:      "Tasks completed, by agent_id.",
		}, []string{"agent_id"}),
		tasksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "tasks_failed_total",
			Help:      "Tasks failed, by agent_id and failure classification.",
		}, []string{"agent_id", "classification"}),
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "helix",
			Name:      "worker_phase_duration_seconds",
			Help:      "Duration of each Agent Worker phase, by agent_id and phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent_id", "phase"}),
		zombiesRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "zombies_recovered_total",
			Help:      "Tasks recovered by the Janitor from a dead claimant.",
		}),
		eventsPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "events_purged_total",
			Help:      "SystemEvent rows purged past their retention TTL.",
		}),
		promptsInstalled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "prompts_installed_total",
			Help:      "Prompt versions installed, by agent_id.",
		}, []string{"agent_id"}),
		evolutionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "evolution_runs_total",
			Help:      "Evolution Coordinator invocations, by agent_id and outcome.",
		}, []string{"agent_id", "outcome"}),
	}
}

func (m *Metrics) RecordTaskClaimed(agentID string) {
	m.tasksClaimed.WithLabelValues(agentID).Inc()
}

func (m *Metrics) RecordTaskCompleted(agentID string) {
	m.tasksCompleted.WithLabelValues(agentID).Inc()
}

func (m *Metrics) RecordTaskFailed(agentID, classification string) {
	m.tasksFailed.WithLabelValues(agentID, classification).Inc()
}

func (m *Metrics) ObservePhaseDuration(agentID, phase string, seconds float64) {
	m.phaseDuration.WithLabelValues(agentID, phase).Observe(seconds)
}

func (m *Metrics) RecordZombieRecovered() {
	m.zombiesRecovered.Inc()
}

func (m *Metrics) RecordEventsPurged(n float64) {
	m.eventsPurged.Add(n)
}

func (m *Metrics) RecordPromptInstalled(agentID string) {
	m.promptsInstalled.WithLabelValues(agentID).Inc()
}

func (m *Metrics) RecordEvolutionRun(agentID, outcome string) {
	m.evolutionRuns.WithLabelValues(agentID, outcome).Inc()
}
