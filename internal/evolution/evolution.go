// Package evolution implements the Evolution Coordinator (C9): when an
// agent's task exhausts its retry bound on a job, build a
// SystemFailureCase, drive the evolution agent for a replacement
// prompt, install it, and re-arm the failed task itself for one more
// attempt — capped at evolution_attempts_per_job (§4.9). No new task row
// is created and the task's input is not changed.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"

	"helix/internal/domain/helix"
	"helix/internal/logging"
	"helix/internal/observability"
)

// Escalator is the interface the Worker calls once a task fails
// terminally. Orchestrator implements it directly; Coordinator wraps an
// inner Escalator (normally the Orchestrator) and falls through to it
// when the failure class does not trigger evolution, when evolution
// attempts for (job, agent) are exhausted, or when no replacement prompt
// could be proposed.
type Escalator interface {
	TaskCompleted(ctx context.Context, task *helix.Task) error
	TaskFailedTerminally(ctx context.Context, task *helix.Task) error
}

// evolutionAgentID is the well-known agent_id the Agent Executor
// implementation binds to an evolution-capable model invocation.
const evolutionAgentID = "evolution-coordinator"

// Coordinator wraps an inner Escalator and intercepts terminal task
// failures to attempt prompt evolution before giving up on the job.
type Coordinator struct {
	store       helix.Store
	executor    helix.AgentExecutor
	inner       Escalator
	maxAttempts int
	metrics     *observability.Metrics
	log         logging.Logger
}

// Config controls the Coordinator.
type Config struct {
	// MaxAttemptsPerJob caps how many times evolution may intervene for
	// a single (job_id, agent_id) pair before the failure escalates to
	// the wrapped Escalator (config's evolution_attempts_per_job).
	MaxAttemptsPerJob int
}

// New wraps inner (normally *orchestrator.Orchestrator) with evolution
// handling. executor drives the evolution agent itself — a distinct
// agent_id from any pipeline stage, invoked with a SystemFailureCase as
// its input. metrics may be nil to disable instrumentation.
func New(cfg Config, store helix.Store, executor helix.AgentExecutor, inner Escalator, metrics *observability.Metrics) *Coordinator {
	if cfg.MaxAttemptsPerJob < 0 {
		cfg.MaxAttemptsPerJob = 0
	}
	return &Coordinator{
		store:       store,
		executor:    executor,
		inner:       inner,
		maxAttempts: cfg.MaxAttemptsPerJob,
		metrics:     metrics,
		log:         logging.NewComponentLogger(logging.ComponentLoggerConfig{ComponentName: "evolution"}),
	}
}

// TaskCompleted passes through to the inner Escalator; evolution only
// acts on failures.
func (c *Coordinator) TaskCompleted(ctx context.Context, task *helix.Task) error {
	return c.inner.TaskCompleted(ctx, task)
}

// triggersEvolution reports whether failedTask's classification indicates
// the failing agent's prompt itself is at fault — §4.9's trigger is
// "validation or structural (rather than infrastructure-only)": a
// schema-mismatched output (ClassValidation) or an executor-reported
// non-retryable failure like a malformed prompt (ClassExecutorPermanent).
// Orchestration bugs, infrastructure outages, zombie recoveries, and
// still-retryable executor errors have nothing to do with prompt quality
// and must not burn the capped evolution_attempts_per_job budget.
func triggersEvolution(class helix.FailureClass) bool {
	return class == helix.ClassValidation || class == helix.ClassExecutorPermanent
}

// TaskFailedTerminally attempts to evolve failedTask.AgentID's prompt and
// reset failedTask to PENDING (ResetTaskForRetry) before falling through
// to the inner Escalator.
func (c *Coordinator) TaskFailedTerminally(ctx context.Context, failedTask *helix.Task) error {
	if !triggersEvolution(failedTask.Classification) {
		return c.inner.TaskFailedTerminally(ctx, failedTask)
	}

	attempts, err := c.store.CountEventsByAgent(ctx, failedTask.JobID, failedTask.AgentID, helix.EventEvolutionTriggered)
	if err != nil {
		return fmt.Errorf("evolution: count prior attempts: %w", err)
	}
	if attempts >= c.maxAttempts {
		c.log.Info("evolution attempts exhausted (%d/%d) for agent %s on job %s, escalating",
			attempts, c.maxAttempts, failedTask.AgentID, failedTask.JobID)
		if c.metrics != nil {
			c.metrics.RecordEvolutionRun(failedTask.AgentID, "exhausted")
		}
		return c.inner.TaskFailedTerminally(ctx, failedTask)
	}

	proposal, err := c.proposeReplacement(ctx, failedTask)
	if err != nil {
		c.log.Warn("evolution proposal failed for agent %s on job %s: %v, escalating", failedTask.AgentID, failedTask.JobID, err)
		if c.metrics != nil {
			c.metrics.RecordEvolutionRun(failedTask.AgentID, "propose_failed")
		}
		return c.inner.TaskFailedTerminally(ctx, failedTask)
	}

	if _, err := c.store.InstallPrompt(ctx, failedTask.AgentID, proposal.PromptText, evolutionAgentID); err != nil {
		return fmt.Errorf("evolution: install replacement prompt for %s: %w", failedTask.AgentID, err)
	}
	if c.metrics != nil {
		c.metrics.RecordPromptInstalled(failedTask.AgentID)
	}

	detail, _ := json.Marshal(map[string]any{"attempt": attempts + 1, "max_attempts": c.maxAttempts})
	if err := c.store.AppendEvent(ctx, helix.SystemEvent{
		JobID: failedTask.JobID, TaskID: failedTask.TaskID, Kind: helix.EventEvolutionTriggered, Detail: detail,
	}); err != nil {
		return fmt.Errorf("evolution: append evolution.triggered event: %w", err)
	}

	if err := c.store.ResetTaskForRetry(ctx, failedTask.TaskID); err != nil {
		return fmt.Errorf("evolution: re-enqueue task for %s on job %s: %w", failedTask.AgentID, failedTask.JobID, err)
	}

	if c.metrics != nil {
		c.metrics.RecordEvolutionRun(failedTask.AgentID, "retried")
	}
	return nil
}

func (c *Coordinator) proposeReplacement(ctx context.Context, failedTask *helix.Task) (*helix.EvolutionProposal, error) {
	events, err := c.store.ListEvents(ctx, failedTask.JobID)
	if err != nil {
		return nil, fmt.Errorf("list events for job %s: %w", failedTask.JobID, err)
	}

	failureCase := helix.SystemFailureCase{
		JobID:          failedTask.JobID,
		FailingAgentID: failedTask.AgentID,
		FailingTaskID:  failedTask.TaskID,
		OriginalInput:  failedTask.InputData,
		ErrorLogs:      collectErrorLogs(events, failedTask.AgentID),
	}

	payload, err := json.Marshal(failureCase)
	if err != nil {
		return nil, fmt.Errorf("marshal failure case: %w", err)
	}

	raw, err := c.executor.Execute(ctx, evolutionAgentID, helix.InputMaterials{
		Params: map[string]interface{}{"failure_case": json.RawMessage(payload)},
	})
	if err != nil {
		return nil, fmt.Errorf("invoke evolution agent: %w", err)
	}

	var proposal helix.EvolutionProposal
	if err := json.Unmarshal(raw, &proposal); err != nil {
		return nil, fmt.Errorf("unmarshal evolution proposal: %w", err)
	}
	if proposal.PromptText == "" {
		return nil, fmt.Errorf("evolution agent returned an empty prompt_text")
	}
	return &proposal, nil
}

func collectErrorLogs(events []helix.SystemEvent, agentID string) []string {
	var logs []string
	for _, e := range events {
		if e.Kind != helix.EventTaskFailed {
			continue
		}
		var detail struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(e.Detail, &detail); err == nil && detail.Error != "" {
			logs = append(logs, detail.Error)
		}
	}
	return logs
}
