// Package orchestrator implements the Orchestrator (C8): the reactive
// driver that creates a Job's first Task on submission, advances the
// pipeline to the next agent on every task completion, and marks a Job
// terminal on pipeline completion or unrecoverable failure (§4.8).
package orchestrator

import (
	"context"
	"fmt"

	"helix/internal/domain/helix"
	"helix/internal/logging"
	"helix/internal/observability"
	"helix/internal/workflow"
)

// Orchestrator is invoked synchronously by the Agent Worker right after
// it commits a task's outcome — "reactive" here means driven by the
// completion event itself, not a polling loop racing the Store.
type Orchestrator struct {
	store   helix.Store
	def     *workflow.Definition
	metrics *observability.Metrics
	log     logging.Logger
}

// New constructs an Orchestrator bound to a Workflow Definition.
// metrics may be nil to disable instrumentation.
func New(store helix.Store, def *workflow.Definition, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		store:   store,
		def:     def,
		metrics: metrics,
		log:     logging.NewComponentLogger(logging.ComponentLoggerConfig{ComponentName: "orchestrator"}),
	}
}

// SubmitJob creates a Job and its first Task in one Store transaction,
// using the Workflow Definition's entry point as the first agent_id.
func (o *Orchestrator) SubmitJob(ctx context.Context, initialRequest []byte, params map[string]interface{}) (*helix.Job, *helix.Task, error) {
	firstAgent := o.def.FirstAgent()
	if firstAgent == "" {
		return nil, nil, fmt.Errorf("orchestrator: workflow definition has no agents")
	}
	job, task, err := o.store.CreateJob(ctx, initialRequest, firstAgent, params)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: create job: %w", err)
	}
	return job, task, nil
}

// TaskCompleted advances the pipeline past completedTask: it either
// creates the successor task for the next agent, resolving that agent's
// required input artifacts against what's already been produced for
// this job, or — if completedTask's agent was the pipeline's terminal
// step — marks the Job COMPLETED (invariant J1).
func (o *Orchestrator) TaskCompleted(ctx context.Context, completedTask *helix.Task) error {
	nextAgent, hasNext := o.def.NextAgent(completedTask.AgentID)
	if !hasNext {
		return o.completeJob(ctx, completedTask.JobID)
	}

	input, err := o.buildSuccessorInput(ctx, completedTask.JobID, nextAgent)
	if err != nil {
		return fmt.Errorf("orchestrator: build input for %s on job %s: %w", nextAgent, completedTask.JobID, err)
	}

	if _, err := o.store.CreateTask(ctx, completedTask.JobID, nextAgent, input); err != nil {
		return fmt.Errorf("orchestrator: create successor task for %s on job %s: %w", nextAgent, completedTask.JobID, err)
	}
	return nil
}

// TaskFailedTerminally marks the owning Job FAILED (invariant J2). The
// Worker calls this only once a task has failed terminally (retry bound
// exhausted, or a non-retryable classification) and no Escalator upstream of the Orchestrator (e.g. the Evolution
// Coordinator) intervened.
func (o *Orchestrator) TaskFailedTerminally(ctx context.Context, failedTask *helix.Task) error {
	if err := o.store.SetJobStatus(ctx, failedTask.JobID, helix.JobFailed, failedTask.ErrorLog); err != nil {
		return fmt.Errorf("orchestrator: mark job %s failed: %w", failedTask.JobID, err)
	}
	return o.store.AppendEvent(ctx, helix.SystemEvent{
		JobID: failedTask.JobID, TaskID: failedTask.TaskID, Kind: helix.EventJobFailed,
	})
}

// CancelJob marks a Job CANCELLED. Already-claimed tasks run to their
// own completion; the Orchestrator does not create further successor
// tasks for a cancelled job because TaskCompleted checks job status
// before advancing.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	return o.store.CancelJob(ctx, jobID)
}

func (o *Orchestrator) completeJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("orchestrator: get job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if err := o.store.SetJobStatus(ctx, jobID, helix.JobCompleted, ""); err != nil {
		return fmt.Errorf("orchestrator: mark job %s completed: %w", jobID, err)
	}
	return o.store.AppendEvent(ctx, helix.SystemEvent{JobID: jobID, Kind: helix.EventJobCompleted})
}

func (o *Orchestrator) buildSuccessorInput(ctx context.Context, jobID, agentID string) (helix.TaskInput, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return helix.TaskInput{}, fmt.Errorf("get job: %w", err)
	}
	if job.Status.IsTerminal() {
		return helix.TaskInput{}, fmt.Errorf("job %s is already %s, refusing to advance", jobID, job.Status)
	}

	names := o.def.RequiredInputArtifacts(agentID)
	refs := make([]helix.ArtifactRef, 0, len(names))
	for _, name := range names {
		ref, err := o.store.LatestArtifactByName(ctx, jobID, name)
		if err != nil {
			return helix.TaskInput{}, fmt.Errorf("resolve predecessor artifact %q: %w", name, err)
		}
		refs = append(refs, *ref)
	}
	return helix.TaskInput{Artifacts: refs}, nil
}
