// Package worker implements the Agent Worker (C7): a single-agent
// processing loop that claims, gathers inputs for, prompts, executes,
// validates, and commits one task at a time (§5).
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	helixerrors "helix/internal/errors"
	"helix/internal/domain/helix"
	"helix/internal/logging"
	"helix/internal/observability"
)

// SchemaValidator is the subset of internal/infra/schema.Registry the
// Worker needs to validate an executor's output before committing it.
type SchemaValidator interface {
	Validate(schemaID string, payload []byte) error
}

// OutputSchemaResolver returns the schema_id an agent's completed
// artifact must satisfy, sourced from the Workflow Definition (C3).
type OutputSchemaResolver interface {
	OutputSchemaID(agentID string) (string, error)
	ArtifactName(agentID string) string
}

// Escalator is notified of terminal task outcomes so the pipeline can
// advance or the Evolution Coordinator can intervene. It is invoked
// synchronously right after the Store commit, not polled (§5,
// Orchestrator). *orchestrator.Orchestrator and *evolution.Coordinator
// both satisfy this interface.
type Escalator interface {
	TaskCompleted(ctx context.Context, task *helix.Task) error
	TaskFailedTerminally(ctx context.Context, task *helix.Task) error
}

// Config controls one Worker instance.
type Config struct {
	AgentID           string
	OwnerID           string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Timeout           time.Duration
	MaxRetries        int
}

// Worker repeatedly claims tasks for one agent_id and drives them
// through the phases in Progress. It holds no cross-task state: every
// field needed to process a task is read fresh from the Store at claim
// time, so a Worker can crash and restart without leaking partial work
// (the crashed claim simply becomes a zombie for the Janitor).
type Worker struct {
	cfg       Config
	store     helix.Store
	executor  helix.AgentExecutor
	schema    SchemaValidator
	outputs   OutputSchemaResolver
	metrics   *observability.Metrics
	log       logging.Logger
	breaker   *helixerrors.CircuitBreaker
	progress  *Progress
	tracer    trace.Tracer
	escalator Escalator
}

// New constructs a Worker. metrics may be nil to disable instrumentation.
// escalator may be nil, in which case terminal outcomes are committed to
// the Store but never advance the pipeline — only useful in isolation
// tests.
func New(cfg Config, store helix.Store, executor helix.AgentExecutor, schema SchemaValidator, outputs OutputSchemaResolver, metrics *observability.Metrics, escalator Escalator) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	log := logging.NewComponentLogger(logging.ComponentLoggerConfig{ComponentName: "worker." + cfg.AgentID})
	return &Worker{
		cfg:       cfg,
		store:     store,
		executor:  executor,
		schema:    schema,
		outputs:   outputs,
		metrics:   metrics,
		log:       log,
		breaker:   helixerrors.NewCircuitBreaker("executor."+cfg.AgentID, helixerrors.DefaultCircuitBreakerConfig()),
		progress:  NewProgress(cfg.AgentID, log),
		tracer:    otel.Tracer("helix/worker"),
		escalator: escalator,
	}
}

// Progress exposes the current task's phase for introspection.
func (w *Worker) Progress() ProgressSnapshot { return w.progress.Snapshot() }

// Run blocks, claiming and processing tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.claimAndProcess(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("claim/process cycle failed for agent %s: %v", w.cfg.AgentID, err)
			}
		}
	}
}

func (w *Worker) claimAndProcess(ctx context.Context) error {
	w.progress.Begin("")
	task, err := w.store.ClaimTask(ctx, w.cfg.AgentID, w.cfg.OwnerID)
	if err != nil {
		w.progress.Finish(err)
		return fmt.Errorf("claim task: %w", err)
	}
	if task == nil {
		w.progress.Finish(nil)
		return nil
	}

	w.progress.Begin(task.TaskID)
	if w.metrics != nil {
		w.metrics.RecordTaskClaimed(w.cfg.AgentID)
	}
	_ = w.store.AppendEvent(ctx, helix.SystemEvent{
		JobID: task.JobID, TaskID: task.TaskID, Kind: helix.EventTaskClaimed,
	})

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	stopHeartbeat := w.startHeartbeat(taskCtx, task.TaskID)
	defer stopHeartbeat()

	err = w.processTask(taskCtx, task)
	w.progress.Finish(err)
	return err
}

func (w *Worker) startHeartbeat(ctx context.Context, taskID string) func() {
	if w.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.store.Heartbeat(ctx, taskID, w.cfg.OwnerID); err != nil {
					w.log.Warn("heartbeat failed for task %s: %v", taskID, err)
				}
			}
		}
	}()
	return func() { close(done) }
}

func (w *Worker) processTask(ctx context.Context, task *helix.Task) error {
	ctx, span := w.tracer.Start(ctx, "worker.process_task",
		trace.WithAttributes(
			attribute.String("helix.agent_id", w.cfg.AgentID),
			attribute.String("helix.task_id", task.TaskID),
			attribute.String("helix.job_id", task.JobID),
		))
	defer span.End()

	materials, err := w.gather(ctx, task)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return w.fail(ctx, task, err, helix.ClassOrchestration)
	}

	_ = w.progress.Advance(PhasePrompting)
	_ = w.progress.Advance(PhaseExecuting)

	start := time.Now()
	output, execErr := helixerrors.ExecuteFunc(w.breaker, ctx, func(ctx context.Context) (json.RawMessage, error) {
		return w.executor.Execute(ctx, w.cfg.AgentID, *materials)
	})
	if w.metrics != nil {
		w.metrics.ObservePhaseDuration(w.cfg.AgentID, string(PhaseExecuting), time.Since(start).Seconds())
	}
	if execErr != nil {
		span.SetStatus(codes.Error, execErr.Error())
		return w.fail(ctx, task, execErr, classifyExecutorError(execErr))
	}

	_ = w.progress.Advance(PhaseValidating)
	artifactName := task.AgentID
	schemaID := ""
	if w.outputs != nil {
		artifactName = w.outputs.ArtifactName(w.cfg.AgentID)
		schemaID, err = w.outputs.OutputSchemaID(w.cfg.AgentID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return w.fail(ctx, task, err, helix.ClassOrchestration)
		}
	}
	if w.schema != nil && schemaID != "" {
		if err := w.schema.Validate(schemaID, output); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return w.fail(ctx, task, err, helix.ClassValidation)
		}
	}

	_ = w.progress.Advance(PhaseCommitting)
	completed, err := w.store.CompleteTask(ctx, task.TaskID, w.cfg.OwnerID, artifactName, schemaID, output)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("complete task %s: %w", task.TaskID, err)
	}

	if w.metrics != nil {
		w.metrics.RecordTaskCompleted(w.cfg.AgentID)
	}
	if err := w.store.AppendEvent(ctx, helix.SystemEvent{
		JobID: task.JobID, TaskID: task.TaskID, Kind: helix.EventTaskCompleted,
	}); err != nil {
		return err
	}

	if w.escalator == nil {
		return nil
	}
	done, err := w.store.GetTask(ctx, task.TaskID)
	if err != nil {
		return fmt.Errorf("reload completed task %s: %w", task.TaskID, err)
	}
	done.OutputData = completed.Payload
	return w.escalator.TaskCompleted(ctx, done)
}

func (w *Worker) gather(ctx context.Context, task *helix.Task) (*helix.InputMaterials, error) {
	_ = w.progress.Advance(PhaseGathering)

	prompt, err := w.store.GetActivePrompt(ctx, w.cfg.AgentID)
	if err != nil {
		return nil, fmt.Errorf("get active prompt for %s: %w", w.cfg.AgentID, err)
	}

	artifacts, err := w.store.GetArtifactsBatch(ctx, task.InputData.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("gather input artifacts for task %s: %w", task.TaskID, err)
	}

	return &helix.InputMaterials{
		PromptText: prompt.PromptText,
		Artifacts:  artifacts,
		Params:     task.InputData.Params,
	}, nil
}

func (w *Worker) fail(ctx context.Context, task *helix.Task, cause error, class helix.FailureClass) error {
	if w.metrics != nil {
		w.metrics.RecordTaskFailed(w.cfg.AgentID, string(class))
	}
	if err := w.store.FailTask(ctx, task.TaskID, w.cfg.OwnerID, cause.Error(), class, w.cfg.MaxRetries); err != nil {
		return fmt.Errorf("record failure for task %s: %w", task.TaskID, err)
	}
	detail, _ := json.Marshal(map[string]string{"error": cause.Error(), "classification": string(class)})
	if err := w.store.AppendEvent(ctx, helix.SystemEvent{
		JobID: task.JobID, TaskID: task.TaskID, Kind: helix.EventTaskFailed, Detail: detail,
	}); err != nil {
		return err
	}

	if w.escalator == nil {
		return nil
	}
	reloaded, err := w.store.GetTask(ctx, task.TaskID)
	if err != nil {
		return fmt.Errorf("reload failed task %s: %w", task.TaskID, err)
	}
	if reloaded.Status != helix.TaskFailed {
		return nil
	}
	return w.escalator.TaskFailedTerminally(ctx, reloaded)
}

// classifyExecutorError maps an AgentExecutor failure to a FailureClass
// using the kind it reports (§4.5), falling back to the generic
// error-taxonomy heuristics for errors that didn't go through
// helix.ExecutorError.
func classifyExecutorError(err error) helix.FailureClass {
	var execErr *helix.ExecutorError
	if errors.As(err, &execErr) {
		switch execErr.Kind {
		case helix.ExecutorNonRetryable:
			return helix.ClassExecutorPermanent
		case helix.ExecutorRetryable, helix.ExecutorRateLimited:
			return helix.ClassExecutorTransient
		}
	}
	if helixerrors.IsPermanent(err) {
		return helix.ClassExecutorPermanent
	}
	return helix.ClassExecutorTransient
}
