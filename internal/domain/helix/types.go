// Package helix defines the HELIX orchestration core's domain model: Job,
// Task, Artifact, Prompt, and SystemEvent, together with the invariants
// from §3 and the classification enum that keeps task-level bug classes
// (orchestration errors) distinct from agent flakiness in error_log.
package helix

import (
	"encoding/json"
	"time"
)

// JobStatus is a Job's lifecycle state.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobCancelled  JobStatus = "CANCELLED"
	JobArchived   JobStatus = "ARCHIVED"
)

// IsTerminal reports whether a Job in this status will never transition again
// on its own (CANCELLED may still be archived by an operator, but not
// revived).
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobArchived:
		return true
	default:
		return false
	}
}

// Job is a user submission. Invariant J1: COMPLETED iff the terminal task in
// its workflow is COMPLETED. Invariant J2: FAILED iff any task has exceeded
// the retry bound without successful re-execution.
type Job struct {
	JobID          string          `json:"job_id"`
	InitialRequest json.RawMessage `json:"initial_request"`
	Status         JobStatus       `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// TaskStatus is a Task's lifecycle state. Invariant T2: a task may transition
// only along PENDING -> IN_PROGRESS -> {COMPLETED | FAILED}; FAILED ->
// PENDING is permitted only via the retry/evolution path and must increment
// RetryCount.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// FailureClass distinguishes the §7 error kinds. Task.Classification carries
// this value in its own column, instead of overloading the free-text
// ErrorLog with sentinel strings — resolving spec.md's Open Question 2.
type FailureClass string

const (
	ClassNone                FailureClass = ""
	ClassValidation          FailureClass = "validation"
	ClassExecutorTransient   FailureClass = "executor_transient"
	ClassExecutorPermanent   FailureClass = "executor_permanent"
	ClassOrchestration       FailureClass = "orchestration"
	ClassInfrastructure      FailureClass = "infrastructure"
	ClassZombie              FailureClass = "zombie"
)

// IsRetryable reports whether a failure of this class should consume a
// retry and loop the task back to PENDING, as opposed to terminating it
// immediately.
func (c FailureClass) IsRetryable() bool {
	switch c {
	case ClassValidation, ClassExecutorTransient, ClassInfrastructure, ClassZombie:
		return true
	default:
		return false
	}
}

// ArtifactRef identifies a predecessor artifact a task needs as input.
type ArtifactRef struct {
	Name         string `json:"name"`
	SourceTaskID string `json:"source_task_id"`
}

// TaskInput is the JSON shape stored in Task.InputData (§3.1).
type TaskInput struct {
	Artifacts []ArtifactRef          `json:"artifacts"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// Task is a unit of work for a single agent. Invariant T1: OutputData is
// non-null iff Status = COMPLETED. Invariant T3: no two concurrent writers
// hold the same task IN_PROGRESS — enforced by the claim protocol (§4.6).
type Task struct {
	TaskID       string          `json:"task_id"`
	JobID        string          `json:"job_id"`
	AgentID      string          `json:"agent_id"`
	Status       TaskStatus      `json:"status"`
	InputData    TaskInput       `json:"input_data"`
	OutputData   json.RawMessage `json:"output_data,omitempty"`
	ErrorLog     string          `json:"error_log,omitempty"`
	Classification FailureClass  `json:"classification,omitempty"`
	RetryCount   int             `json:"retry_count"`
	ClaimOwner   string          `json:"claim_owner,omitempty"`
	AssignedAt   *time.Time      `json:"assigned_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	HeartbeatAt  *time.Time      `json:"heartbeat_at,omitempty"`
}

// IsTerminal reports whether the status will never transition again without
// an explicit retry/evolution path.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Artifact is the validated, immutable output of a completed task. Invariant
// A1: at most one Artifact per (TaskID, Name). Invariant A2: Payload
// validates against SchemaID at insertion time. Invariant A3: immutable
// after creation.
type Artifact struct {
	ArtifactID string          `json:"artifact_id"`
	TaskID     string          `json:"task_id"`
	Name       string          `json:"name"`
	SchemaID   string          `json:"schema_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Prompt is agent instruction text. Invariant P1: at most one row with
// IsActive = true AND Version != "v0" per AgentID. Invariant P2: v0 is never
// active and never deleted. Invariant P3: installing a new active prompt
// atomically demotes the prior active row.
type Prompt struct {
	AgentID    string    `json:"agent_id"`
	Version    string    `json:"version"`
	PromptText string    `json:"prompt_text"`
	IsActive   bool      `json:"is_active"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// BaselineVersion is the never-active, never-deleted fallback prompt
// version for every agent.
const BaselineVersion = "v0"

// SystemEventKind names the well-known append-only event types used by §8
// assertions and §4.9 observability.
type SystemEventKind string

const (
	EventTaskClaimed         SystemEventKind = "task.claimed"
	EventTaskCompleted       SystemEventKind = "task.completed"
	EventTaskFailed          SystemEventKind = "task.failed"
	EventTaskRetrying        SystemEventKind = "task.retrying"
	EventTaskZombieRecovered SystemEventKind = "task.zombie_recovered"
	EventPromptInstalled     SystemEventKind = "prompt.installed"
	EventEvolutionTriggered  SystemEventKind = "evolution.triggered"
	EventJobCompleted        SystemEventKind = "job.completed"
	EventJobFailed           SystemEventKind = "job.failed"
)

// SystemEvent is an append-only structured log entry.
type SystemEvent struct {
	EventID   string          `json:"event_id"`
	JobID     string          `json:"job_id"`
	TaskID    string          `json:"task_id,omitempty"`
	Kind      SystemEventKind `json:"kind"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SystemFailureCase is the input to the evolution agent (§4.9): the
// accumulated evidence of an agent's repeated failure on a single job.
type SystemFailureCase struct {
	JobID          string            `json:"job_id"`
	FailingAgentID string            `json:"failing_agent_id"`
	FailingTaskID  string            `json:"failing_task_id"`
	OriginalInput  TaskInput         `json:"original_input"`
	FailedOutputs  []json.RawMessage `json:"failed_outputs"`
	ErrorLogs      []string          `json:"error_logs"`
	AuditReport    json.RawMessage   `json:"audit_report,omitempty"`
}

// EvolutionProposal is the evolution agent's output artifact: a replacement
// prompt for the failing agent.
type EvolutionProposal struct {
	AgentID    string `json:"agent_id"`
	PromptText string `json:"prompt_text"`
}
