package helix

import "context"

// Store is the persistence port for the HELIX orchestration core (C1). All
// multi-row writes execute inside a single transaction with the stated
// all-or-nothing guarantee; the long Agent Executor wait never happens
// inside one.
type Store interface {
	// EnsureSchema creates or migrates the backing schema. Idempotent.
	EnsureSchema(ctx context.Context) error

	// CreateJob inserts a Job at PENDING and the workflow's first Task at
	// PENDING in the same transaction (§4.1).
	CreateJob(ctx context.Context, initialRequest []byte, firstAgentID string, params map[string]interface{}) (*Job, *Task, error)

	// GetJob returns a Job projection, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// SetJobStatus transitions a Job's status, setting CompletedAt and
	// ErrorMessage as appropriate. Used by the Orchestrator on terminal
	// task outcomes and by job cancellation.
	SetJobStatus(ctx context.Context, jobID string, status JobStatus, errorMessage string) error

	// GetTask returns a Task by id, or ErrNotFound.
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// CreateTask inserts a successor task at PENDING. Idempotent with
	// respect to (jobID, agentID): if a task for this (job, agent) pair
	// already exists, whatever its status, CreateTask returns it instead of
	// inserting a duplicate (§4.8 idempotent successor creation).
	CreateTask(ctx context.Context, jobID, agentID string, input TaskInput) (*Task, error)

	// ClaimTask atomically selects the oldest claimable task (PENDING, or
	// FAILED-then-retried rows already reset to PENDING by FailTask) for
	// agentID using FOR UPDATE SKIP LOCKED, and transitions it to
	// IN_PROGRESS under ownerID (§4.6). Returns nil, nil when no task is
	// available.
	ClaimTask(ctx context.Context, agentID, ownerID string) (*Task, error)

	// Heartbeat updates HeartbeatAt only if the task is still IN_PROGRESS
	// and owned by ownerID.
	Heartbeat(ctx context.Context, taskID, ownerID string) error

	// CompleteTask atomically inserts the Artifact and marks the task
	// COMPLETED (§4.1, invariant A1/T1). Fails with ErrNotClaimant or
	// ErrNotInProgress otherwise.
	CompleteTask(ctx context.Context, taskID, ownerID, artifactName, schemaID string, payload []byte) (*Artifact, error)

	// FailTask transitions a task to FAILED if RetryCount >= maxRetries or
	// classification is non-retryable; otherwise resets it to PENDING,
	// increments RetryCount, and clears StartedAt/HeartbeatAt (§4.1).
	FailTask(ctx context.Context, taskID, ownerID, errorLog string, classification FailureClass, maxRetries int) error

	// GetArtifact resolves a predecessor artifact by (sourceTaskID, name).
	GetArtifact(ctx context.Context, sourceTaskID, name string) (*Artifact, error)

	// GetArtifactsBatch resolves multiple artifact references in one round
	// trip (§4.7 "single batch read").
	GetArtifactsBatch(ctx context.Context, refs []ArtifactRef) (map[ArtifactRef]*Artifact, error)

	// LatestArtifactByName returns the most recent completed task within
	// jobID that produced an artifact with the given name, used by the
	// Orchestrator to build successor input_data (§4.8).
	LatestArtifactByName(ctx context.Context, jobID, name string) (*ArtifactRef, error)

	// ListTasksByJob returns every task belonging to a job, used for
	// get_job's TaskSummary projection and job-completion checks.
	ListTasksByJob(ctx context.Context, jobID string) ([]*Task, error)

	// ListZombieTasks returns IN_PROGRESS tasks whose heartbeat is missing
	// or older than the olderThan cutoff, in unix seconds (Janitor, §4.10).
	ListZombieTasks(ctx context.Context, olderThan int64) ([]*Task, error)

	// RecoverZombie atomically resets a zombie task to PENDING, increments
	// RetryCount, and clears ownership/heartbeat.
	RecoverZombie(ctx context.Context, taskID string) error

	// ResetTaskForRetry re-arms an already-terminal FAILED task for one
	// more attempt: status back to PENDING, ownership and timestamps
	// cleared, RetryCount incremented. Used by the Evolution Coordinator
	// after installing a replacement prompt (§4.9) — distinct from
	// CreateTask, whose (job_id, agent_id) idempotency must not silently
	// resurrect a FAILED row's old output/error state.
	ResetTaskForRetry(ctx context.Context, taskID string) error

	// AppendEvent writes an append-only SystemEvent.
	AppendEvent(ctx context.Context, event SystemEvent) error

	// ListEvents returns the SystemEvent audit trail for a job, oldest
	// first.
	ListEvents(ctx context.Context, jobID string) ([]SystemEvent, error)

	// CountEventsByAgent returns how many events of kind exist for (jobID,
	// agentID) — used to enforce evolution_attempts_per_job.
	CountEventsByAgent(ctx context.Context, jobID, agentID string, kind SystemEventKind) (int, error)

	// PurgeEventsOlderThan deletes SystemEvents past their retention TTL
	// (Janitor).
	PurgeEventsOlderThan(ctx context.Context, unixSeconds int64) (int64, error)

	// GetActivePrompt returns the active prompt for agentID, falling back
	// to v0 if none is active. Fails with ErrMissingBaseline if neither
	// exists (§4.4).
	GetActivePrompt(ctx context.Context, agentID string) (*Prompt, error)

	// InstallPrompt atomically demotes any existing active row and inserts
	// a new active version (§4.4, invariants P1-P3).
	InstallPrompt(ctx context.Context, agentID, promptText, author string) (*Prompt, error)

	// EnsureBaselinePrompt inserts the v0 row for agentID if it does not
	// already exist. Never marked active.
	EnsureBaselinePrompt(ctx context.Context, agentID, promptText string) error

	// RollbackPromptTo atomically swaps the active prompt to an existing
	// historical version. Selecting v0 leaves no row active.
	RollbackPromptTo(ctx context.Context, agentID, version string) error

	// PurgeInactivePrompts removes inactive prompt rows older than the
	// retention policy, preserving v0 and the current active row
	// (Janitor).
	PurgeInactivePrompts(ctx context.Context, agentID string, keepVersions int) error

	// CancelJob sets a Job's status to CANCELLED (§5 job-level
	// cancellation).
	CancelJob(ctx context.Context, jobID string) error
}
