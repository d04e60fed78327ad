// Package store provides Postgres- and memory-backed implementations of the
// helix.Store port: the durable, transactional persistence of Jobs, Tasks,
// Artifacts, Prompts, and SystemEvents (§4.1), including the row-locking
// claim protocol (§4.6) and SQL three-valued-logic-safe predicates
// (P-null-safe-selects).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"helix/internal/domain/helix"
	"helix/internal/logging"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	jobsTable      = "helix_jobs"
	tasksTable     = "helix_tasks"
	artifactsTable = "helix_artifacts"
	promptsTable   = "helix_prompts"
	eventsTable    = "helix_system_events"
)

// PostgresStore implements helix.Store backed by Postgres via pgx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ helix.Store = (*PostgresStore)(nil)

// NewPostgresStore builds a Postgres-backed Store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logging.StoreLogger,
	}
}

// EnsureSchema creates every HELIX table and index if absent. Idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store not initialized")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + jobsTable + ` (
			job_id          TEXT PRIMARY KEY,
			initial_request JSONB NOT NULL,
			status          TEXT NOT NULL DEFAULT 'PENDING',
			error_message   TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at    TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS ` + tasksTable + ` (
			task_id        TEXT PRIMARY KEY,
			job_id         TEXT NOT NULL REFERENCES ` + jobsTable + `(job_id),
			agent_id       TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'PENDING',
			input_data     JSONB NOT NULL,
			output_data    JSONB,
			error_log      TEXT,
			classification TEXT,
			retry_count    INTEGER NOT NULL DEFAULT 0,
			claim_owner    TEXT,
			assigned_at    TIMESTAMPTZ,
			started_at     TIMESTAMPTZ,
			completed_at   TIMESTAMPTZ,
			heartbeat_at   TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (job_id, agent_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_helix_tasks_claim
			ON ` + tasksTable + ` (agent_id, status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_helix_tasks_heartbeat
			ON ` + tasksTable + ` (heartbeat_at) WHERE status = 'IN_PROGRESS'`,
		`CREATE TABLE IF NOT EXISTS ` + artifactsTable + ` (
			artifact_id TEXT PRIMARY KEY,
			task_id     TEXT NOT NULL REFERENCES ` + tasksTable + `(task_id),
			name        TEXT NOT NULL,
			schema_id   TEXT NOT NULL,
			payload     JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (task_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + promptsTable + ` (
			agent_id    TEXT NOT NULL,
			version     TEXT NOT NULL,
			prompt_text TEXT NOT NULL,
			is_active   BOOLEAN NOT NULL DEFAULT false,
			created_by  TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (agent_id, version)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_helix_prompts_one_active
			ON ` + promptsTable + ` (agent_id) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS ` + eventsTable + ` (
			event_id   TEXT PRIMARY KEY,
			job_id     TEXT NOT NULL,
			task_id    TEXT,
			kind       TEXT NOT NULL,
			detail     JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_helix_events_job
			ON ` + eventsTable + ` (job_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_helix_events_agent_kind
			ON ` + eventsTable + ` (job_id, kind, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure helix schema: %w", err)
		}
	}
	return nil
}

// CreateJob inserts a Job and its first Task atomically (§4.1).
func (s *PostgresStore) CreateJob(ctx context.Context, initialRequest []byte, firstAgentID string, params map[string]interface{}) (*helix.Job, *helix.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin create job tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	jobID := uuid.NewString()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+jobsTable+` (job_id, initial_request, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		jobID, initialRequest, string(helix.JobPending), now,
	); err != nil {
		return nil, nil, fmt.Errorf("insert job: %w", err)
	}

	input := helix.TaskInput{Params: params}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal task input: %w", err)
	}

	taskID := uuid.NewString()
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+tasksTable+` (task_id, job_id, agent_id, status, input_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		taskID, jobID, firstAgentID, string(helix.TaskPending), inputJSON, now,
	); err != nil {
		return nil, nil, fmt.Errorf("insert first task: %w", err)
	}

	if err := appendEventTx(ctx, tx, helix.SystemEvent{
		EventID: uuid.NewString(), JobID: jobID, TaskID: taskID,
		Kind: helix.EventTaskClaimed, CreatedAt: now,
	}); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit create job tx: %w", err)
	}

	job := &helix.Job{JobID: jobID, InitialRequest: initialRequest, Status: helix.JobPending, CreatedAt: now, UpdatedAt: now}
	task := &helix.Task{TaskID: taskID, JobID: jobID, AgentID: firstAgentID, Status: helix.TaskPending, InputData: input}
	return job, task, nil
}

// GetJob returns a Job by id.
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*helix.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT job_id, initial_request, status, error_message, created_at, updated_at, completed_at
		 FROM `+jobsTable+` WHERE job_id = $1`, jobID)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*helix.Job, error) {
	var j helix.Job
	var errMsg *string
	var completedAt *time.Time
	var initialRequest []byte
	if err := row.Scan(&j.JobID, &initialRequest, &j.Status, &errMsg, &j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, helix.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.InitialRequest = initialRequest
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	j.CompletedAt = completedAt
	return &j, nil
}

// SetJobStatus transitions a Job's status.
func (s *PostgresStore) SetJobStatus(ctx context.Context, jobID string, status helix.JobStatus, errorMessage string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status.IsTerminal() {
		completedAt = &now
	}
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+jobsTable+` SET status = $1, error_message = $2, updated_at = $3,
			completed_at = COALESCE($4, completed_at)
		 WHERE job_id = $5`,
		string(status), errMsg, now, completedAt, jobID,
	)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return helix.ErrNotFound
	}
	return nil
}

// GetTask returns a Task by id.
func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*helix.Task, error) {
	row := s.pool.QueryRow(ctx, taskSelectColumns+` WHERE task_id = $1`, taskID)
	return scanTask(row)
}

const taskSelectColumns = `SELECT task_id, job_id, agent_id, status, input_data, output_data,
	error_log, classification, retry_count, claim_owner, assigned_at, started_at,
	completed_at, heartbeat_at
	FROM ` + tasksTable

func scanTask(row pgx.Row) (*helix.Task, error) {
	var t helix.Task
	var inputJSON, outputJSON []byte
	var errLog, classification, claimOwner *string
	if err := row.Scan(
		&t.TaskID, &t.JobID, &t.AgentID, &t.Status, &inputJSON, &outputJSON,
		&errLog, &classification, &t.RetryCount, &claimOwner,
		&t.AssignedAt, &t.StartedAt, &t.CompletedAt, &t.HeartbeatAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, helix.ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if len(inputJSON) > 0 {
		_ = json.Unmarshal(inputJSON, &t.InputData)
	}
	if len(outputJSON) > 0 {
		t.OutputData = outputJSON
	}
	if errLog != nil {
		t.ErrorLog = *errLog
	}
	if classification != nil {
		t.Classification = helix.FailureClass(*classification)
	}
	if claimOwner != nil {
		t.ClaimOwner = *claimOwner
	}
	return &t, nil
}

// CreateTask inserts a successor task at PENDING, idempotently per
// (jobID, agentID) (§4.8).
func (s *PostgresStore) CreateTask(ctx context.Context, jobID, agentID string, input helix.TaskInput) (*helix.Task, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal task input: %w", err)
	}

	taskID := uuid.NewString()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+tasksTable+` (task_id, job_id, agent_id, status, input_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (job_id, agent_id) DO UPDATE SET job_id = EXCLUDED.job_id
		 RETURNING task_id`,
		taskID, jobID, agentID, string(helix.TaskPending), inputJSON,
	)
	var returnedID string
	if err := row.Scan(&returnedID); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return s.GetTask(ctx, returnedID)
}

// ClaimTask implements the §4.6 claim protocol: SELECT the oldest claimable
// row with FOR UPDATE SKIP LOCKED, then UPDATE it to IN_PROGRESS in the same
// statement via a CTE so the claim is a single round trip and a single
// transaction. No transaction is rolled back after a successful claim —
// rolling back an atomic claim UPDATE would discard the very ownership it
// just granted.
func (s *PostgresStore) ClaimTask(ctx context.Context, agentID, ownerID string) (*helix.Task, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`WITH candidate AS (
			SELECT task_id FROM `+tasksTable+`
			WHERE agent_id = $1 AND status = $2
			ORDER BY created_at ASC, task_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE `+tasksTable+` t SET
			status = $3, claim_owner = $4, assigned_at = $5, started_at = $5, heartbeat_at = $5
		FROM candidate
		WHERE t.task_id = candidate.task_id
		RETURNING t.task_id`,
		agentID, string(helix.TaskPending), string(helix.TaskInProgress), ownerID, now,
	)

	var taskID string
	if err := row.Scan(&taskID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	_ = s.AppendEvent(ctx, helix.SystemEvent{
		EventID: uuid.NewString(), JobID: task.JobID, TaskID: task.TaskID,
		Kind: helix.EventTaskClaimed, CreatedAt: now,
	})
	return task, nil
}

// Heartbeat updates HeartbeatAt only if the task is still IN_PROGRESS and
// owned by ownerID.
func (s *PostgresStore) Heartbeat(ctx context.Context, taskID, ownerID string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+tasksTable+` SET heartbeat_at = now()
		 WHERE task_id = $1 AND claim_owner = $2 AND status = $3`,
		taskID, ownerID, string(helix.TaskInProgress),
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return helix.ErrNotInProgress
	}
	return nil
}

// CompleteTask atomically inserts the Artifact and marks the task COMPLETED
// (§4.1 "either the artifact is inserted AND the task is marked complete,
// or neither is").
func (s *PostgresStore) CompleteTask(ctx context.Context, taskID, ownerID, artifactName, schemaID string, payload []byte) (*helix.Artifact, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin complete task tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	var claimOwner *string
	err = tx.QueryRow(ctx,
		`SELECT status, claim_owner FROM `+tasksTable+` WHERE task_id = $1 FOR UPDATE`,
		taskID,
	).Scan(&status, &claimOwner)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, helix.ErrNotFound
		}
		return nil, fmt.Errorf("lock task for completion: %w", err)
	}
	if status != string(helix.TaskInProgress) {
		return nil, helix.ErrNotInProgress
	}
	if claimOwner == nil || *claimOwner != ownerID {
		return nil, helix.ErrNotClaimant
	}

	now := time.Now().UTC()
	artifactID := uuid.NewString()
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+artifactsTable+` (artifact_id, task_id, name, schema_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		artifactID, taskID, artifactName, schemaID, payload, now,
	); err != nil {
		return nil, fmt.Errorf("insert artifact: %w (duplicate (task_id, name)?)", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+tasksTable+` SET status = $1, output_data = $2, completed_at = $3 WHERE task_id = $4`,
		string(helix.TaskCompleted), payload, now, taskID,
	); err != nil {
		return nil, fmt.Errorf("mark task completed: %w", err)
	}

	var jobID string
	if err := tx.QueryRow(ctx, `SELECT job_id FROM `+tasksTable+` WHERE task_id = $1`, taskID).Scan(&jobID); err != nil {
		return nil, fmt.Errorf("lookup job id: %w", err)
	}

	if err := appendEventTx(ctx, tx, helix.SystemEvent{
		EventID: uuid.NewString(), JobID: jobID, TaskID: taskID,
		Kind: helix.EventTaskCompleted, CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit complete task tx: %w", err)
	}

	return &helix.Artifact{
		ArtifactID: artifactID, TaskID: taskID, Name: artifactName,
		SchemaID: schemaID, Payload: payload, CreatedAt: now,
	}, nil
}

// FailTask implements §4.1's fail_task: terminal FAILED if RetryCount >=
// maxRetries or classification is non-retryable, otherwise PENDING with
// RetryCount incremented and StartedAt/HeartbeatAt cleared.
func (s *PostgresStore) FailTask(ctx context.Context, taskID, ownerID, errorLog string, classification helix.FailureClass, maxRetries int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail task tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var retryCount int
	var jobID, status string
	var claimOwner *string
	if err := tx.QueryRow(ctx,
		`SELECT job_id, status, claim_owner, retry_count FROM `+tasksTable+` WHERE task_id = $1 FOR UPDATE`,
		taskID,
	).Scan(&jobID, &status, &claimOwner, &retryCount); err != nil {
		if err == pgx.ErrNoRows {
			return helix.ErrNotFound
		}
		return fmt.Errorf("lock task for failure: %w", err)
	}
	if status != string(helix.TaskInProgress) {
		return helix.ErrNotInProgress
	}
	if claimOwner == nil || *claimOwner != ownerID {
		return helix.ErrNotClaimant
	}

	now := time.Now().UTC()
	terminal := retryCount >= maxRetries || !classification.IsRetryable()

	if terminal {
		if _, err := tx.Exec(ctx,
			`UPDATE `+tasksTable+` SET status = $1, error_log = $2, classification = $3, completed_at = $4
			 WHERE task_id = $5`,
			string(helix.TaskFailed), errorLog, string(classification), now, taskID,
		); err != nil {
			return fmt.Errorf("mark task failed: %w", err)
		}
		if err := appendEventTx(ctx, tx, helix.SystemEvent{
			EventID: uuid.NewString(), JobID: jobID, TaskID: taskID,
			Kind: helix.EventTaskFailed, CreatedAt: now,
		}); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx,
			`UPDATE `+tasksTable+` SET status = $1, error_log = $2, classification = $3,
				retry_count = retry_count + 1, started_at = NULL, heartbeat_at = NULL, claim_owner = NULL
			 WHERE task_id = $4`,
			string(helix.TaskPending), errorLog, string(classification), taskID,
		); err != nil {
			return fmt.Errorf("retry task: %w", err)
		}
		if err := appendEventTx(ctx, tx, helix.SystemEvent{
			EventID: uuid.NewString(), JobID: jobID, TaskID: taskID,
			Kind: helix.EventTaskRetrying, CreatedAt: now,
		}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetArtifact resolves a predecessor artifact by (sourceTaskID, name).
func (s *PostgresStore) GetArtifact(ctx context.Context, sourceTaskID, name string) (*helix.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT artifact_id, task_id, name, schema_id, payload, created_at
		 FROM `+artifactsTable+` WHERE task_id = $1 AND name = $2`,
		sourceTaskID, name,
	)
	return scanArtifact(row)
}

func scanArtifact(row pgx.Row) (*helix.Artifact, error) {
	var a helix.Artifact
	if err := row.Scan(&a.ArtifactID, &a.TaskID, &a.Name, &a.SchemaID, &a.Payload, &a.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, helix.ErrNotFound
		}
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	return &a, nil
}

// GetArtifactsBatch resolves multiple artifact references in a single round
// trip, per §4.7's "no per-item round-trip" requirement.
func (s *PostgresStore) GetArtifactsBatch(ctx context.Context, refs []helix.ArtifactRef) (map[helix.ArtifactRef]*helix.Artifact, error) {
	result := make(map[helix.ArtifactRef]*helix.Artifact, len(refs))
	if len(refs) == 0 {
		return result, nil
	}

	taskIDs := make([]string, len(refs))
	names := make([]string, len(refs))
	for i, r := range refs {
		taskIDs[i] = r.SourceTaskID
		names[i] = r.Name
	}

	rows, err := s.pool.Query(ctx,
		`SELECT artifact_id, task_id, name, schema_id, payload, created_at
		 FROM `+artifactsTable+`
		 WHERE (task_id, name) IN (SELECT * FROM UNNEST($1::text[], $2::text[]))`,
		taskIDs, names,
	)
	if err != nil {
		return nil, fmt.Errorf("batch get artifacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		result[helix.ArtifactRef{Name: a.Name, SourceTaskID: a.TaskID}] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(result) != len(refs) {
		for _, ref := range refs {
			if _, ok := result[ref]; !ok {
				return nil, fmt.Errorf("%w: artifact %q from task %s", helix.ErrNotFound, ref.Name, ref.SourceTaskID)
			}
		}
	}
	return result, nil
}

// LatestArtifactByName returns the most recent completed task within jobID
// producing an artifact with the given name (§4.8 successor input wiring).
func (s *PostgresStore) LatestArtifactByName(ctx context.Context, jobID, name string) (*helix.ArtifactRef, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT a.task_id FROM `+artifactsTable+` a
		 JOIN `+tasksTable+` t ON t.task_id = a.task_id
		 WHERE t.job_id = $1 AND a.name = $2 AND t.status = $3
		 ORDER BY a.created_at DESC LIMIT 1`,
		jobID, name, string(helix.TaskCompleted),
	)
	var taskID string
	if err := row.Scan(&taskID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, helix.ErrNotFound
		}
		return nil, fmt.Errorf("latest artifact by name: %w", err)
	}
	return &helix.ArtifactRef{Name: name, SourceTaskID: taskID}, nil
}

// ListTasksByJob returns every task belonging to a job.
func (s *PostgresStore) ListTasksByJob(ctx context.Context, jobID string) ([]*helix.Task, error) {
	rows, err := s.pool.Query(ctx, taskSelectColumns+` WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by job: %w", err)
	}
	defer rows.Close()

	var tasks []*helix.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListZombieTasks returns IN_PROGRESS tasks whose heartbeat is older than
// olderThan (unix seconds). heartbeat_at is NULL-safe: a task that never
// got a heartbeat recorded (heartbeat_at IS NULL) counts as expired too,
// following the P-null-safe-selects discipline — a bare `heartbeat_at <
// $1` would silently exclude NULL rows under SQL three-valued logic.
func (s *PostgresStore) ListZombieTasks(ctx context.Context, olderThan int64) ([]*helix.Task, error) {
	cutoff := time.Unix(olderThan, 0).UTC()
	rows, err := s.pool.Query(ctx,
		taskSelectColumns+` WHERE status = $1 AND (heartbeat_at IS NULL OR heartbeat_at < $2)`,
		string(helix.TaskInProgress), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list zombie tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*helix.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// RecoverZombie atomically resets a zombie task to PENDING (§4.10).
func (s *PostgresStore) RecoverZombie(ctx context.Context, taskID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin recover zombie tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var jobID string
	ct, err := tx.Exec(ctx,
		`UPDATE `+tasksTable+` SET status = $1, retry_count = retry_count + 1,
			classification = $2, claim_owner = NULL, started_at = NULL, heartbeat_at = NULL
		 WHERE task_id = $3 AND status = $4`,
		string(helix.TaskPending), string(helix.ClassZombie), taskID, string(helix.TaskInProgress),
	)
	if err != nil {
		return fmt.Errorf("recover zombie: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return helix.ErrNotFound
	}
	if err := tx.QueryRow(ctx, `SELECT job_id FROM `+tasksTable+` WHERE task_id = $1`, taskID).Scan(&jobID); err != nil {
		return fmt.Errorf("lookup job id: %w", err)
	}
	if err := appendEventTx(ctx, tx, helix.SystemEvent{
		EventID: uuid.NewString(), JobID: jobID, TaskID: taskID,
		Kind: helix.EventTaskZombieRecovered, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ResetTaskForRetry re-arms a terminal FAILED task for one more attempt
// (§4.9, Evolution Coordinator). Unlike RecoverZombie, the precondition
// is status = FAILED, not IN_PROGRESS, and the classification is cleared
// rather than stamped ClassZombie.
func (s *PostgresStore) ResetTaskForRetry(ctx context.Context, taskID string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+tasksTable+` SET status = $1, retry_count = retry_count + 1,
			classification = $2, error_log = '', claim_owner = NULL, started_at = NULL, heartbeat_at = NULL
		 WHERE task_id = $3 AND status = $4`,
		string(helix.TaskPending), string(helix.ClassNone), taskID, string(helix.TaskFailed),
	)
	if err != nil {
		return fmt.Errorf("reset task for retry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return helix.ErrNotFound
	}
	return nil
}

// AppendEvent writes an append-only SystemEvent.
func (s *PostgresStore) AppendEvent(ctx context.Context, event helix.SystemEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var taskID *string
	if event.TaskID != "" {
		taskID = &event.TaskID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+eventsTable+` (event_id, job_id, task_id, kind, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.EventID, event.JobID, taskID, string(event.Kind), event.Detail, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
}

func appendEventTx(ctx context.Context, tx execer, event helix.SystemEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var taskID *string
	if event.TaskID != "" {
		taskID = &event.TaskID
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO `+eventsTable+` (event_id, job_id, task_id, kind, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.EventID, event.JobID, taskID, string(event.Kind), event.Detail, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event in tx: %w", err)
	}
	return nil
}

// ListEvents returns the SystemEvent audit trail for a job, oldest first.
func (s *PostgresStore) ListEvents(ctx context.Context, jobID string) ([]helix.SystemEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, job_id, task_id, kind, detail, created_at
		 FROM `+eventsTable+` WHERE job_id = $1 ORDER BY created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []helix.SystemEvent
	for rows.Next() {
		var e helix.SystemEvent
		var taskID *string
		if err := rows.Scan(&e.EventID, &e.JobID, &taskID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if taskID != nil {
			e.TaskID = *taskID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEventsByAgent counts events of kind for tasks belonging to agentID
// within jobID, used to enforce evolution_attempts_per_job.
func (s *PostgresStore) CountEventsByAgent(ctx context.Context, jobID, agentID string, kind helix.SystemEventKind) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+eventsTable+` e
		 JOIN `+tasksTable+` t ON t.task_id = e.task_id
		 WHERE e.job_id = $1 AND t.agent_id = $2 AND e.kind = $3`,
		jobID, agentID, string(kind),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events by agent: %w", err)
	}
	return count, nil
}

// PurgeEventsOlderThan deletes SystemEvents past their TTL (Janitor §4.10).
func (s *PostgresStore) PurgeEventsOlderThan(ctx context.Context, unixSeconds int64) (int64, error) {
	cutoff := time.Unix(unixSeconds, 0).UTC()
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+eventsTable+` WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return ct.RowsAffected(), nil
}

// GetActivePrompt returns the active prompt for agentID, falling back to v0.
func (s *PostgresStore) GetActivePrompt(ctx context.Context, agentID string) (*helix.Prompt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT agent_id, version, prompt_text, is_active, created_by, created_at
		 FROM `+promptsTable+` WHERE agent_id = $1 AND is_active = true`,
		agentID,
	)
	p, err := scanPrompt(row)
	if err == nil {
		return p, nil
	}
	if err != helix.ErrNotFound {
		return nil, err
	}

	row = s.pool.QueryRow(ctx,
		`SELECT agent_id, version, prompt_text, is_active, created_by, created_at
		 FROM `+promptsTable+` WHERE agent_id = $1 AND version = $2`,
		agentID, helix.BaselineVersion,
	)
	p, err = scanPrompt(row)
	if err == helix.ErrNotFound {
		return nil, helix.ErrMissingBaseline
	}
	return p, err
}

func scanPrompt(row pgx.Row) (*helix.Prompt, error) {
	var p helix.Prompt
	if err := row.Scan(&p.AgentID, &p.Version, &p.PromptText, &p.IsActive, &p.CreatedBy, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, helix.ErrNotFound
		}
		return nil, fmt.Errorf("scan prompt: %w", err)
	}
	return &p, nil
}

// InstallPrompt atomically demotes the existing active row and inserts a
// new active version (§4.4, invariants P1-P3).
func (s *PostgresStore) InstallPrompt(ctx context.Context, agentID, promptText, author string) (*helix.Prompt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin install prompt tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE `+promptsTable+` SET is_active = false WHERE agent_id = $1 AND is_active = true`,
		agentID,
	); err != nil {
		return nil, fmt.Errorf("demote active prompt: %w", err)
	}

	now := time.Now().UTC()
	version := fmt.Sprintf("v%d-%s", now.UnixMilli(), uuid.NewString()[:8])

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+promptsTable+` (agent_id, version, prompt_text, is_active, created_by, created_at)
		 VALUES ($1, $2, $3, true, $4, $5)`,
		agentID, version, promptText, author, now,
	); err != nil {
		return nil, fmt.Errorf("insert new active prompt: %w", err)
	}

	if err := appendEventTx(ctx, tx, helix.SystemEvent{
		EventID: uuid.NewString(), JobID: "", Kind: helix.EventPromptInstalled, CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit install prompt tx: %w", err)
	}

	return &helix.Prompt{AgentID: agentID, Version: version, PromptText: promptText, IsActive: true, CreatedBy: author, CreatedAt: now}, nil
}

// EnsureBaselinePrompt inserts the v0 row for agentID if absent. Never
// marked active.
func (s *PostgresStore) EnsureBaselinePrompt(ctx context.Context, agentID, promptText string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+promptsTable+` (agent_id, version, prompt_text, is_active, created_by, created_at)
		 VALUES ($1, $2, $3, false, 'system', now())
		 ON CONFLICT (agent_id, version) DO NOTHING`,
		agentID, helix.BaselineVersion, promptText,
	)
	if err != nil {
		return fmt.Errorf("ensure baseline prompt: %w", err)
	}
	return nil
}

// RollbackPromptTo atomically swaps the active prompt to an existing
// historical version. Selecting v0 leaves no row active (P1 holds
// vacuously).
func (s *PostgresStore) RollbackPromptTo(ctx context.Context, agentID, version string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rollback tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE `+promptsTable+` SET is_active = false WHERE agent_id = $1 AND is_active = true`,
		agentID,
	); err != nil {
		return fmt.Errorf("demote active prompt: %w", err)
	}

	if version != helix.BaselineVersion {
		ct, err := tx.Exec(ctx,
			`UPDATE `+promptsTable+` SET is_active = true WHERE agent_id = $1 AND version = $2`,
			agentID, version,
		)
		if err != nil {
			return fmt.Errorf("activate rollback version: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return helix.ErrNotFound
		}
	}

	return tx.Commit(ctx)
}

// PurgeInactivePrompts removes inactive prompt rows older than the
// retention policy, preserving v0 and the current active row (§4.10).
func (s *PostgresStore) PurgeInactivePrompts(ctx context.Context, agentID string, keepVersions int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+promptsTable+` WHERE agent_id = $1 AND is_active = false AND version != $2
		 AND version NOT IN (
			SELECT version FROM `+promptsTable+`
			WHERE agent_id = $1 AND is_active = false AND version != $2
			ORDER BY created_at DESC LIMIT $3
		 )`,
		agentID, helix.BaselineVersion, keepVersions,
	)
	if err != nil {
		return fmt.Errorf("purge inactive prompts: %w", err)
	}
	return nil
}

// CancelJob sets a Job's status to CANCELLED (§5).
func (s *PostgresStore) CancelJob(ctx context.Context, jobID string) error {
	return s.SetJobStatus(ctx, jobID, helix.JobCancelled, "")
}
