package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"helix/internal/domain/helix"
)

// MemoryStore is an in-process, mutex-guarded helix.Store used for local
// development (no database required) and unit tests that don't need real
// transactional isolation. It is not safe across process boundaries and
// does not survive restarts — grounded on the teacher's file-backed
// single-process store, simplified to pure in-memory maps since HELIX's
// dev mode has no need to persist across restarts.
type MemoryStore struct {
	mu sync.Mutex

	jobs      map[string]*helix.Job
	tasks     map[string]*helix.Task
	artifacts map[string]*helix.Artifact
	events    []helix.SystemEvent
	prompts   map[string][]*helix.Prompt // agentID -> versions, insertion order

	// taskByJobAgent indexes the current (job, agent) task for idempotent
	// CreateTask, mirroring the UNIQUE (job_id, agent_id) constraint.
	taskByJobAgent map[[2]string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:           make(map[string]*helix.Job),
		tasks:          make(map[string]*helix.Task),
		artifacts:      make(map[string]*helix.Artifact),
		prompts:        make(map[string][]*helix.Prompt),
		taskByJobAgent: make(map[[2]string]string),
	}
}

// EnsureSchema is a no-op: the maps are always ready.
func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateJob(ctx context.Context, initialRequest []byte, firstAgentID string, params map[string]interface{}) (*helix.Job, *helix.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job := &helix.Job{
		JobID:          uuid.NewString(),
		InitialRequest: append([]byte(nil), initialRequest...),
		Status:         helix.JobPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.jobs[job.JobID] = job

	task := &helix.Task{
		TaskID:  uuid.Must(uuid.NewV7()).String(),
		JobID:   job.JobID,
		AgentID: firstAgentID,
		Status:  helix.TaskPending,
		InputData: helix.TaskInput{
			Params: params,
		},
	}
	s.tasks[task.TaskID] = task
	s.taskByJobAgent[[2]string{job.JobID, firstAgentID}] = task.TaskID

	return cloneJob(job), cloneTask(task), nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*helix.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, helix.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) SetJobStatus(ctx context.Context, jobID string, status helix.JobStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return helix.ErrNotFound
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	job.UpdatedAt = time.Now().UTC()
	if status.IsTerminal() {
		completedAt := job.UpdatedAt
		job.CompletedAt = &completedAt
	}
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*helix.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, helix.ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, jobID, agentID string, input helix.TaskInput) (*helix.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]string{jobID, agentID}
	if existingID, ok := s.taskByJobAgent[key]; ok {
		return cloneTask(s.tasks[existingID]), nil
	}

	task := &helix.Task{
		TaskID:    uuid.Must(uuid.NewV7()).String(),
		JobID:     jobID,
		AgentID:   agentID,
		Status:    helix.TaskPending,
		InputData: input,
	}
	s.tasks[task.TaskID] = task
	s.taskByJobAgent[key] = task.TaskID
	return cloneTask(task), nil
}

func (s *MemoryStore) ClaimTask(ctx context.Context, agentID, ownerID string) (*helix.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *helix.Task
	for _, t := range s.tasks {
		if t.AgentID != agentID || t.Status != helix.TaskPending {
			continue
		}
		if oldest == nil || taskOrderKey(t) < taskOrderKey(oldest) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	oldest.Status = helix.TaskInProgress
	oldest.ClaimOwner = ownerID
	oldest.AssignedAt = &now
	oldest.StartedAt = &now
	oldest.HeartbeatAt = &now
	return cloneTask(oldest), nil
}

// taskOrderKey approximates "created_at ASC, task_id ASC" using the
// TaskID string: task ids are time-ordered (UUIDv7) strings, since
// MemoryStore doesn't track CreatedAt on tasks separately from the
// embedded AssignedAt/StartedAt fields.
func taskOrderKey(t *helix.Task) string { return t.TaskID }

func (s *MemoryStore) Heartbeat(ctx context.Context, taskID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return helix.ErrNotFound
	}
	if task.Status != helix.TaskInProgress {
		return helix.ErrNotInProgress
	}
	if task.ClaimOwner != ownerID {
		return helix.ErrNotClaimant
	}
	now := time.Now().UTC()
	task.HeartbeatAt = &now
	return nil
}

func (s *MemoryStore) CompleteTask(ctx context.Context, taskID, ownerID, artifactName, schemaID string, payload []byte) (*helix.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, helix.ErrNotFound
	}
	if task.Status != helix.TaskInProgress {
		return nil, helix.ErrNotInProgress
	}
	if task.ClaimOwner != ownerID {
		return nil, helix.ErrNotClaimant
	}

	artifactKey := artifactMapKey(taskID, artifactName)
	if _, exists := s.artifacts[artifactKey]; exists {
		return nil, helix.ErrDuplicateArtifact
	}

	now := time.Now().UTC()
	artifact := &helix.Artifact{
		ArtifactID: uuid.NewString(),
		TaskID:     taskID,
		Name:       artifactName,
		SchemaID:   schemaID,
		Payload:    append([]byte(nil), payload...),
		CreatedAt:  now,
	}
	s.artifacts[artifactKey] = artifact

	task.Status = helix.TaskCompleted
	task.OutputData = append([]byte(nil), payload...)
	task.CompletedAt = &now

	return cloneArtifact(artifact), nil
}

func (s *MemoryStore) FailTask(ctx context.Context, taskID, ownerID, errorLog string, classification helix.FailureClass, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return helix.ErrNotFound
	}
	if task.Status != helix.TaskInProgress {
		return helix.ErrNotInProgress
	}
	if task.ClaimOwner != ownerID {
		return helix.ErrNotClaimant
	}

	task.ErrorLog = errorLog
	task.Classification = classification

	if task.RetryCount >= maxRetries || !classification.IsRetryable() {
		task.Status = helix.TaskFailed
		return nil
	}

	task.RetryCount++
	task.Status = helix.TaskPending
	task.ClaimOwner = ""
	task.StartedAt = nil
	task.HeartbeatAt = nil
	task.AssignedAt = nil
	return nil
}

func (s *MemoryStore) GetArtifact(ctx context.Context, sourceTaskID, name string) (*helix.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifact, ok := s.artifacts[artifactMapKey(sourceTaskID, name)]
	if !ok {
		return nil, helix.ErrNotFound
	}
	return cloneArtifact(artifact), nil
}

func (s *MemoryStore) GetArtifactsBatch(ctx context.Context, refs []helix.ArtifactRef) (map[helix.ArtifactRef]*helix.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[helix.ArtifactRef]*helix.Artifact, len(refs))
	for _, ref := range refs {
		artifact, ok := s.artifacts[artifactMapKey(ref.SourceTaskID, ref.Name)]
		if !ok {
			return nil, fmt.Errorf("%w: artifact %q from task %s", helix.ErrNotFound, ref.Name, ref.SourceTaskID)
		}
		out[ref] = cloneArtifact(artifact)
	}
	return out, nil
}

func (s *MemoryStore) LatestArtifactByName(ctx context.Context, jobID, name string) (*helix.ArtifactRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *helix.Artifact
	for _, a := range s.artifacts {
		if a.Name != name {
			continue
		}
		task, ok := s.tasks[a.TaskID]
		if !ok || task.JobID != jobID || task.Status != helix.TaskCompleted {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, helix.ErrNotFound
	}
	return &helix.ArtifactRef{Name: latest.Name, SourceTaskID: latest.TaskID}, nil
}

func (s *MemoryStore) ListTasksByJob(ctx context.Context, jobID string) ([]*helix.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*helix.Task
	for _, t := range s.tasks {
		if t.JobID == jobID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *MemoryStore) ListZombieTasks(ctx context.Context, olderThan int64) ([]*helix.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Unix(olderThan, 0).UTC()
	var out []*helix.Task
	for _, t := range s.tasks {
		if t.Status != helix.TaskInProgress {
			continue
		}
		// NULL-safe equivalent: a missing heartbeat is always a zombie.
		if t.HeartbeatAt == nil || t.HeartbeatAt.Before(cutoff) {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) RecoverZombie(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return helix.ErrNotFound
	}
	task.RetryCount++
	task.Status = helix.TaskPending
	task.ClaimOwner = ""
	task.StartedAt = nil
	task.HeartbeatAt = nil
	task.AssignedAt = nil
	return nil
}

func (s *MemoryStore) ResetTaskForRetry(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.Status != helix.TaskFailed {
		return helix.ErrNotFound
	}
	task.RetryCount++
	task.Status = helix.TaskPending
	task.ClaimOwner = ""
	task.StartedAt = nil
	task.HeartbeatAt = nil
	task.AssignedAt = nil
	task.ErrorLog = ""
	task.Classification = helix.ClassNone
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event helix.SystemEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, jobID string) ([]helix.SystemEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []helix.SystemEvent
	for _, e := range s.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountEventsByAgent(ctx context.Context, jobID, agentID string, kind helix.SystemEventKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ownerAgent = make(map[string]string)
	for _, t := range s.tasks {
		ownerAgent[t.TaskID] = t.AgentID
	}

	count := 0
	for _, e := range s.events {
		if e.JobID != jobID || e.Kind != kind {
			continue
		}
		if ownerAgent[e.TaskID] == agentID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) PurgeEventsOlderThan(ctx context.Context, unixSeconds int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Unix(unixSeconds, 0).UTC()
	kept := s.events[:0]
	var purged int64
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return purged, nil
}

func (s *MemoryStore) GetActivePrompt(ctx context.Context, agentID string) (*helix.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.prompts[agentID]
	var baseline *helix.Prompt
	for _, p := range versions {
		if p.IsActive {
			return clonePrompt(p), nil
		}
		if p.Version == helix.BaselineVersion {
			baseline = p
		}
	}
	if baseline != nil {
		return clonePrompt(baseline), nil
	}
	return nil, helix.ErrMissingBaseline
}

func (s *MemoryStore) InstallPrompt(ctx context.Context, agentID, promptText, author string) (*helix.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.prompts[agentID] {
		p.IsActive = false
	}

	prompt := &helix.Prompt{
		AgentID:    agentID,
		Version:    fmt.Sprintf("v%d-%s", time.Now().UTC().UnixMilli(), uuid.NewString()[:8]),
		PromptText: promptText,
		IsActive:   true,
		CreatedBy:  author,
		CreatedAt:  time.Now().UTC(),
	}
	s.prompts[agentID] = append(s.prompts[agentID], prompt)
	return clonePrompt(prompt), nil
}

func (s *MemoryStore) EnsureBaselinePrompt(ctx context.Context, agentID, promptText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.prompts[agentID] {
		if p.Version == helix.BaselineVersion {
			return nil
		}
	}
	s.prompts[agentID] = append(s.prompts[agentID], &helix.Prompt{
		AgentID:    agentID,
		Version:    helix.BaselineVersion,
		PromptText: promptText,
		IsActive:   false,
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) RollbackPromptTo(ctx context.Context, agentID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *helix.Prompt
	for _, p := range s.prompts[agentID] {
		if p.Version == version {
			target = p
		}
	}
	if target == nil {
		return helix.ErrNotFound
	}
	for _, p := range s.prompts[agentID] {
		p.IsActive = false
	}
	if version != helix.BaselineVersion {
		target.IsActive = true
	}
	return nil
}

func (s *MemoryStore) PurgeInactivePrompts(ctx context.Context, agentID string, keepVersions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.prompts[agentID]
	if len(versions) <= keepVersions {
		return nil
	}

	inactive := make([]*helix.Prompt, 0, len(versions))
	for _, p := range versions {
		if !p.IsActive && p.Version != helix.BaselineVersion {
			inactive = append(inactive, p)
		}
	}
	sort.Slice(inactive, func(i, j int) bool { return inactive[i].CreatedAt.Before(inactive[j].CreatedAt) })

	drop := len(inactive) - keepVersions
	if drop <= 0 {
		return nil
	}
	toDrop := make(map[string]bool, drop)
	for _, p := range inactive[:drop] {
		toDrop[p.Version] = true
	}

	kept := versions[:0]
	for _, p := range versions {
		if !toDrop[p.Version] {
			kept = append(kept, p)
		}
	}
	s.prompts[agentID] = kept
	return nil
}

func (s *MemoryStore) CancelJob(ctx context.Context, jobID string) error {
	return s.SetJobStatus(ctx, jobID, helix.JobCancelled, "cancelled by operator")
}

func artifactMapKey(taskID, name string) string { return taskID + "\x00" + name }

func cloneJob(j *helix.Job) *helix.Job {
	cp := *j
	return &cp
}

func cloneTask(t *helix.Task) *helix.Task {
	cp := *t
	return &cp
}

func cloneArtifact(a *helix.Artifact) *helix.Artifact {
	cp := *a
	cp.Payload = append([]byte(nil), a.Payload...)
	return &cp
}

func clonePrompt(p *helix.Prompt) *helix.Prompt {
	cp := *p
	return &cp
}

var _ helix.Store = (*MemoryStore)(nil)
