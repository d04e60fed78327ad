package store

import (
	"context"

	"helix/internal/domain/helix"
	helixerrors "helix/internal/errors"
)

// BreakerStore wraps a Store so every call runs through a shared
// CircuitBreaker (§A.3's "wraps State Store calls"): a downed Postgres
// instance trips the breaker open after FailureThreshold consecutive
// failures instead of letting every Worker, the Orchestrator, the
// Evolution Coordinator, and the Janitor each queue their own timeouts
// against it. One BreakerStore is built in cmd/helix and shared by every
// component so they all observe the same open/closed state.
type BreakerStore struct {
	inner   helix.Store
	breaker *helixerrors.CircuitBreaker
}

// NewBreakerStore wraps inner with breaker. cmd/helix builds breaker with
// helixerrors.NewCircuitBreaker and hands the one resulting BreakerStore
// to every component, so they all observe one state.
func NewBreakerStore(inner helix.Store, breaker *helixerrors.CircuitBreaker) *BreakerStore {
	return &BreakerStore{inner: inner, breaker: breaker}
}

// EnsureSchema is not breaker-wrapped: it runs once at startup/migration,
// outside the hot request path the breaker protects.
func (s *BreakerStore) EnsureSchema(ctx context.Context) error {
	return s.inner.EnsureSchema(ctx)
}

func (s *BreakerStore) CreateJob(ctx context.Context, initialRequest []byte, firstAgentID string, params map[string]interface{}) (*helix.Job, *helix.Task, error) {
	type result struct {
		job  *helix.Job
		task *helix.Task
	}
	r, err := helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (result, error) {
		job, task, err := s.inner.CreateJob(ctx, initialRequest, firstAgentID, params)
		return result{job, task}, err
	})
	return r.job, r.task, err
}

func (s *BreakerStore) GetJob(ctx context.Context, jobID string) (*helix.Job, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.Job, error) {
		return s.inner.GetJob(ctx, jobID)
	})
}

func (s *BreakerStore) SetJobStatus(ctx context.Context, jobID string, status helix.JobStatus, errorMessage string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.SetJobStatus(ctx, jobID, status, errorMessage)
	})
}

func (s *BreakerStore) GetTask(ctx context.Context, taskID string) (*helix.Task, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.Task, error) {
		return s.inner.GetTask(ctx, taskID)
	})
}

func (s *BreakerStore) CreateTask(ctx context.Context, jobID, agentID string, input helix.TaskInput) (*helix.Task, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.Task, error) {
		return s.inner.CreateTask(ctx, jobID, agentID, input)
	})
}

func (s *BreakerStore) ClaimTask(ctx context.Context, agentID, ownerID string) (*helix.Task, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.Task, error) {
		return s.inner.ClaimTask(ctx, agentID, ownerID)
	})
}

func (s *BreakerStore) Heartbeat(ctx context.Context, taskID, ownerID string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.Heartbeat(ctx, taskID, ownerID)
	})
}

func (s *BreakerStore) CompleteTask(ctx context.Context, taskID, ownerID, artifactName, schemaID string, payload []byte) (*helix.Artifact, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.Artifact, error) {
		return s.inner.CompleteTask(ctx, taskID, ownerID, artifactName, schemaID, payload)
	})
}

func (s *BreakerStore) FailTask(ctx context.Context, taskID, ownerID, errorLog string, classification helix.FailureClass, maxRetries int) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.FailTask(ctx, taskID, ownerID, errorLog, classification, maxRetries)
	})
}

func (s *BreakerStore) GetArtifact(ctx context.Context, sourceTaskID, name string) (*helix.Artifact, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.Artifact, error) {
		return s.inner.GetArtifact(ctx, sourceTaskID, name)
	})
}

func (s *BreakerStore) GetArtifactsBatch(ctx context.Context, refs []helix.ArtifactRef) (map[helix.ArtifactRef]*helix.Artifact, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (map[helix.ArtifactRef]*helix.Artifact, error) {
		return s.inner.GetArtifactsBatch(ctx, refs)
	})
}

func (s *BreakerStore) LatestArtifactByName(ctx context.Context, jobID, name string) (*helix.ArtifactRef, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.ArtifactRef, error) {
		return s.inner.LatestArtifactByName(ctx, jobID, name)
	})
}

func (s *BreakerStore) ListTasksByJob(ctx context.Context, jobID string) ([]*helix.Task, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) ([]*helix.Task, error) {
		return s.inner.ListTasksByJob(ctx, jobID)
	})
}

func (s *BreakerStore) ListZombieTasks(ctx context.Context, olderThan int64) ([]*helix.Task, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) ([]*helix.Task, error) {
		return s.inner.ListZombieTasks(ctx, olderThan)
	})
}

func (s *BreakerStore) RecoverZombie(ctx context.Context, taskID string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.RecoverZombie(ctx, taskID)
	})
}

func (s *BreakerStore) ResetTaskForRetry(ctx context.Context, taskID string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.ResetTaskForRetry(ctx, taskID)
	})
}

func (s *BreakerStore) AppendEvent(ctx context.Context, event helix.SystemEvent) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.AppendEvent(ctx, event)
	})
}

func (s *BreakerStore) ListEvents(ctx context.Context, jobID string) ([]helix.SystemEvent, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) ([]helix.SystemEvent, error) {
		return s.inner.ListEvents(ctx, jobID)
	})
}

func (s *BreakerStore) CountEventsByAgent(ctx context.Context, jobID, agentID string, kind helix.SystemEventKind) (int, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (int, error) {
		return s.inner.CountEventsByAgent(ctx, jobID, agentID, kind)
	})
}

func (s *BreakerStore) PurgeEventsOlderThan(ctx context.Context, unixSeconds int64) (int64, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (int64, error) {
		return s.inner.PurgeEventsOlderThan(ctx, unixSeconds)
	})
}

func (s *BreakerStore) GetActivePrompt(ctx context.Context, agentID string) (*helix.Prompt, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.Prompt, error) {
		return s.inner.GetActivePrompt(ctx, agentID)
	})
}

func (s *BreakerStore) InstallPrompt(ctx context.Context, agentID, promptText, author string) (*helix.Prompt, error) {
	return helixerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) (*helix.Prompt, error) {
		return s.inner.InstallPrompt(ctx, agentID, promptText, author)
	})
}

func (s *BreakerStore) EnsureBaselinePrompt(ctx context.Context, agentID, promptText string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.EnsureBaselinePrompt(ctx, agentID, promptText)
	})
}

func (s *BreakerStore) RollbackPromptTo(ctx context.Context, agentID, version string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.RollbackPromptTo(ctx, agentID, version)
	})
}

func (s *BreakerStore) PurgeInactivePrompts(ctx context.Context, agentID string, keepVersions int) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.PurgeInactivePrompts(ctx, agentID, keepVersions)
	})
}

func (s *BreakerStore) CancelJob(ctx context.Context, jobID string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.CancelJob(ctx, jobID)
	})
}
