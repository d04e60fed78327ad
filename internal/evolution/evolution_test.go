package evolution

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helix/internal/domain/helix"
	"helix/internal/infra/store"
)

type spyEscalator struct {
	completedCalls int
	failedCalls    int
}

func (s *spyEscalator) TaskCompleted(ctx context.Context, task *helix.Task) error {
	s.completedCalls++
	return nil
}

func (s *spyEscalator) TaskFailedTerminally(ctx context.Context, task *helix.Task) error {
	s.failedCalls++
	return nil
}

func newFailedTask(t *testing.T, s *store.MemoryStore) (*helix.Job, *helix.Task) {
	t.Helper()
	ctx := context.Background()
	job, task, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)

	claimed, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, claimed.TaskID, "owner", "boom", helix.ClassExecutorPermanent, 0))

	failed, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	return job, failed
}

func TestCoordinator_InstallsReplacementAndRetries(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, failedTask := newFailedTask(t, s)

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		proposal := helix.EvolutionProposal{AgentID: "researcher", PromptText: "try harder"}
		return json.Marshal(proposal)
	})

	inner := &spyEscalator{}
	coord := New(Config{MaxAttemptsPerJob: 2}, s, executor, inner, nil)

	require.NoError(t, coord.TaskFailedTerminally(ctx, failedTask))
	assert.Equal(t, 0, inner.failedCalls, "should not escalate while attempts remain")

	active, err := s.GetActivePrompt(ctx, "researcher")
	require.NoError(t, err)
	assert.Equal(t, "try harder", active.PromptText)

	tasks, err := s.ListTasksByJob(ctx, failedTask.JobID)
	require.NoError(t, err)
	var pending int
	for _, tsk := range tasks {
		if tsk.Status == helix.TaskPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending, "expected the failed task re-armed to pending")
}

func TestCoordinator_EscalatesWhenAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, failedTask := newFailedTask(t, s)

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		t.Fatal("executor should not be invoked once attempts are exhausted")
		return nil, nil
	})

	inner := &spyEscalator{}
	coord := New(Config{MaxAttemptsPerJob: 0}, s, executor, inner, nil)

	require.NoError(t, coord.TaskFailedTerminally(ctx, failedTask))
	assert.Equal(t, 1, inner.failedCalls)
}

func TestCoordinator_EscalatesWhenProposalFails(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, failedTask := newFailedTask(t, s)

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		return nil, assertError{}
	})

	inner := &spyEscalator{}
	coord := New(Config{MaxAttemptsPerJob: 3}, s, executor, inner, nil)

	require.NoError(t, coord.TaskFailedTerminally(ctx, failedTask))
	assert.Equal(t, 1, inner.failedCalls)
}

func TestCoordinator_SkipsEvolutionForOrchestrationFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	job, task, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)
	_ = job

	claimed, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, claimed.TaskID, "owner", "missing artifact", helix.ClassOrchestration, 0))

	failed, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		t.Fatal("evolution must not run for an orchestration failure")
		return nil, nil
	})

	inner := &spyEscalator{}
	coord := New(Config{MaxAttemptsPerJob: 3}, s, executor, inner, nil)

	require.NoError(t, coord.TaskFailedTerminally(ctx, failed))
	assert.Equal(t, 1, inner.failedCalls, "orchestration failures escalate directly, bypassing evolution")
}

func TestCoordinator_TaskCompletedPassesThrough(t *testing.T) {
	s := store.NewMemoryStore()
	inner := &spyEscalator{}
	coord := New(Config{}, s, nil, inner, nil)

	require.NoError(t, coord.TaskCompleted(context.Background(), &helix.Task{}))
	assert.Equal(t, 1, inner.completedCalls)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
