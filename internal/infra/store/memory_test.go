package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helix/internal/domain/helix"
)

func TestMemoryStore_CreateJobAndClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job, task, err := s.CreateJob(ctx, []byte(`{"q":"hi"}`), "researcher", nil)
	require.NoError(t, err)
	assert.Equal(t, helix.JobPending, job.Status)
	assert.Equal(t, helix.TaskPending, task.Status)

	claimed, err := s.ClaimTask(ctx, "researcher", "owner-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, helix.TaskInProgress, claimed.Status)
	assert.Equal(t, "owner-1", claimed.ClaimOwner)

	again, err := s.ClaimTask(ctx, "researcher", "owner-2")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMemoryStore_ClaimTaskSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan *helix.Task, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			task, err := s.ClaimTask(ctx, "researcher", "owner")
			require.NoError(t, err)
			if task != nil {
				wins <- task
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one worker should win the claim")
}

func TestMemoryStore_CompleteTaskRejectsWrongOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, task, _ := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	claimed, err := s.ClaimTask(ctx, "researcher", "owner-1")
	require.NoError(t, err)

	_, err = s.CompleteTask(ctx, claimed.TaskID, "owner-2", "report", "schema-1", []byte(`{}`))
	assert.ErrorIs(t, err, helix.ErrNotClaimant)

	artifact, err := s.CompleteTask(ctx, claimed.TaskID, "owner-1", "report", "schema-1", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "report", artifact.Name)

	got, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, helix.TaskCompleted, got.Status)
}

func TestMemoryStore_FailTaskRetriesThenTerminates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, task, _ := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)

	for i := 0; i < 2; i++ {
		claimed, err := s.ClaimTask(ctx, "researcher", "owner")
		require.NoError(t, err)
		require.NotNil(t, claimed)

		err = s.FailTask(ctx, claimed.TaskID, "owner", "boom", helix.ClassExecutorTransient, 2)
		require.NoError(t, err)
	}

	claimed, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	err = s.FailTask(ctx, claimed.TaskID, "owner", "boom again", helix.ClassExecutorTransient, 2)
	require.NoError(t, err)

	final, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, helix.TaskFailed, final.Status)
	assert.Equal(t, 2, final.RetryCount)
}

func TestMemoryStore_ResetTaskForRetryReArmsFailedTask(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, task, _ := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)

	claimed, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, claimed.TaskID, "owner", "boom", helix.ClassExecutorPermanent, 0))

	failed, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, helix.TaskFailed, failed.Status)

	require.NoError(t, s.ResetTaskForRetry(ctx, task.TaskID))

	reset, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, helix.TaskPending, reset.Status)
	assert.Equal(t, 1, reset.RetryCount)
	assert.Equal(t, helix.ClassNone, reset.Classification)
	assert.Empty(t, reset.ClaimOwner)
	assert.Nil(t, reset.HeartbeatAt)

	// Re-claimable once reset.
	reclaimed, err := s.ClaimTask(ctx, "researcher", "owner-2")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, task.TaskID, reclaimed.TaskID)
}

func TestMemoryStore_ResetTaskForRetryRejectsNonFailedTask(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, task, _ := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)

	err := s.ResetTaskForRetry(ctx, task.TaskID)
	assert.ErrorIs(t, err, helix.ErrNotFound, "a PENDING task has no terminal failure to re-arm")
}

func TestMemoryStore_ListZombieTasksIsNullSafe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	claimed, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)

	// force a nil heartbeat to exercise the NULL-safe predicate
	s.mu.Lock()
	s.tasks[claimed.TaskID].HeartbeatAt = nil
	s.mu.Unlock()

	zombies, err := s.ListZombieTasks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, zombies, 1)
	assert.Equal(t, claimed.TaskID, zombies[0].TaskID)
}

func TestMemoryStore_PromptLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetActivePrompt(ctx, "researcher")
	assert.ErrorIs(t, err, helix.ErrMissingBaseline)

	require.NoError(t, s.EnsureBaselinePrompt(ctx, "researcher", "baseline prompt"))
	active, err := s.GetActivePrompt(ctx, "researcher")
	require.NoError(t, err)
	assert.Equal(t, helix.BaselineVersion, active.Version)

	installed, err := s.InstallPrompt(ctx, "researcher", "better prompt", "evolution")
	require.NoError(t, err)
	assert.True(t, installed.IsActive)

	active, err = s.GetActivePrompt(ctx, "researcher")
	require.NoError(t, err)
	assert.Equal(t, installed.Version, active.Version)

	require.NoError(t, s.RollbackPromptTo(ctx, "researcher", helix.BaselineVersion))
	active, err = s.GetActivePrompt(ctx, "researcher")
	require.NoError(t, err)
	assert.Equal(t, helix.BaselineVersion, active.Version)
}

func TestMemoryStore_CreateTaskIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job, _, _ := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)

	first, err := s.CreateTask(ctx, job.JobID, "writer", helix.TaskInput{})
	require.NoError(t, err)
	second, err := s.CreateTask(ctx, job.JobID, "writer", helix.TaskInput{})
	require.NoError(t, err)

	assert.Equal(t, first.TaskID, second.TaskID)
}
