package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helix/internal/domain/helix"
	"helix/internal/infra/store"
)

type fakeOutputs struct {
	schemaID string
}

func (f fakeOutputs) OutputSchemaID(agentID string) (string, error) { return f.schemaID, nil }
func (f fakeOutputs) ArtifactName(agentID string) string            { return agentID + ".output" }

type fakeSchemaValidator struct {
	shouldFail bool
}

func (f fakeSchemaValidator) Validate(schemaID string, payload []byte) error {
	if f.shouldFail {
		return assertError{}
	}
	return nil
}

type fakeEscalator struct {
	completedCalls int
	failedCalls    int
}

func (f *fakeEscalator) TaskCompleted(ctx context.Context, task *helix.Task) error {
	f.completedCalls++
	return nil
}

func (f *fakeEscalator) TaskFailedTerminally(ctx context.Context, task *helix.Task) error {
	f.failedCalls++
	return nil
}

func TestWorker_ClaimAndProcessSuccess(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	job, _, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureBaselinePrompt(ctx, "researcher", "baseline"))

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		return json.RawMessage(`{"summary":"done"}`), nil
	})

	escalator := &fakeEscalator{}
	w := New(Config{
		AgentID:           "researcher",
		OwnerID:           "owner-1",
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 0,
		Timeout:           time.Second,
		MaxRetries:        2,
	}, s, executor, fakeSchemaValidator{}, fakeOutputs{schemaID: "report.v1"}, nil, escalator)

	require.NoError(t, w.claimAndProcess(ctx))

	tasks, err := s.ListTasksByJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, helix.TaskCompleted, tasks[0].Status)
	assert.Equal(t, 1, escalator.completedCalls)
}

func TestWorker_ExecutorFailureRetriesTask(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	job, _, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureBaselinePrompt(ctx, "researcher", "baseline"))

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		return nil, &helix.ExecutorError{Kind: helix.ExecutorRetryable, Message: "rate limited"}
	})

	w := New(Config{
		AgentID:      "researcher",
		OwnerID:      "owner-1",
		PollInterval: 10 * time.Millisecond,
		Timeout:      time.Second,
		MaxRetries:   2,
	}, s, executor, fakeSchemaValidator{}, fakeOutputs{schemaID: "report.v1"}, nil, nil)

	require.NoError(t, w.claimAndProcess(ctx))

	tasks, err := s.ListTasksByJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, helix.TaskPending, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].RetryCount)
}

func TestWorker_ValidationFailureMarksClassValidation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	job, _, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureBaselinePrompt(ctx, "researcher", "baseline"))

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	escalator := &fakeEscalator{}
	w := New(Config{
		AgentID:      "researcher",
		OwnerID:      "owner-1",
		PollInterval: 10 * time.Millisecond,
		Timeout:      time.Second,
		MaxRetries:   0,
	}, s, executor, fakeSchemaValidator{shouldFail: true}, fakeOutputs{schemaID: "report.v1"}, nil, escalator)

	require.NoError(t, w.claimAndProcess(ctx))

	tasks, err := s.ListTasksByJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, helix.ClassValidation, tasks[0].Classification)
	assert.Equal(t, helix.TaskFailed, tasks[0].Status)
	assert.Equal(t, 1, escalator.failedCalls)
}

func TestWorker_MissingBaselinePromptFailsAsOrchestrationNotInfrastructure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	job, _, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)
	// deliberately no EnsureBaselinePrompt call: gather() must fail.

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		t.Fatal("executor should not run when gather() fails")
		return nil, nil
	})

	escalator := &fakeEscalator{}
	w := New(Config{
		AgentID:      "researcher",
		OwnerID:      "owner-1",
		PollInterval: 10 * time.Millisecond,
		Timeout:      time.Second,
		MaxRetries:   3,
	}, s, executor, fakeSchemaValidator{}, fakeOutputs{schemaID: "report.v1"}, nil, escalator)

	require.NoError(t, w.claimAndProcess(ctx))

	tasks, err := s.ListTasksByJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, helix.ClassOrchestration, tasks[0].Classification)
	assert.Equal(t, helix.TaskFailed, tasks[0].Status, "orchestration errors are non-retryable even with retries remaining")
	assert.Equal(t, 1, escalator.failedCalls)
}

func TestWorker_NoPendingTaskIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	executor := helix.AgentExecutorFunc(func(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
		t.Fatal("executor should not be called when no task is pending")
		return nil, nil
	})

	w := New(Config{AgentID: "researcher", OwnerID: "owner-1", Timeout: time.Second}, s, executor, fakeSchemaValidator{}, fakeOutputs{}, nil, nil)
	assert.NoError(t, w.claimAndProcess(ctx))
}
