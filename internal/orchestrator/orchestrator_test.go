package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helix/internal/domain/helix"
	"helix/internal/infra/store"
	"helix/internal/workflow"
)

const twoStageDoc = `
agents:
  - agent_id: researcher
    input_artifacts: []
    output_artifact: research_report
    output_schema: research_report.v1
  - agent_id: writer
    input_artifacts: [research_report]
    output_artifact: draft
    output_schema: draft.v1
`

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.MemoryStore) {
	t.Helper()
	def, err := workflow.Parse([]byte(twoStageDoc))
	require.NoError(t, err)
	s := store.NewMemoryStore()
	return New(s, def, nil), s
}

func TestOrchestrator_SubmitJobCreatesFirstTask(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(t)

	job, task, err := o.SubmitJob(ctx, []byte(`{"q":"hi"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, helix.JobPending, job.Status)
	assert.Equal(t, "researcher", task.AgentID)
}

func TestOrchestrator_TaskCompletedCreatesSuccessor(t *testing.T) {
	ctx := context.Background()
	o, s := newTestOrchestrator(t)

	job, task, err := o.SubmitJob(ctx, []byte(`{}`), nil)
	require.NoError(t, err)

	claimed, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, claimed.TaskID, "owner", "research_report", "research_report.v1", []byte(`{"ok":true}`))
	require.NoError(t, err)

	completed, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.NoError(t, o.TaskCompleted(ctx, completed))

	tasks, err := s.ListTasksByJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var writerTask *helix.Task
	for _, tsk := range tasks {
		if tsk.AgentID == "writer" {
			writerTask = tsk
		}
	}
	require.NotNil(t, writerTask)
	require.Len(t, writerTask.InputData.Artifacts, 1)
	assert.Equal(t, "research_report", writerTask.InputData.Artifacts[0].Name)
}

func TestOrchestrator_TerminalTaskCompletesJob(t *testing.T) {
	ctx := context.Background()
	o, s := newTestOrchestrator(t)

	job, _, err := o.SubmitJob(ctx, []byte(`{}`), nil)
	require.NoError(t, err)

	researcherClaim, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, researcherClaim.TaskID, "owner", "research_report", "research_report.v1", []byte(`{}`))
	require.NoError(t, err)
	researcherTask, err := s.GetTask(ctx, researcherClaim.TaskID)
	require.NoError(t, err)
	require.NoError(t, o.TaskCompleted(ctx, researcherTask))

	writerClaim, err := s.ClaimTask(ctx, "writer", "owner")
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, writerClaim.TaskID, "owner", "draft", "draft.v1", []byte(`{}`))
	require.NoError(t, err)
	writerTask, err := s.GetTask(ctx, writerClaim.TaskID)
	require.NoError(t, err)
	require.NoError(t, o.TaskCompleted(ctx, writerTask))

	finalJob, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, helix.JobCompleted, finalJob.Status)
}

func TestOrchestrator_TaskFailedTerminallyMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	o, s := newTestOrchestrator(t)

	job, task, err := o.SubmitJob(ctx, []byte(`{}`), nil)
	require.NoError(t, err)

	claimed, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, claimed.TaskID, "owner", "boom", helix.ClassExecutorPermanent, 3))

	failedTask, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.NoError(t, o.TaskFailedTerminally(ctx, failedTask))

	finalJob, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, helix.JobFailed, finalJob.Status)
}
