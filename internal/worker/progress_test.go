package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_Lifecycle(t *testing.T) {
	p := NewProgress("researcher", nil)

	snap := p.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)

	p.Begin("task-1")
	snap = p.Snapshot()
	assert.Equal(t, PhaseClaiming, snap.Phase)
	assert.Equal(t, "task-1", snap.TaskID)
	assert.False(t, snap.StartedAt.IsZero())

	require.NoError(t, p.Advance(PhaseGathering))
	require.NoError(t, p.Advance(PhaseExecuting))
	require.NoError(t, p.Advance(PhaseCommitting))

	final := p.Finish(nil)
	assert.Equal(t, PhaseCommitting, final.Phase)
	assert.False(t, final.CompletedAt.IsZero())

	assert.Equal(t, PhaseIdle, p.Snapshot().Phase)
}

func TestProgress_AdvanceBeforeBeginFails(t *testing.T) {
	p := NewProgress("researcher", nil)
	err := p.Advance(PhaseGathering)
	assert.Error(t, err)
}

func TestProgress_FinishWithErrorRecordsIt(t *testing.T) {
	p := NewProgress("researcher", nil)
	p.Begin("task-1")

	final := p.Finish(assertError{})
	assert.Equal(t, "boom", final.Err)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
