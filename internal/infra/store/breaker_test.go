package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helix/internal/domain/helix"
	helixerrors "helix/internal/errors"
)

// failingGetJobStore always fails GetJob and defers everything else to a
// real MemoryStore, so BreakerStore's trip behavior can be exercised
// against one method without a full mock of the Store interface.
type failingGetJobStore struct {
	*MemoryStore
}

func (failingGetJobStore) GetJob(ctx context.Context, jobID string) (*helix.Job, error) {
	return nil, errors.New("connection refused")
}

func TestBreakerStore_TripsOpenAfterThresholdThenRecovers(t *testing.T) {
	ctx := context.Background()
	inner := failingGetJobStore{MemoryStore: NewMemoryStore()}
	breaker := helixerrors.NewCircuitBreaker("test-state-store", helixerrors.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})
	bs := NewBreakerStore(inner, breaker)

	_, err := bs.GetJob(ctx, "job-1")
	require.Error(t, err)
	_, err = bs.GetJob(ctx, "job-1")
	require.Error(t, err)

	var degraded *helixerrors.DegradedError
	_, err = bs.GetJob(ctx, "job-1")
	require.Error(t, err)
	assert.ErrorAs(t, err, &degraded, "breaker should reject with a degraded error once open, without calling inner again")

	time.Sleep(15 * time.Millisecond)

	job, _, err := bs.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err, "half-open probe on an unrelated method should be allowed through")
	assert.NotEmpty(t, job.JobID)
}

func TestBreakerStore_PassesThroughOnSuccess(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	breaker := helixerrors.NewCircuitBreaker("test-state-store-2", helixerrors.DefaultCircuitBreakerConfig())
	bs := NewBreakerStore(inner, breaker)

	job, task, err := bs.CreateJob(ctx, []byte(`{"x":1}`), "researcher", nil)
	require.NoError(t, err)
	assert.Equal(t, "researcher", task.AgentID)

	got, err := bs.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
}
