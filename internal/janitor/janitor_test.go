package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helix/internal/domain/helix"
	"helix/internal/infra/store"
)

func TestJanitor_RecoversZombieTasks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, task, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)

	claimed, err := s.ClaimTask(ctx, "researcher", "owner")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Simulate a worker that died right after claiming: a negative
	// ZombieThreshold puts the cutoff an hour ahead, so the heartbeat
	// stamped at claim time is always older than it.
	j := New(Config{Interval: time.Hour, ZombieThreshold: -time.Hour}, s, nil)
	j.sweep(ctx)

	reloaded, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, helix.TaskPending, reloaded.Status)
	assert.Equal(t, 1, reloaded.RetryCount)
}

func TestJanitor_PurgesExpiredEvents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, task, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(ctx, helix.SystemEvent{JobID: task.JobID, TaskID: task.TaskID, Kind: helix.EventTaskClaimed}))

	j := New(Config{Interval: time.Hour, EventRetention: -time.Hour}, s, nil)
	j.sweep(ctx)

	events, err := s.ListEvents(ctx, task.JobID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJanitor_SkipsEventPurgeWhenRetentionDisabled(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, task, err := s.CreateJob(ctx, []byte(`{}`), "researcher", nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, helix.SystemEvent{JobID: task.JobID, TaskID: task.TaskID, Kind: helix.EventTaskClaimed}))

	j := New(Config{Interval: time.Hour}, s, nil)
	purged, err := j.purgeEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	events, err := s.ListEvents(ctx, task.JobID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestJanitor_PurgesInactivePromptVersionsAcrossAgents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.EnsureBaselinePrompt(ctx, "researcher", "baseline"))

	var versions []string
	for i := 0; i < 5; i++ {
		p, err := s.InstallPrompt(ctx, "researcher", "v", "evolution")
		require.NoError(t, err)
		versions = append(versions, p.Version)
	}

	j := New(Config{Interval: time.Hour, PromptRetentionVersions: 1, Agents: []string{"researcher"}}, s, nil)
	require.NoError(t, j.purgePrompts(ctx))

	// Four inactive non-v0 versions with keep=1: the oldest three are gone,
	// the newest inactive one survives.
	assert.ErrorIs(t, s.RollbackPromptTo(ctx, "researcher", versions[0]), helix.ErrNotFound)
	assert.NoError(t, s.RollbackPromptTo(ctx, "researcher", versions[3]))
}
