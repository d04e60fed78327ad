// Package janitor implements the Janitor (C10): a periodic sweep that
// recovers zombie tasks, purges expired SystemEvents, and prunes
// inactive prompt versions (§4.10). Orphan artifacts cannot occur under
// invariants A1-A3 (every Artifact row is inserted in the same
// transaction that marks its owning Task COMPLETED), so the sweep has
// nothing to audit against — see DESIGN.md.
package janitor

import (
	"context"
	"time"

	"helix/internal/domain/helix"
	"helix/internal/logging"
	"helix/internal/observability"
)

// Config controls one Janitor instance.
type Config struct {
	// Interval between sweeps (config's janitor_interval_seconds).
	Interval time.Duration
	// ZombieThreshold is how stale an IN_PROGRESS task's heartbeat must
	// be before it is recovered.
	ZombieThreshold time.Duration
	// EventRetention is the SystemEvent TTL.
	EventRetention time.Duration
	// PromptRetentionVersions caps how many inactive prompt versions are
	// kept per agent, beyond v0 and the active row.
	PromptRetentionVersions int
	// Agents lists every agent_id in the Workflow Definition, so prompt
	// retention can be swept per agent (the Store has no
	// list-all-agents query of its own).
	Agents []string
}

// Janitor runs the periodic sweep described in §4.10 until its context
// is cancelled.
type Janitor struct {
	cfg     Config
	store   helix.Store
	metrics *observability.Metrics
	log     logging.Logger
}

// New constructs a Janitor. metrics may be nil to disable instrumentation.
func New(cfg Config, store helix.Store, metrics *observability.Metrics) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Janitor{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		log:     logging.NewComponentLogger(logging.ComponentLoggerConfig{ComponentName: "janitor"}),
	}
}

// Run blocks, sweeping at cfg.Interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// sweep runs one pass of all three duties, logging but not aborting on
// a duty's failure so one misbehaving step never starves the others.
func (j *Janitor) sweep(ctx context.Context) {
	recovered, err := j.recoverZombies(ctx)
	if err != nil {
		j.log.Error("zombie recovery sweep failed: %v", err)
	} else if recovered > 0 {
		j.log.Info("recovered %d zombie task(s)", recovered)
	}

	purged, err := j.purgeEvents(ctx)
	if err != nil {
		j.log.Error("event retention sweep failed: %v", err)
	} else if purged > 0 {
		j.log.Info("purged %d expired system event(s)", purged)
	}

	if err := j.purgePrompts(ctx); err != nil {
		j.log.Error("prompt retention sweep failed: %v", err)
	}
}

func (j *Janitor) recoverZombies(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.cfg.ZombieThreshold).Unix()
	zombies, err := j.store.ListZombieTasks(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, task := range zombies {
		if err := j.store.RecoverZombie(ctx, task.TaskID); err != nil {
			j.log.Warn("recover zombie task %s: %v", task.TaskID, err)
			continue
		}
		if j.metrics != nil {
			j.metrics.RecordZombieRecovered()
		}
		recovered++
	}
	return recovered, nil
}

func (j *Janitor) purgeEvents(ctx context.Context) (int64, error) {
	if j.cfg.EventRetention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-j.cfg.EventRetention).Unix()
	purged, err := j.store.PurgeEventsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if j.metrics != nil && purged > 0 {
		j.metrics.RecordEventsPurged(float64(purged))
	}
	return purged, nil
}

func (j *Janitor) purgePrompts(ctx context.Context) error {
	if j.cfg.PromptRetentionVersions < 1 {
		return nil
	}
	for _, agentID := range j.cfg.Agents {
		if err := j.store.PurgeInactivePrompts(ctx, agentID, j.cfg.PromptRetentionVersions); err != nil {
			j.log.Warn("purge inactive prompts for agent %s: %v", agentID, err)
		}
	}
	return nil
}
