package worker

import (
	"fmt"
	"sync"
	"time"

	"helix/internal/logging"
)

// Phase is an Agent Worker's execution stage while holding one claimed
// task (§5): Idle -> Claiming -> Gathering -> Prompting -> Executing ->
// Validating -> Committing -> Idle, with Failing reachable from any
// working phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseClaiming   Phase = "claiming"
	PhaseGathering  Phase = "gathering"
	PhasePrompting  Phase = "prompting"
	PhaseExecuting  Phase = "executing"
	PhaseValidating Phase = "validating"
	PhaseCommitting Phase = "committing"
	PhaseFailing    Phase = "failing"
)

// ProgressSnapshot captures a consistent view of a worker's current task
// for logging and introspection.
type ProgressSnapshot struct {
	TaskID      string
	AgentID     string
	Phase       Phase
	Err         string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Progress tracks the single in-flight task a Worker holds. It is
// mutex-guarded since heartbeat, timeout, and processing goroutines all
// read it concurrently.
type Progress struct {
	mu          sync.RWMutex
	agentID     string
	taskID      string
	phase       Phase
	err         error
	startedAt   time.Time
	completedAt time.Time
	log         logging.Logger
}

// NewProgress returns a Progress tracker starting at PhaseIdle.
func NewProgress(agentID string, log logging.Logger) *Progress {
	return &Progress{agentID: agentID, phase: PhaseIdle, log: log}
}

// Snapshot returns the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// Begin starts tracking taskID, transitioning from Idle to Claiming.
func (p *Progress) Begin(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taskID = taskID
	p.phase = PhaseClaiming
	p.err = nil
	p.startedAt = time.Now()
	p.completedAt = time.Time{}
}

// Advance moves to the next phase. It does not validate the transition
// graph strictly — a Worker's own code is the only caller, and the
// sequence is fixed by Worker.processTask — but it does reject advancing
// past a terminal phase, which would indicate a bug in the caller.
func (p *Progress) Advance(phase Phase) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase == PhaseIdle {
		return fmt.Errorf("progress: cannot advance to %s before Begin", phase)
	}
	if p.phase == PhaseCommitting && phase != PhaseIdle {
		return fmt.Errorf("progress: task %s already committing, cannot advance to %s", p.taskID, phase)
	}

	p.phase = phase
	if p.log != nil {
		p.log.Debug("task %s agent %s entering phase %s", p.taskID, p.agentID, phase)
	}
	return nil
}

// Finish marks the current task done (successfully or not) and resets to
// Idle for the next claim.
func (p *Progress) Finish(err error) ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completedAt = time.Now()
	p.err = err
	if err != nil {
		p.phase = PhaseFailing
	}
	snapshot := p.snapshotLocked()

	p.phase = PhaseIdle
	p.taskID = ""
	p.err = nil
	p.startedAt = time.Time{}
	p.completedAt = time.Time{}

	return snapshot
}

func (p *Progress) snapshotLocked() ProgressSnapshot {
	snap := ProgressSnapshot{
		TaskID:      p.taskID,
		AgentID:     p.agentID,
		Phase:       p.phase,
		StartedAt:   p.startedAt,
		CompletedAt: p.completedAt,
	}
	if p.err != nil {
		snap.Err = p.err.Error()
	}
	if !snap.StartedAt.IsZero() {
		end := snap.CompletedAt
		if end.IsZero() {
			end = time.Now()
		}
		snap.Duration = end.Sub(snap.StartedAt)
	}
	return snap
}
