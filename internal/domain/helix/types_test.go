package helix

import "testing"

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobCompleted, JobFailed, JobCancelled, JobArchived}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []JobStatus{JobPending, JobInProgress}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	if !TaskCompleted.IsTerminal() || !TaskFailed.IsTerminal() {
		t.Fatal("COMPLETED and FAILED must be terminal")
	}
	if TaskPending.IsTerminal() || TaskInProgress.IsTerminal() {
		t.Fatal("PENDING and IN_PROGRESS must not be terminal")
	}
}

func TestFailureClass_IsRetryable(t *testing.T) {
	cases := map[FailureClass]bool{
		ClassValidation:        true,
		ClassExecutorTransient: true,
		ClassInfrastructure:    true,
		ClassZombie:            true,
		ClassExecutorPermanent: false,
		ClassOrchestration:     false,
	}
	for class, want := range cases {
		if got := class.IsRetryable(); got != want {
			t.Errorf("%s.IsRetryable() = %v, want %v", class, got, want)
		}
	}
}
