package helix

import "errors"

// Sentinel errors returned by Store implementations. Callers use
// errors.Is to distinguish these from infrastructure failures, which
// should instead be wrapped as helix/internal/errors.TransientError.
var (
	ErrNotFound        = errors.New("helix: not found")
	ErrNotClaimant     = errors.New("helix: caller is not the claiming owner")
	ErrNotInProgress   = errors.New("helix: task is not IN_PROGRESS")
	ErrMissingBaseline = errors.New("helix: agent has neither an active prompt nor a v0 baseline")
	ErrDuplicateArtifact = errors.New("helix: artifact already exists for (task_id, name)")
)
