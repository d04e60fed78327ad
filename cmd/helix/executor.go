package main

import (
	"context"
	"encoding/json"

	"helix/internal/domain/helix"
)

// unconfiguredExecutor is the default AgentExecutor: HELIX's core treats
// the Agent Executor as an opaque per-agent-ID call (spec.md §4.5); the
// actual model invocation is explicitly out of scope and must be
// supplied by the operator. This placeholder fails every task
// non-retryably so a misconfigured deployment surfaces immediately
// instead of silently retrying forever.
type unconfiguredExecutor struct{}

func (unconfiguredExecutor) Execute(ctx context.Context, agentID string, materials helix.InputMaterials) (json.RawMessage, error) {
	return nil, &helix.ExecutorError{
		Kind:    helix.ExecutorNonRetryable,
		Message: "no agent executor configured for agent_id " + agentID,
	}
}
