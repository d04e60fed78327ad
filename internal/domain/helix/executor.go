package helix

import (
	"context"
	"encoding/json"
)

// ExecutorErrorKind classifies an Agent Executor failure (§4.5).
type ExecutorErrorKind string

const (
	ExecutorRetryable    ExecutorErrorKind = "retryable"
	ExecutorNonRetryable ExecutorErrorKind = "non_retryable"
	ExecutorRateLimited  ExecutorErrorKind = "rate_limited"
)

// ExecutorError is returned by AgentExecutor.Execute on failure, carrying
// the classification the Worker needs to decide the next state.
type ExecutorError struct {
	Kind    ExecutorErrorKind
	Message string
}

func (e *ExecutorError) Error() string { return e.Message }

// InputMaterials bundles everything an AgentExecutor needs for one
// invocation: the resolved predecessor artifacts, the active prompt text,
// and any job-level params.
type InputMaterials struct {
	PromptText string
	Artifacts  map[ArtifactRef]*Artifact
	Params     map[string]interface{}
}

// AgentExecutor is the opaque, out-of-scope (§1, §4.5) per-agent-ID
// function: given input materials, it returns structured output or fails.
// Bounded-latency, possibly non-deterministic. HELIX's core only depends on
// this interface — implementations (the actual model calls) are supplied by
// the caller.
type AgentExecutor interface {
	Execute(ctx context.Context, agentID string, materials InputMaterials) (json.RawMessage, error)
}

// AgentExecutorFunc adapts a plain function to AgentExecutor.
type AgentExecutorFunc func(ctx context.Context, agentID string, materials InputMaterials) (json.RawMessage, error)

// Execute implements AgentExecutor.
func (f AgentExecutorFunc) Execute(ctx context.Context, agentID string, materials InputMaterials) (json.RawMessage, error) {
	return f(ctx, agentID, materials)
}
