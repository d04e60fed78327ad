// Package workflow loads the Workflow Definition (C3): a declarative,
// ordered list of agent steps with their required input artifacts and
// declared output, and the derived next_agent/required_input_artifacts
// maps the Orchestrator and Agent Worker consult (§4.3).
package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentStep is one stage of the pipeline: an agent_id, the artifact
// names it expects from predecessors, and the single artifact/schema it
// must produce.
type AgentStep struct {
	AgentID         string   `yaml:"agent_id"`
	InputArtifacts  []string `yaml:"input_artifacts"`
	OutputArtifact  string   `yaml:"output_artifact"`
	OutputSchema    string   `yaml:"output_schema"`
	RetryCount      *int     `yaml:"retry_count,omitempty"`
	TimeoutSeconds  *int     `yaml:"timeout_seconds,omitempty"`
}

// document is the raw YAML shape.
type document struct {
	Version string      `yaml:"version"`
	Agents  []AgentStep `yaml:"agents"`
}

// Definition is the parsed, validated workflow: an ordered agent chain
// plus the next_agent and required_input_artifacts maps derived from it
// (§4.3).
type Definition struct {
	Version string
	steps   []AgentStep
	byAgent map[string]AgentStep
	next    map[string]string // agent_id -> next agent_id; absent key means terminal
}

// Load reads and parses a Workflow Definition document from path.
func Load(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse validates and builds a Definition from a YAML document.
func Parse(raw []byte) (*Definition, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("workflow: parse document: %w", err)
	}
	if len(doc.Agents) == 0 {
		return nil, fmt.Errorf("workflow: document declares no agents")
	}

	byAgent := make(map[string]AgentStep, len(doc.Agents))
	next := make(map[string]string, len(doc.Agents))

	for i, step := range doc.Agents {
		if step.AgentID == "" {
			return nil, fmt.Errorf("workflow: agent at position %d has no agent_id", i)
		}
		if _, dup := byAgent[step.AgentID]; dup {
			return nil, fmt.Errorf("workflow: duplicate agent_id %q", step.AgentID)
		}
		if step.OutputArtifact == "" {
			return nil, fmt.Errorf("workflow: agent %q declares no output_artifact", step.AgentID)
		}
		if step.OutputSchema == "" {
			return nil, fmt.Errorf("workflow: agent %q declares no output_schema", step.AgentID)
		}
		byAgent[step.AgentID] = step
		if i+1 < len(doc.Agents) {
			next[step.AgentID] = doc.Agents[i+1].AgentID
		}
	}

	return &Definition{
		Version: doc.Version,
		steps:   doc.Agents,
		byAgent: byAgent,
		next:    next,
	}, nil
}

// FirstAgent returns the entry point of the pipeline, used by the
// Orchestrator to create a Job's first Task.
func (d *Definition) FirstAgent() string {
	if len(d.steps) == 0 {
		return ""
	}
	return d.steps[0].AgentID
}

// NextAgent returns the agent that follows agentID, and false if
// agentID is the terminal agent or unknown.
func (d *Definition) NextAgent(agentID string) (string, bool) {
	next, ok := d.next[agentID]
	return next, ok
}

// IsTerminal reports whether agentID is the last step of the pipeline.
func (d *Definition) IsTerminal(agentID string) bool {
	_, hasNext := d.next[agentID]
	_, known := d.byAgent[agentID]
	return known && !hasNext
}

// RequiredInputArtifacts returns the artifact names agentID expects from
// its predecessors, in declared order.
func (d *Definition) RequiredInputArtifacts(agentID string) []string {
	return append([]string(nil), d.byAgent[agentID].InputArtifacts...)
}

// ArtifactName returns the output artifact name agentID must produce.
// Implements worker.OutputSchemaResolver.
func (d *Definition) ArtifactName(agentID string) string {
	return d.byAgent[agentID].OutputArtifact
}

// OutputSchemaID returns the schema_id agentID's output must validate
// against. Implements worker.OutputSchemaResolver.
func (d *Definition) OutputSchemaID(agentID string) (string, error) {
	step, ok := d.byAgent[agentID]
	if !ok {
		return "", fmt.Errorf("workflow: unknown agent_id %q", agentID)
	}
	return step.OutputSchema, nil
}

// RetryCount returns agentID's retry_count override, or fallback if none
// was declared.
func (d *Definition) RetryCount(agentID string, fallback int) int {
	if step, ok := d.byAgent[agentID]; ok && step.RetryCount != nil {
		return *step.RetryCount
	}
	return fallback
}

// Timeout returns agentID's timeout_seconds override as a Duration, or
// fallback if none was declared.
func (d *Definition) Timeout(agentID string, fallback time.Duration) time.Duration {
	if step, ok := d.byAgent[agentID]; ok && step.TimeoutSeconds != nil {
		return time.Duration(*step.TimeoutSeconds) * time.Second
	}
	return fallback
}

// Agents returns every step in pipeline order.
func (d *Definition) Agents() []AgentStep {
	return append([]AgentStep(nil), d.steps...)
}

// Step returns the declared step for agentID, or false if unknown.
func (d *Definition) Step(agentID string) (AgentStep, bool) {
	step, ok := d.byAgent[agentID]
	return step, ok
}
