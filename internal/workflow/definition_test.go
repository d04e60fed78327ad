package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
version: "1"
agents:
  - agent_id: researcher
    input_artifacts: []
    output_artifact: research_report
    output_schema: research_report.v1
  - agent_id: writer
    input_artifacts: [research_report]
    output_artifact: draft
    output_schema: draft.v1
    retry_count: 5
    timeout_seconds: 600
  - agent_id: editor
    input_artifacts: [draft]
    output_artifact: final
    output_schema: final.v1
`

func TestParse_BuildsDerivedMaps(t *testing.T) {
	def, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "researcher", def.FirstAgent())

	next, ok := def.NextAgent("researcher")
	require.True(t, ok)
	assert.Equal(t, "writer", next)

	next, ok = def.NextAgent("writer")
	require.True(t, ok)
	assert.Equal(t, "editor", next)

	_, ok = def.NextAgent("editor")
	assert.False(t, ok)
	assert.True(t, def.IsTerminal("editor"))
	assert.False(t, def.IsTerminal("researcher"))

	assert.Equal(t, []string{"draft"}, def.RequiredInputArtifacts("editor"))
	assert.Empty(t, def.RequiredInputArtifacts("researcher"))
}

func TestParse_OverridesAndDefaults(t *testing.T) {
	def, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, 5, def.RetryCount("writer", 3))
	assert.Equal(t, 3, def.RetryCount("researcher", 3))

	assert.Equal(t, 600*time.Second, def.Timeout("writer", 300*time.Second))
	assert.Equal(t, 300*time.Second, def.Timeout("researcher", 300*time.Second))
}

func TestParse_ArtifactNameAndSchemaID(t *testing.T) {
	def, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "research_report", def.ArtifactName("researcher"))
	schemaID, err := def.OutputSchemaID("researcher")
	require.NoError(t, err)
	assert.Equal(t, "research_report.v1", schemaID)

	_, err = def.OutputSchemaID("unknown")
	assert.Error(t, err)
}

func TestParse_RejectsDuplicateAgentID(t *testing.T) {
	_, err := Parse([]byte(`
agents:
  - agent_id: a
    output_artifact: x
    output_schema: x.v1
  - agent_id: a
    output_artifact: y
    output_schema: y.v1
`))
	assert.Error(t, err)
}

func TestParse_RejectsMissingOutputArtifact(t *testing.T) {
	_, err := Parse([]byte(`
agents:
  - agent_id: a
    output_schema: x.v1
`))
	assert.Error(t, err)
}

func TestParse_RejectsEmptyDocument(t *testing.T) {
	_, err := Parse([]byte(`version: "1"`))
	assert.Error(t, err)
}
