package prompts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyline/internal/prompts"
)

func TestDefaultCatalogueHasEverySubTask(t *testing.T) {
	c := prompts.Default()
	for _, name := range []string{
		prompts.TaskAnalysis, prompts.TaskPhaseEvaluation,
		prompts.TaskBriefCreation, prompts.TaskBriefReview,
		prompts.TaskSolutionFlows, prompts.TaskSolutionValidation, prompts.TaskSolutionEvaluation,
		prompts.TaskBacklogCreation, prompts.TaskBacklogValidation,
	} {
		_, err := c.Request(name, nil)
		assert.NoError(t, err, name)
	}
	assert.Len(t, c.Names(), 9)
}

func TestRequestCarriesSchemaAndInputs(t *testing.T) {
	c := prompts.Default()
	req, err := c.Request(prompts.TaskBacklogCreation, map[string]any{"product_brief": "B"})
	require.NoError(t, err)
	assert.Equal(t, "backlog", req.Schema)
	assert.Contains(t, req.Instructions, "Role: Epic and Story Writer")
	assert.Contains(t, req.Instructions, "{product_brief}")
	assert.Contains(t, req.Prompt(), "Product brief:\nB")

	req, err = c.Request(prompts.TaskAnalysis, nil)
	require.NoError(t, err)
	assert.Empty(t, req.Schema)
	assert.Contains(t, req.Instructions, "=== EXTRACTED REQUIREMENTS ===")

	_, err = c.Request("unknown", nil)
	assert.Error(t, err)
}

func TestParseRejectsEmptyDescription(t *testing.T) {
	_, err := prompts.Parse([]byte("analysis:\n  role: x\n"))
	assert.Error(t, err)
}
