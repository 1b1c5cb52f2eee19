package llmfactory_test

import (
	"testing"

	"github.com/promptops/mcpagent/pkg/llmfactory"
	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Anthropic", cfg.DefaultProvider)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Providers[0].DefaultModel)

	// empty location returns an empty config
	cfg, err = llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
}

func TestFactory(t *testing.T) {
	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)

	def, err := f.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAnthropic, def.GetProviderType())
	assert.Equal(t, "claude-sonnet-4-20250514", def.GetName())

	m, err := f.ModelByName("gpt-5")
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderOpenAI, m.GetProviderType())
	assert.Equal(t, "gpt-5", m.GetName())

	// unknown model falls back to the default provider
	m, err = f.ModelByName("no-such-model")
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAnthropic, m.GetProviderType())

	m, err = f.ModelByType("OPENAI")
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderOpenAI, m.GetProviderType())

	_, err = f.ModelByType("BEDROCK")
	require.Error(t, err)

	m, err = f.ToolModel("any_tool")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-20241022", m.GetName())

	m, err = f.AgentModel("researcher")
	require.NoError(t, err)
	assert.Equal(t, "gpt-5", m.GetName())

	m, err = f.AgentModel("unmapped")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", m.GetName())
}

func TestFactoryNoProviders(t *testing.T) {
	f := llmfactory.New(&llmfactory.Config{})
	_, err := f.DefaultModel()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers configured")
}
