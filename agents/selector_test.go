package agents

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/mcpagent/mcpclient"
	"github.com/promptops/mcpagent/pkg/llms"
)

func newSelectorFixture(t *testing.T, model *scriptedModel) *Selector {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "docs", Version: "v0.0.1"}, nil)
	server.AddResource(&mcp.Resource{
		URI:         "docs://math-constants",
		Name:        "math-constants",
		Description: "Common mathematical constants.",
		MIMEType:    "text/plain",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: "docs://math-constants", MIMEType: "text/plain", Text: "pi = 3.14159"},
			},
		}, nil
	})
	server.AddPrompt(&mcp.Prompt{
		Name:        "step-by-step-math",
		Description: "Guides the model through math step by step.",
	}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: "Show your work step by step."}},
			},
		}, nil
	})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := server.Connect(context.Background(), serverTransport, nil)
	require.NoError(t, err)

	client := mcpclient.New(&mcpclient.Config{Name: "docs", Transport: "stdio://unused"},
		mcpclient.WithTransport(clientTransport))
	t.Cleanup(func() {
		_ = client.Close()
	})

	sel := NewSelector(model, client)
	require.NoError(t, sel.Refresh(context.Background()))
	return sel
}

func TestSelectResources(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			textResponse(`Based on the question, these resources help: ["math-constants", "unknown-resource"]`),
		},
	}
	sel := newSelectorFixture(t, model)

	names := sel.SelectResources(context.Background(), "What is pi?")
	assert.Equal(t, []string{"math-constants"}, names)

	parts := sel.LoadResources(context.Background(), names)
	require.Len(t, parts, 1)
	tc, ok := parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Equal(t, "[Resource: math-constants]\npi = 3.14159", tc.Text)
}

func TestSelectResourcesNoArray(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			textResponse("No resources are needed for this question."),
		},
	}
	sel := newSelectorFixture(t, model)

	names := sel.SelectResources(context.Background(), "Hello")
	assert.Nil(t, names)
}

func TestSelectPrompts(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			textResponse(`[{"name": "step-by-step-math", "arguments": {}}, {"name": "unknown", "arguments": {}}]`),
		},
	}
	sel := newSelectorFixture(t, model)

	selections := sel.SelectPrompts(context.Background(), "What is 12 * 0.2?")
	require.Len(t, selections, 1)
	assert.Equal(t, "step-by-step-math", selections[0].Name)

	instructions := sel.LoadPrompts(context.Background(), selections)
	assert.Equal(t, "[Prompt: step-by-step-math]\nShow your work step by step.", instructions)
}
