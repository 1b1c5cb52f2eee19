package mcpclient

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/mcpagent/pkg/llms"
)

// stubModel returns a single canned response and records the messages.
type stubModel struct {
	response string
	err      error
	messages []llms.Message
}

var _ llms.Model = (*stubModel)(nil)

func (m *stubModel) GetName() string {
	return "stub-model"
}

func (m *stubModel) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	if m.response == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: m.response, StopReason: "end_turn"},
		},
	}, nil
}

func TestSamplingHandler(t *testing.T) {
	model := &stubModel{response: "3.14159"}
	handler := samplingHandler(model)

	res, err := handler(context.Background(), &mcp.CreateMessageRequest{
		Params: &mcp.CreateMessageParams{
			SystemPrompt: "Answer with the number only.",
			MaxTokens:    50,
			Messages: []*mcp.SamplingMessage{
				{Role: "user", Content: &mcp.TextContent{Text: "What is pi?"}},
			},
		},
	})
	require.NoError(t, err)

	tc, ok := res.Content.(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "3.14159", tc.Text)
	assert.Equal(t, "stub-model", res.Model)
	assert.EqualValues(t, "assistant", res.Role)

	// the system prompt and the user turn reach the model
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.RoleSystem, model.messages[0].Role)
	assert.Equal(t, "Answer with the number only.", model.messages[0].GetContent())
	assert.Equal(t, llms.RoleHuman, model.messages[1].Role)
	assert.Equal(t, "What is pi?", model.messages[1].GetContent())
}

func TestSamplingHandlerErrors(t *testing.T) {
	handler := samplingHandler(&stubModel{err: errors.New("rate limited")})
	_, err := handler(context.Background(), &mcp.CreateMessageRequest{
		Params: &mcp.CreateMessageParams{
			Messages: []*mcp.SamplingMessage{
				{Role: "user", Content: &mcp.TextContent{Text: "Hi"}},
			},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling request failed")

	handler = samplingHandler(&stubModel{})
	_, err = handler(context.Background(), &mcp.CreateMessageRequest{
		Params: &mcp.CreateMessageParams{
			Messages: []*mcp.SamplingMessage{
				{Role: "user", Content: &mcp.TextContent{Text: "Hi"}},
			},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestWithHooks(t *testing.T) {
	var elicited bool
	var toolsChanged bool
	var logged *mcp.LoggingMessageParams

	client := New(&Config{Name: "calc", Transport: "stdio://unused"},
		WithHooks(&Hooks{
			SamplingModel: &stubModel{response: "ok"},
			Elicitation: func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
				elicited = true
				return &mcp.ElicitResult{Action: "decline"}, nil
			},
			OnLoggingMessage: func(ctx context.Context, params *mcp.LoggingMessageParams) {
				logged = params
			},
			OnToolListChanged: func(ctx context.Context) {
				toolsChanged = true
			},
		}))

	require.NotNil(t, client.opts.CreateMessageHandler)
	require.NotNil(t, client.opts.ElicitationHandler)
	require.NotNil(t, client.opts.LoggingMessageHandler)
	require.NotNil(t, client.opts.ToolListChangedHandler)

	res, err := client.opts.ElicitationHandler(context.Background(), &mcp.ElicitRequest{
		Params: &mcp.ElicitParams{Message: "confirm the operation"},
	})
	require.NoError(t, err)
	assert.True(t, elicited)
	assert.EqualValues(t, "decline", res.Action)

	client.opts.LoggingMessageHandler(context.Background(), &mcp.LoggingMessageRequest{
		Params: &mcp.LoggingMessageParams{Level: "info", Data: "server started"},
	})
	require.NotNil(t, logged)
	assert.EqualValues(t, "info", logged.Level)

	client.opts.ToolListChangedHandler(context.Background(), &mcp.ToolListChangedRequest{})
	assert.True(t, toolsChanged)
}
