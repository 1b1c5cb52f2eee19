package agents

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/mcpagent/chatmodel"
	"github.com/promptops/mcpagent/mcpclient"
	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/promptops/mcpagent/pkg/prompts"
	"github.com/promptops/mcpagent/store"
	"github.com/promptops/mcpagent/tools"
)

var testPrompt = prompts.NewPromptTemplate("You are a calculator assistant.", nil)

// scriptedModel returns canned responses in order.
// The last response is repeated once the script runs out.
type scriptedModel struct {
	responses []*llms.ContentResponse
	err       error
	requests  [][]llms.Message
}

var _ llms.Model = (*scriptedModel)(nil)

func (m *scriptedModel) GetName() string {
	return "scripted"
}

func (m *scriptedModel) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.requests = append(m.requests, messages)
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func textResponse(content string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: content, StopReason: "stop"},
		},
	}
}

func toolResponse(calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{StopReason: llms.StopReasonToolUse, ToolCalls: calls},
		},
	}
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:   id,
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

type fakeTool struct {
	name string
	desc string
	fn   func(ctx context.Context, input string) (string, error)
}

var _ tools.ITool = (*fakeTool)(nil)

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return t.desc }
func (t *fakeTool) Parameters() any {
	return map[string]any{"type": "object"}
}
func (t *fakeTool) Call(ctx context.Context, input string) (string, error) {
	return t.fn(ctx, input)
}

func getNumberTool() tools.ITool {
	return &fakeTool{
		name: "get_number",
		desc: "Returns the current number.",
		fn: func(ctx context.Context, input string) (string, error) {
			return "12", nil
		},
	}
}

type multiplyInput struct {
	Value  float64 `json:"value"`
	Factor float64 `json:"factor"`
}

// formatProduct rounds away the float64 representation noise,
// 12 * 0.2 formats as "2.4" rather than "2.4000000000000004".
func formatProduct(v float64) string {
	return strconv.FormatFloat(v, 'g', 12, 64)
}

func multiplyTool(t *testing.T) tools.ITool {
	return &fakeTool{
		name: "multiply_by",
		desc: "Multiplies a value by a factor.",
		fn: func(ctx context.Context, input string) (string, error) {
			var in multiplyInput
			require.NoError(t, json.Unmarshal([]byte(input), &in))
			return formatProduct(in.Value * in.Factor), nil
		},
	}
}

func TestRunTwoToolScenario(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(toolCall("call_1", "get_number", "{}")),
			toolResponse(toolCall("call_2", "multiply_by", `{"value": 12, "factor": 0.2}`)),
			textResponse("The result is 2.4"),
		},
	}

	agent := NewAgent(model, testPrompt).
		WithName("Calculator").
		WithTools(getNumberTool(), multiplyTool(t))

	resp, err := agent.Run(context.Background(), &CallInput{Input: "What is the number multiplied by 0.2?"})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "The result is 2.4", resp.Choices[0].Content)
	require.Len(t, model.requests, 3)

	// the second completion sees the first tool exchange paired by ID
	second := model.requests[1]
	last := second[len(second)-1]
	require.Equal(t, llms.RoleTool, last.Role)
	toolResp, ok := last.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_1", toolResp.ToolCallID)
	assert.Equal(t, "get_number", toolResp.Name)
	assert.Equal(t, "12", toolResp.Content)
	assert.False(t, toolResp.IsError)

	// the preceding message is the assistant tool call with the same ID
	callMsg := second[len(second)-2]
	require.Equal(t, llms.RoleAI, callMsg.Role)
	call, ok := callMsg.Parts[0].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "call_1", call.ID)

	third := model.requests[2]
	last = third[len(third)-1]
	require.Equal(t, llms.RoleTool, last.Role)
	toolResp, ok = last.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_2", toolResp.ToolCallID)
	assert.Equal(t, "2.4", toolResp.Content)
}

func TestRunTwoToolScenarioMCP(t *testing.T) {
	server := mcp.NewServer(&mcp.Implementation{Name: "calc", Version: "v0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_number",
		Description: "Returns the current number.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "12"}},
		}, nil, nil
	})
	mcp.AddTool(server, &mcp.Tool{
		Name:        "multiply_by",
		Description: "Multiplies a value by a factor.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args multiplyInput) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: formatProduct(args.Value * args.Factor)}},
		}, nil, nil
	})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := server.Connect(context.Background(), serverTransport, nil)
	require.NoError(t, err)

	client := mcpclient.New(&mcpclient.Config{Name: "calc", Transport: "stdio://unused"},
		mcpclient.WithTransport(clientTransport))
	defer client.Close()

	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(toolCall("call_1", "get_number", "{}")),
			toolResponse(toolCall("call_2", "multiply_by", `{"value": 12, "factor": 0.2}`)),
			textResponse("The result is 2.4"),
		},
	}

	agent, err := NewAgent(model, testPrompt).
		WithName("Calculator").
		WithMCPServers(context.Background(), client)
	require.NoError(t, err)
	require.Len(t, agent.GetTools(), 2)

	// the remote schema documents are converted to function definitions
	require.Len(t, agent.llmToolDefs, 2)
	for _, def := range agent.llmToolDefs {
		require.NotNil(t, def.Function)
		require.NotNil(t, def.Function.Parameters)
		assert.Equal(t, "object", def.Function.Parameters.Type)
	}

	resp, err := agent.Run(context.Background(), &CallInput{Input: "What is the number multiplied by 0.2?"})
	require.NoError(t, err)
	assert.Equal(t, "The result is 2.4", resp.Choices[0].Content)

	third := model.requests[2]
	last := third[len(third)-1]
	toolResp, ok := last.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "2.4", toolResp.Content)
}

func TestRunZeroTools(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			textResponse("Hello!"),
		},
	}

	agent := NewAgent(model, testPrompt)
	resp, err := agent.Run(context.Background(), &CallInput{Input: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Choices[0].Content)
	assert.Len(t, model.requests, 1)
}

func TestRunUnknownTool(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(toolCall("call_1", "does_not_exist", "{}")),
			textResponse("I could not find that tool."),
		},
	}

	agent := NewAgent(model, testPrompt).
		WithTools(getNumberTool())

	resp, err := agent.Run(context.Background(), &CallInput{Input: "Use the magic tool"})
	require.NoError(t, err)
	assert.Equal(t, "I could not find that tool.", resp.Choices[0].Content)

	// the unknown tool request is reported back, not dropped
	second := model.requests[1]
	last := second[len(second)-1]
	require.Equal(t, llms.RoleTool, last.Role)
	toolResp, ok := last.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_1", toolResp.ToolCallID)
	assert.True(t, toolResp.IsError)
	assert.Contains(t, toolResp.Content, "Tool `does_not_exist` not found")
	assert.Contains(t, toolResp.Content, "Available tools: get_number")
}

func TestRunUnknownToolAbort(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(toolCall("call_1", "does_not_exist", "{}")),
		},
	}

	agent := NewAgent(model, testPrompt,
		WithAbortOnUnknownTool(true)).
		WithTools(getNumberTool())

	_, err := agent.Run(context.Background(), &CallInput{Input: "Use the magic tool"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestRunUnknownToolBound(t *testing.T) {
	// the model keeps asking for a tool that does not exist
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(toolCall("call_1", "does_not_exist", "{}")),
		},
	}

	agent := NewAgent(model, testPrompt).
		WithTools(getNumberTool())

	_, err := agent.Run(context.Background(), &CallInput{Input: "Use the magic tool"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestRunFailingToolContinues(t *testing.T) {
	failing := &fakeTool{
		name: "always_fails",
		desc: "Always fails.",
		fn: func(ctx context.Context, input string) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}

	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(toolCall("call_1", "always_fails", "{}")),
			textResponse("The tool is unavailable right now."),
		},
	}

	agent := NewAgent(model, testPrompt).
		WithTools(failing)

	resp, err := agent.Run(context.Background(), &CallInput{Input: "Try the tool"})
	require.NoError(t, err)
	assert.Equal(t, "The tool is unavailable right now.", resp.Choices[0].Content)

	second := model.requests[1]
	last := second[len(second)-1]
	toolResp, ok := last.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.True(t, toolResp.IsError)
	assert.Contains(t, toolResp.Content, "Tool call failed: backend unavailable")
}

func TestRunFailingToolAbort(t *testing.T) {
	failing := &fakeTool{
		name: "always_fails",
		desc: "Always fails.",
		fn: func(ctx context.Context, input string) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}

	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(toolCall("call_1", "always_fails", "{}")),
		},
	}

	agent := NewAgent(model, testPrompt,
		WithAbortOnToolError(true)).
		WithTools(failing)

	_, err := agent.Run(context.Background(), &CallInput{Input: "Try the tool"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolInvocation))
}

func TestRunLoopBound(t *testing.T) {
	// the model keeps requesting the same tool
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(toolCall("call_1", "get_number", "{}")),
		},
	}

	agent := NewAgent(model, testPrompt,
		WithMaxToolCalls(2)).
		WithTools(getNumberTool())

	_, err := agent.Run(context.Background(), &CallInput{Input: "Loop forever"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoopBoundExceeded))
}

func TestRunCancelled(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			textResponse("never returned"),
		},
	}

	agent := NewAgent(model, testPrompt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agent.Run(ctx, &CallInput{Input: "Hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCancelled))
}

func TestRunCompletionFailure(t *testing.T) {
	model := &scriptedModel{
		err: errors.New("rate limited"),
	}

	agent := NewAgent(model, testPrompt)
	_, err := agent.Run(context.Background(), &CallInput{Input: "Hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompletionFailure))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRunEmptyResponseRetries(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			{},
		},
	}

	agent := NewAgent(model, testPrompt)
	_, err := agent.Run(context.Background(), &CallInput{Input: "Hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompletionFailure))
	assert.Len(t, model.requests, DefaultMaxRetries)
}

func TestRunWithStore(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			textResponse("Stored answer"),
		},
	}

	memStore := store.NewMemoryStore()
	ctx := chatmodel.WithChatContext(context.Background(),
		chatmodel.NewChatContext(chatmodel.NewChatID(), "tenant1", nil))

	agent := NewAgent(model, testPrompt,
		WithStore(memStore))

	_, err := agent.Run(ctx, &CallInput{Input: "Remember this"})
	require.NoError(t, err)

	saved := memStore.Messages(ctx)
	require.Len(t, saved, 2)
	assert.Equal(t, llms.RoleHuman, saved[0].Role)
	assert.Equal(t, llms.RoleAI, saved[1].Role)
}

func TestRunWithStoreRequiresChatContext(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			textResponse("ok"),
		},
	}

	agent := NewAgent(model, testPrompt,
		WithStore(store.NewMemoryStore()))

	_, err := agent.Run(context.Background(), &CallInput{Input: "Hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, chatmodel.ErrInvalidChatContext))
}

func TestRunConcurrentToolCalls(t *testing.T) {
	model := &scriptedModel{
		responses: []*llms.ContentResponse{
			toolResponse(
				toolCall("call_1", "get_number", "{}"),
				toolCall("call_2", "multiply_by", `{"value": 10, "factor": 3}`),
			),
			textResponse("done"),
		},
	}

	agent := NewAgent(model, testPrompt,
		WithConcurrentToolCalls(true)).
		WithTools(getNumberTool(), multiplyTool(t))

	_, err := agent.Run(context.Background(), &CallInput{Input: "Run both"})
	require.NoError(t, err)

	// results arrive in request order regardless of completion order
	second := model.requests[1]
	require.GreaterOrEqual(t, len(second), 4)
	first, ok := second[len(second)-2].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_1", first.ToolCallID)
	assert.Equal(t, "12", first.Content)
	next, ok := second[len(second)-1].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_2", next.ToolCallID)
	assert.Equal(t, "30", next.Content)
}

func TestWithToolsParameters(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse("ok")}}

	agent := NewAgent(model, testPrompt).
		WithTools(getNumberTool(), multiplyTool(t))

	require.Len(t, agent.llmToolDefs, 2)
	for _, def := range agent.llmToolDefs {
		require.NotNil(t, def.Function)
		require.NotNil(t, def.Function.Parameters)
		assert.Equal(t, "object", def.Function.Parameters.Type)
	}
}

func TestGetDescriptions(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{textResponse("ok")}}
	a1 := NewAgent(model, testPrompt).WithName("Calculator").WithDescription("Does math.")
	a2 := NewAgent(model, testPrompt).WithName("Researcher").WithDescription("Finds facts.")

	exp := "- `Calculator`: Does math.\n- `Researcher`: Finds facts.\n"
	assert.Equal(t, exp, GetDescriptions(a1, a2))

	m := MapAgents(a1, a2)
	require.Len(t, m, 2)
	assert.Equal(t, a1, m["Calculator"])
	assert.Nil(t, MapAgents())
}
