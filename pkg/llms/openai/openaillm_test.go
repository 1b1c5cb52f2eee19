package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/promptops/mcpagent/pkg/llms/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := openai.New(openai.WithModel("gpt-5-mini"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing API key")

	llm, err := openai.New(
		openai.WithToken("fake-token"),
		openai.WithModel("gpt-5-mini"),
	)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-mini", llm.GetName())
	assert.Equal(t, llms.ProviderOpenAI, llm.GetProviderType())
}

func TestGenerateContent(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer fake-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": "",
						"tool_calls": []map[string]any{
							{
								"id":   "call_1",
								"type": "function",
								"function": map[string]any{
									"name":      "get_weather",
									"arguments": `{"location":"Boston"}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     12,
				"completion_tokens": 4,
				"total_tokens":      16,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	llm, err := openai.New(
		openai.WithToken("fake-token"),
		openai.WithModel("gpt-5-mini"),
		openai.WithBaseURL(srv.URL),
	)
	require.NoError(t, err)

	resp, err := llm.GenerateContent(context.Background(),
		[]llms.Message{
			llms.MessageFromTextParts(llms.RoleSystem, "You are a weather bot."),
			llms.MessageFromTextParts(llms.RoleHuman, "Weather in Boston?"),
		},
		llms.WithTools([]llms.Tool{
			{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        "get_weather",
					Description: "Get current weather",
				},
			},
		}),
	)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)

	choice := resp.Choices[0]
	assert.Equal(t, "tool_calls", choice.StopReason)
	require.Len(t, choice.ToolCalls, 1)
	assert.Equal(t, "call_1", choice.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", choice.ToolCalls[0].FunctionCall.Name)
	assert.True(t, choice.RequestsToolUse())

	msgs, ok := gotReq["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	reqTools := gotReq["tools"].([]any)
	require.Len(t, reqTools, 1)
}

func TestGenerateContentToolResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []map[string]any `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		toolMsg := req.Messages[1]
		assert.Equal(t, "tool", toolMsg["role"])
		assert.Equal(t, "call_1", toolMsg["tool_call_id"])
		assert.Equal(t, "sunny, 22C", toolMsg["content"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-2",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": "It is sunny in Boston.",
					},
					"finish_reason": "stop",
				},
			},
		})
	}))
	defer srv.Close()

	llm, err := openai.New(
		openai.WithToken("fake-token"),
		openai.WithModel("gpt-5-mini"),
		openai.WithBaseURL(srv.URL),
	)
	require.NoError(t, err)

	resp, err := llm.GenerateContent(context.Background(),
		[]llms.Message{
			llms.MessageFromToolCalls(llms.RoleAI, llms.ToolCall{
				ID:   "call_1",
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      "get_weather",
					Arguments: `{"location":"Boston"}`,
				},
			}),
			llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: "call_1",
				Name:       "get_weather",
				Content:    "sunny, 22C",
			}),
		},
	)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "It is sunny in Boston.", resp.Choices[0].Content)
	assert.False(t, resp.Choices[0].RequestsToolUse())
}
