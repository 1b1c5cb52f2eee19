package anthropic_test

import (
	"reflect"
	"testing"

	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/promptops/mcpagent/pkg/llms/anthropic"
	"github.com/promptops/mcpagent/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		opts        []anthropic.Option
		wantErr     bool
		errContains string
	}{
		{
			name: "missing token",
			opts: []anthropic.Option{
				anthropic.WithToken(""),
				anthropic.WithModel("claude-sonnet-4-20250514"),
			},
			wantErr:     true,
			errContains: "missing API key",
		},
		{
			name:        "missing model",
			opts:        []anthropic.Option{anthropic.WithToken("fake-token")},
			wantErr:     true,
			errContains: "model is required",
		},
		{
			name: "valid configuration",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-sonnet-4-20250514"),
			},
			wantErr: false,
		},
		{
			name: "with custom base URL",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-sonnet-4-20250514"),
				anthropic.WithBaseURL("https://custom.anthropic.com"),
			},
			wantErr: false,
		},
		{
			name: "with beta header",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-sonnet-4-20250514"),
				anthropic.WithAnthropicBetaHeader("beta-feature-1"),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "missing token" {
				t.Setenv("ANTHROPIC_API_KEY", "")
			}

			allm, err := anthropic.New(tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, allm)
			} else {
				require.NoError(t, err)
				require.NotNil(t, allm)
				assert.NotNil(t, allm.Client)
				assert.Equal(t, llms.ProviderAnthropic, allm.GetProviderType())
			}
		})
	}
}

func TestProcessMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		messages     []llms.Message
		wantMessages int
		wantSystem   string
		wantErr      bool
		errContains  string
	}{
		{
			name:         "empty messages",
			messages:     []llms.Message{},
			wantMessages: 0,
			wantSystem:   "",
		},
		{
			name: "system message only",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleSystem, "You are a helpful assistant."),
			},
			wantMessages: 0,
			wantSystem:   "You are a helpful assistant.",
		},
		{
			name: "multiple system messages",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleSystem, "You are a helpful assistant."),
				llms.MessageFromTextParts(llms.RoleSystem, "Always be polite and respectful."),
			},
			wantMessages: 0,
			wantSystem:   "You are a helpful assistant.\nAlways be polite and respectful.",
		},
		{
			name: "human message with text",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleHuman, "Hello, how are you?"),
			},
			wantMessages: 1,
		},
		{
			name: "human message with image",
			messages: []llms.Message{
				llms.MessageFromParts(llms.RoleHuman,
					llms.TextPart("What's in this image?"),
					llms.BinaryPart("image/jpeg", []byte("fake-image-data")),
				),
			},
			wantMessages: 1,
		},
		{
			name: "AI message with tool call",
			messages: []llms.Message{
				llms.MessageFromToolCalls(llms.RoleAI, llms.ToolCall{
					ID: "call_123",
					FunctionCall: &llms.FunctionCall{
						Name:      "get_weather",
						Arguments: `{"location": "Boston"}`,
					},
				}),
			},
			wantMessages: 1,
		},
		{
			name: "tool message",
			messages: []llms.Message{
				llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
					ToolCallID: "call_123",
					Content:    "The weather in Boston is sunny, 22°C",
				}),
			},
			wantMessages: 1,
		},
		{
			name: "failed tool message",
			messages: []llms.Message{
				llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
					ToolCallID: "call_123",
					Content:    "weather service unavailable",
					IsError:    true,
				}),
			},
			wantMessages: 1,
		},
		{
			name: "generic message",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleGeneric, "Generic message"),
			},
			wantMessages: 1,
		},
		{
			name: "human message with unsupported binary content",
			messages: []llms.Message{
				llms.MessageFromParts(llms.RoleHuman,
					llms.BinaryPart("application/pdf", []byte("fake-pdf-data")),
				),
			},
			wantErr:     true,
			errContains: "unsupported binary content type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			messages, system, err := anthropic.ProcessMessages(tt.messages)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				require.NoError(t, err)
				assert.Len(t, messages, tt.wantMessages)
				assert.Equal(t, tt.wantSystem, system)
			}
		})
	}
}

func TestToTools(t *testing.T) {
	t.Parallel()

	type WeatherParams struct {
		Location string `json:"location" jsonschema:"description=The city name"`
	}
	weatherSchema, err := schema.New(reflect.TypeOf(WeatherParams{}))
	require.NoError(t, err)

	assert.Nil(t, anthropic.ToTools(nil))
	assert.Nil(t, anthropic.ToTools([]llms.Tool{}))

	result := anthropic.ToTools([]llms.Tool{
		{
			Function: &llms.FunctionDefinition{
				Name:        "get_weather",
				Description: "Get current weather",
				Parameters:  weatherSchema.Parameters,
			},
		},
	})
	require.Len(t, result, 1)
	tool := result[0]
	require.NotNil(t, tool.OfTool)
	assert.Equal(t, "get_weather", tool.OfTool.Name)
	assert.Equal(t, "object", string(tool.OfTool.InputSchema.Type))
	assert.Contains(t, tool.OfTool.InputSchema.Required, "location")
}

func TestHandleAIMessage(t *testing.T) {
	t.Parallel()

	_, err := anthropic.HandleAIMessage(llms.Message{
		Parts: []llms.ContentPart{
			llms.ToolCall{
				ID: "call_123",
				FunctionCall: &llms.FunctionCall{
					Name:      "get_weather",
					Arguments: `{invalid-json}`,
				},
			},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal tool call arguments")

	_, err = anthropic.HandleAIMessage(llms.Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid content")
}

func TestHandleToolMessage(t *testing.T) {
	t.Parallel()

	_, err := anthropic.HandleToolMessage(llms.Message{
		Parts: []llms.ContentPart{llms.TextPart("Not a tool response")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid content type")

	res, err := anthropic.HandleToolMessage(llms.Message{
		Parts: []llms.ContentPart{
			llms.ToolCallResponse{
				ToolCallID: "call_123",
				Content:    "sunny",
			},
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, res.Content)
}
