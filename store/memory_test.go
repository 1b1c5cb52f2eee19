package store_test

import (
	"context"
	"testing"

	"github.com/promptops/mcpagent/chatmodel"
	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/promptops/mcpagent/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCtx(t *testing.T, tenantID, chatID string) context.Context {
	t.Helper()
	return chatmodel.WithChatContext(context.Background(), chatmodel.NewChatContext(chatID, tenantID, nil))
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()

	ctx1 := chatCtx(t, "acme", "chat1")
	ctx2 := chatCtx(t, "acme", "chat2")

	assert.Empty(t, s.Messages(ctx1))

	require.NoError(t, s.Add(ctx1, llms.MessageFromTextParts(llms.RoleHuman, "hello")))
	require.NoError(t, s.Add(ctx1, llms.MessageFromTextParts(llms.RoleAI, "hi")))
	require.NoError(t, s.Add(ctx2, llms.MessageFromTextParts(llms.RoleHuman, "other chat")))

	msgs := s.Messages(ctx1)
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.RoleHuman, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].GetContent())
	assert.Len(t, s.Messages(ctx2), 1)

	require.NoError(t, s.Reset(ctx1))
	assert.Empty(t, s.Messages(ctx1))
	assert.Len(t, s.Messages(ctx2), 1)

	// no chat context on the request
	assert.Empty(t, s.Messages(context.Background()))
	assert.Error(t, s.Add(context.Background(), llms.MessageFromTextParts(llms.RoleHuman, "x")))
	assert.Error(t, s.Reset(context.Background()))
}

func TestMessageModelRoundTrip(t *testing.T) {
	msg := llms.Message{
		Role: llms.RoleAI,
		Parts: []llms.ContentPart{
			llms.TextContent{Text: "calling a tool"},
			llms.ToolCall{
				ID:   "call_1",
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      "search",
					Arguments: `{"q":"go"}`,
				},
			},
		},
	}
	got := store.FromModel(store.ToModel(msg))
	assert.Equal(t, msg, got)

	resp := llms.Message{
		Role: llms.RoleTool,
		Parts: []llms.ContentPart{
			llms.ToolCallResponse{
				ToolCallID: "call_1",
				Name:       "search",
				Content:    "no results",
				IsError:    true,
			},
		},
	}
	assert.Equal(t, resp, store.FromModel(store.ToModel(resp)))
}
