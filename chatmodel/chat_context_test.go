package chatmodel_test

import (
	"context"
	"testing"

	"github.com/promptops/mcpagent/chatmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatContext(t *testing.T) {
	c := chatmodel.NewChatContext("chat1", "tenant1", map[string]string{"k": "v"})
	assert.Equal(t, "chat1", c.GetChatID())
	assert.Equal(t, "tenant1", c.GetTenantID())
	assert.NotNil(t, c.AppData())

	c.SetChatID("chat2")
	assert.Equal(t, "chat2", c.GetChatID())

	_, ok := c.GetMetadata("missing")
	assert.False(t, ok)
	c.SetMetadata("key", 42)
	v, ok := c.GetMetadata("key")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	// empty IDs are generated
	c2 := chatmodel.NewChatContext("", "", nil)
	assert.NotEmpty(t, c2.GetChatID())
	assert.Equal(t, "default", c2.GetTenantID())
}

func TestChatContextFromContext(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, chatmodel.GetChatContext(ctx))
	assert.Empty(t, chatmodel.GetChatID(ctx))

	_, _, err := chatmodel.GetTenantAndChatID(ctx)
	assert.ErrorIs(t, err, chatmodel.ErrInvalidChatContext)
	_, err = chatmodel.SetChatID(ctx, "id")
	assert.ErrorIs(t, err, chatmodel.ErrInvalidChatContext)

	chatCtx := chatmodel.NewChatContext("foo", "acme", nil)
	ctx = chatmodel.WithChatContext(ctx, chatCtx)

	assert.Equal(t, chatCtx, chatmodel.GetChatContext(ctx))
	assert.Equal(t, "foo", chatmodel.GetChatID(ctx))

	ctx, err = chatmodel.SetChatID(ctx, "bar")
	require.NoError(t, err)

	tenant, chat, err := chatmodel.GetTenantAndChatID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, "bar", chat)
}

type literal string

func (l literal) GetContent() string { return string(l) }

func TestStringify(t *testing.T) {
	assert.Equal(t, "val", chatmodel.Stringify(literal("val")))
	assert.Equal(t, `{"a":1}`, chatmodel.Stringify(map[string]int{"a": 1}))
	assert.Equal(t, []byte("val"), chatmodel.ToBytes(literal("val")))
}
