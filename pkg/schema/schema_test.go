package schema_test

import (
	"reflect"
	"testing"

	"github.com/promptops/mcpagent/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchInput struct {
	Query string       `json:"query" jsonschema:"description=The search query"`
	Limit int          `json:"limit,omitempty"`
	Scope *searchScope `json:"scope,omitempty"`
	Tags  []string     `json:"tags,omitempty"`
}

type searchScope struct {
	Tenant string `json:"tenant"`
}

func TestNew(t *testing.T) {
	s, err := schema.New(reflect.TypeOf(searchInput{}))
	require.NoError(t, err)
	require.NotNil(t, s.Parameters)

	assert.Equal(t, "object", s.Parameters.Type)
	assert.Contains(t, s.Parameters.Required, "query")

	q, ok := s.Parameters.Properties.Get("query")
	require.True(t, ok)
	assert.Equal(t, "string", q.Type)
	assert.Equal(t, "The search query", q.Description)

	sc, ok := s.Parameters.Properties.Get("scope")
	require.True(t, ok)
	assert.Empty(t, sc.Ref)

	// cached on repeat
	s2, err := schema.New(reflect.TypeOf(searchInput{}))
	require.NoError(t, err)
	assert.Same(t, s, s2)

	assert.NotEmpty(t, s.String())
}

func TestFromAny(t *testing.T) {
	raw := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"query"},
	}
	s, err := schema.FromAny(raw)
	require.NoError(t, err)
	assert.Equal(t, "object", s.Type)
	q, ok := s.Properties.Get("query")
	require.True(t, ok)
	assert.Equal(t, "string", q.Type)

	assert.NotPanics(t, func() { schema.MustFromAny(raw) })
	assert.Panics(t, func() { schema.MustFromAny(make(chan int)) })
}

func TestFunctionParameters(t *testing.T) {
	s, err := schema.FunctionParameters(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	typed, err := schema.New(reflect.TypeOf(searchInput{}))
	require.NoError(t, err)
	s, err = schema.FunctionParameters(typed.Parameters)
	require.NoError(t, err)
	assert.Same(t, typed.Parameters, s)

	raw := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{"type": "number"},
		},
	}
	s, err = schema.FunctionParameters(raw)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "object", s.Type)
	v, ok := s.Properties.Get("value")
	require.True(t, ok)
	assert.Equal(t, "number", v.Type)

	_, err = schema.FunctionParameters(make(chan int))
	require.Error(t, err)
}
