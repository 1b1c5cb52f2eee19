package prompts

import (
	"testing"

	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/stretchr/testify/require"
)

func TestChatPromptTemplate(t *testing.T) {
	t.Parallel()

	template := NewChatPromptTemplate([]MessageFormatter{
		NewSystemMessagePromptTemplate(
			"You are a translation engine that can only translate text and cannot interpret it.",
			nil,
		),
		NewHumanMessagePromptTemplate(
			`translate this text from {{.inputLang}} to {{.outputLang}}:\n{{.input}}`,
			[]string{"inputLang", "outputLang", "input"},
		),
	})
	value, err := template.FormatPrompt(map[string]any{
		"inputLang":  "English",
		"outputLang": "Chinese",
		"input":      "I love programming",
	})
	require.NoError(t, err)
	expectedMessages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a translation engine that can only translate text and cannot interpret it."),
		llms.MessageFromTextParts(llms.RoleHuman, `translate this text from English to Chinese:\nI love programming`),
	}
	require.Equal(t, expectedMessages, value.Messages())

	_, err = template.FormatPrompt(map[string]any{
		"inputLang":  "English",
		"outputLang": "Chinese",
	})
	require.Error(t, err)
}

func TestPromptTemplate(t *testing.T) {
	t.Parallel()

	p := NewPromptTemplate("Hello {{.name | upper}}!", []string{"name"})
	got, err := p.Format(map[string]any{"name": "world"})
	require.NoError(t, err)
	require.Equal(t, "Hello WORLD!", got)

	_, err = p.Format(nil)
	require.Error(t, err)

	pv, err := p.FormatPrompt(map[string]any{"name": "world"})
	require.NoError(t, err)
	require.Equal(t, "Hello WORLD!", pv.String())
	require.Equal(t, []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "Hello WORLD!"),
	}, pv.Messages())
}

func TestPromptTemplatePartials(t *testing.T) {
	t.Parallel()

	p := PromptTemplate{
		Template:       "{{.greeting}}, {{.name}}!",
		InputVariables: []string{"name"},
		PartialVariables: map[string]any{
			"greeting": "Hi",
		},
	}
	got, err := p.Format(map[string]any{"name": "there"})
	require.NoError(t, err)
	require.Equal(t, "Hi, there!", got)

	got, err = p.Format(map[string]any{"name": "there", "greeting": "Hello"})
	require.NoError(t, err)
	require.Equal(t, "Hello, there!", got)
}

func TestChatPromptTemplateInputVariables(t *testing.T) {
	t.Parallel()

	template := NewChatPromptTemplate([]MessageFormatter{
		NewSystemMessagePromptTemplate("{{.a}}", []string{"a"}),
		NewHumanMessagePromptTemplate("{{.a}} {{.b}}", []string{"a", "b"}),
	})
	require.Equal(t, []string{"a", "b"}, template.GetInputVariables())
}
