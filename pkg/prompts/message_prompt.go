package prompts

import (
	"github.com/promptops/mcpagent/pkg/llms"
)

// MessagePromptTemplate renders a single chat message from a template.
type MessagePromptTemplate struct {
	Role   llms.Role
	Prompt PromptTemplate
}

var _ MessageFormatter = MessagePromptTemplate{}

// NewSystemMessagePromptTemplate returns a formatter producing a system message.
func NewSystemMessagePromptTemplate(tpl string, inputVars []string) MessagePromptTemplate {
	return MessagePromptTemplate{
		Role:   llms.RoleSystem,
		Prompt: NewPromptTemplate(tpl, inputVars),
	}
}

// NewHumanMessagePromptTemplate returns a formatter producing a human message.
func NewHumanMessagePromptTemplate(tpl string, inputVars []string) MessagePromptTemplate {
	return MessagePromptTemplate{
		Role:   llms.RoleHuman,
		Prompt: NewPromptTemplate(tpl, inputVars),
	}
}

// NewAIMessagePromptTemplate returns a formatter producing an assistant message.
func NewAIMessagePromptTemplate(tpl string, inputVars []string) MessagePromptTemplate {
	return MessagePromptTemplate{
		Role:   llms.RoleAI,
		Prompt: NewPromptTemplate(tpl, inputVars),
	}
}

// FormatMessages renders the template into a single message.
func (p MessagePromptTemplate) FormatMessages(values map[string]any) ([]llms.Message, error) {
	text, err := p.Prompt.Format(values)
	if err != nil {
		return nil, err
	}
	return []llms.Message{
		llms.MessageFromTextParts(p.Role, text),
	}, nil
}

// GetInputVariables returns the input variables the template requires.
func (p MessagePromptTemplate) GetInputVariables() []string {
	return p.Prompt.InputVariables
}

// ChatPromptTemplate renders a list of message templates into a chat prompt.
type ChatPromptTemplate struct {
	Messages []MessageFormatter
}

var _ FormatPrompter = ChatPromptTemplate{}
var _ MessageFormatter = ChatPromptTemplate{}

// NewChatPromptTemplate returns a chat prompt template from message formatters.
func NewChatPromptTemplate(messages []MessageFormatter) ChatPromptTemplate {
	return ChatPromptTemplate{
		Messages: messages,
	}
}

// FormatMessages renders all message templates with the given values.
func (p ChatPromptTemplate) FormatMessages(values map[string]any) ([]llms.Message, error) {
	var res []llms.Message
	for _, m := range p.Messages {
		msgs, err := m.FormatMessages(values)
		if err != nil {
			return nil, err
		}
		res = append(res, msgs...)
	}
	return res, nil
}

// FormatPrompt renders all message templates into a chat prompt value.
func (p ChatPromptTemplate) FormatPrompt(values map[string]any) (llms.PromptValue, error) {
	msgs, err := p.FormatMessages(values)
	if err != nil {
		return nil, err
	}
	return ChatPromptValue(msgs), nil
}

// GetInputVariables returns the union of all input variables.
func (p ChatPromptTemplate) GetInputVariables() []string {
	seen := map[string]bool{}
	var res []string
	for _, m := range p.Messages {
		for _, v := range m.GetInputVariables() {
			if !seen[v] {
				seen[v] = true
				res = append(res, v)
			}
		}
	}
	return res
}
