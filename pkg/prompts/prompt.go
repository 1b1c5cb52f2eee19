package prompts

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/promptops/mcpagent/pkg/llms"
)

// FormatPrompter formats input values into a prompt value.
type FormatPrompter interface {
	FormatPrompt(values map[string]any) (llms.PromptValue, error)
	GetInputVariables() []string
}

// MessageFormatter formats input values into a list of chat messages.
type MessageFormatter interface {
	FormatMessages(values map[string]any) ([]llms.Message, error)
	GetInputVariables() []string
}

var _ llms.PromptValue = StringPromptValue("")

// StringPromptValue is a prompt value that is a plain string.
type StringPromptValue string

func (v StringPromptValue) String() string {
	return string(v)
}

// Messages returns the prompt as a single human message.
func (v StringPromptValue) Messages() []llms.Message {
	return []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, string(v)),
	}
}

// PromptTemplate renders a Go text template with sprig functions.
type PromptTemplate struct {
	// Template is the prompt template text.
	Template string
	// InputVariables are the names the template requires in the input values.
	InputVariables []string
	// PartialVariables holds default values, overridable by the input values.
	PartialVariables map[string]any
}

var _ FormatPrompter = PromptTemplate{}

// NewPromptTemplate returns a new prompt template.
func NewPromptTemplate(tpl string, inputVars []string) PromptTemplate {
	return PromptTemplate{
		Template:       tpl,
		InputVariables: inputVars,
	}
}

// Format renders the template with the given values.
func (p PromptTemplate) Format(values map[string]any) (string, error) {
	resolved := resolvePartials(p.PartialVariables, values)
	for _, v := range p.InputVariables {
		if _, ok := resolved[v]; !ok {
			return "", errors.Newf("missing value for input variable %q", v)
		}
	}
	return renderTemplate(p.Template, resolved)
}

// FormatPrompt renders the template into a string prompt value.
func (p PromptTemplate) FormatPrompt(values map[string]any) (llms.PromptValue, error) {
	formatted, err := p.Format(values)
	if err != nil {
		return nil, err
	}
	return StringPromptValue(formatted), nil
}

// GetInputVariables returns the input variables the template requires.
func (p PromptTemplate) GetInputVariables() []string {
	return p.InputVariables
}

func resolvePartials(partials map[string]any, values map[string]any) map[string]any {
	resolved := make(map[string]any, len(partials)+len(values))
	for k, v := range partials {
		if f, ok := v.(func() string); ok {
			resolved[k] = f()
		} else {
			resolved[k] = v
		}
	}
	for k, v := range values {
		resolved[k] = v
	}
	return resolved
}

func renderTemplate(tpl string, values map[string]any) (string, error) {
	t, err := template.New("prompt").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(tpl)
	if err != nil {
		return "", errors.WithMessage(err, "failed to parse template")
	}
	var sb strings.Builder
	if err := t.Execute(&sb, values); err != nil {
		return "", errors.WithMessage(err, "failed to render template")
	}
	return sb.String(), nil
}
