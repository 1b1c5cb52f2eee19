package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/promptops/mcpagent/mcpclient"
	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/promptops/mcpagent/pkg/llmutils"
)

const resourceSelectionTemplate = `Given this user question: "%s"

And these available resources:
%s

Which resources (if any) would be helpful to answer the user's question?
Return a JSON array of resource names, or an empty array if no resources are needed.
Only include resources that are directly relevant.

Example: ["math-constants"] or []`

const promptSelectionTemplate = `Given this user question: "%s"

And these available prompt templates:
%s

Which prompts (if any) would provide helpful instructions or guidance for answering this question?
Return a JSON array of prompt objects which have a name (string) and arguments (objects where the
keys are the named parameter name and value is the argument value), or an empty array if no prompts
are needed. Only include prompts that are directly relevant.

Example: [{"name": "calculation-helper", "arguments": {"operation": "addition"}},
 {"name": "step-by-step-math", "arguments": {}}] or []`

// PromptSelection names a server prompt and the arguments to render it with.
type PromptSelection struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// Selector picks the server resources and prompts relevant to a user
// question, using a small LLM call, and loads them as model context.
// Selection failures are not fatal, the agent proceeds without context.
type Selector struct {
	LLM    llms.Model
	Client *mcpclient.Client

	resources map[string]*mcp.Resource
	prompts   map[string]*mcp.Prompt
}

// NewSelector creates a Selector over the given model and MCP client.
func NewSelector(llmModel llms.Model, client *mcpclient.Client) *Selector {
	return &Selector{
		LLM:    llmModel,
		Client: client,
	}
}

// Refresh reloads the resource and prompt catalogs from the server.
func (s *Selector) Refresh(ctx context.Context) error {
	resources, err := s.Client.ListResources(ctx)
	if err != nil {
		return err
	}
	s.resources = make(map[string]*mcp.Resource, len(resources))
	for _, res := range resources {
		s.resources[res.Name] = res
	}

	prompts, err := s.Client.ListPrompts(ctx)
	if err != nil {
		return err
	}
	s.prompts = make(map[string]*mcp.Prompt, len(prompts))
	for _, prompt := range prompts {
		s.prompts[prompt.Name] = prompt
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"server", s.Client.Name(),
		"resources", len(s.resources),
		"prompts", len(s.prompts),
	)
	return nil
}

// SelectResources asks the LLM which resources are relevant to the question.
// Unknown names returned by the model are dropped.
func (s *Selector) SelectResources(ctx context.Context, question string) []string {
	if len(s.resources) == 0 {
		return nil
	}

	descriptions := make(map[string]string, len(s.resources))
	for name, res := range s.resources {
		if res.Description != "" {
			descriptions[name] = res.Description
		} else {
			descriptions[name] = fmt.Sprintf("Resource: %s", name)
		}
	}

	prompt := fmt.Sprintf(resourceSelectionTemplate, question, llmutils.ToJSONIndent(descriptions))
	raw, err := s.complete(ctx, prompt)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "failed_to_select_resources",
			"err", err.Error(),
		)
		return nil
	}

	var names []string
	if err := unmarshalJSONArray(raw, &names); err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "failed_to_parse_resource_selection",
			"err", err.Error(),
		)
		return nil
	}

	var selected []string
	for _, name := range names {
		if _, ok := s.resources[name]; ok {
			selected = append(selected, name)
		}
	}
	return selected
}

// SelectPrompts asks the LLM which server prompts are relevant to the question.
// Unknown names returned by the model are dropped.
func (s *Selector) SelectPrompts(ctx context.Context, question string) []PromptSelection {
	if len(s.prompts) == 0 {
		return nil
	}

	list := make([]*mcp.Prompt, 0, len(s.prompts))
	for _, prompt := range s.prompts {
		list = append(list, prompt)
	}

	prompt := fmt.Sprintf(promptSelectionTemplate, question, llmutils.ToJSONIndent(list))
	raw, err := s.complete(ctx, prompt)
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "failed_to_select_prompts",
			"err", err.Error(),
		)
		return nil
	}

	var selections []PromptSelection
	if err := unmarshalJSONArray(raw, &selections); err != nil {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "failed_to_parse_prompt_selection",
			"err", err.Error(),
		)
		return nil
	}

	var selected []PromptSelection
	for _, sel := range selections {
		if _, ok := s.prompts[sel.Name]; ok {
			selected = append(selected, sel)
		}
	}
	return selected
}

// LoadResources reads the named resources and converts them to message
// parts, text content prefixed with the resource name and images as
// binary parts. Unsupported content is skipped with a warning.
func (s *Selector) LoadResources(ctx context.Context, names []string) []llms.ContentPart {
	var parts []llms.ContentPart
	for _, name := range names {
		res, ok := s.resources[name]
		if !ok {
			continue
		}
		contents, err := s.Client.ReadResource(ctx, res.URI)
		if err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "failed_to_load_resource",
				"resource", name,
				"err", err.Error(),
			)
			continue
		}
		for _, content := range contents.Contents {
			switch {
			case content.Text != "":
				parts = append(parts, llms.TextPart(fmt.Sprintf("[Resource: %s]\n%s", name, content.Text)))
			case len(content.Blob) > 0 && isImageMIMEType(content.MIMEType):
				parts = append(parts, llms.BinaryPart(content.MIMEType, content.Blob))
			default:
				logger.ContextKV(ctx, xlog.WARNING,
					"status", "unsupported_resource_content",
					"resource", name,
					"mime_type", content.MIMEType,
				)
			}
		}
	}
	return parts
}

// LoadPrompts renders the selected prompts and joins their text into
// system instructions.
func (s *Selector) LoadPrompts(ctx context.Context, selections []PromptSelection) string {
	var instructions []string
	for _, sel := range selections {
		if _, ok := s.prompts[sel.Name]; !ok {
			continue
		}
		res, err := s.Client.GetPrompt(ctx, sel.Name, sel.Arguments)
		if err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "failed_to_load_prompt",
				"prompt", sel.Name,
				"err", err.Error(),
			)
			continue
		}

		var sb strings.Builder
		for _, msg := range res.Messages {
			if tc, ok := msg.Content.(*mcp.TextContent); ok {
				sb.WriteString(tc.Text)
				sb.WriteString("\n")
			}
		}
		text := strings.TrimSpace(sb.String())
		if text != "" {
			instructions = append(instructions, fmt.Sprintf("[Prompt: %s]\n%s", sel.Name, text))
		}
	}
	return strings.Join(instructions, "\n\n")
}

func (s *Selector) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.LLM.GenerateContent(ctx,
		[]llms.Message{llms.MessageFromTextParts(llms.RoleHuman, prompt)},
		llms.WithMaxTokens(200),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned empty response")
	}
	return resp.Choices[0].Content, nil
}

func unmarshalJSONArray(raw string, v any) error {
	arr := llmutils.ExtractJSONArray(raw)
	if arr == nil {
		return errors.New("response contains no JSON array")
	}
	return errors.WithStack(json.Unmarshal(arr, v))
}

func isImageMIMEType(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}
