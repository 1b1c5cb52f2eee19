// Package agents implements the tool-use orchestration loop between an
// LLM completion endpoint and MCP tools.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/effective-security/xlog"

	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/promptops/mcpagent/tools"
)

var logger = xlog.NewPackageLogger("github.com/promptops/mcpagent", "agents")

// IAgent is the minimal surface other agents and orchestrators depend on.
type IAgent interface {
	// Name returns the name of the agent.
	Name() string
	// Description returns the description of the agent, to be used in
	// the prompt of other agents or LLMs.
	Description() string

	// Run executes the agent loop for the given input.
	Run(ctx context.Context, input *CallInput) (*llms.ContentResponse, error)
}

// CallInput carries the user input and per-run settings.
type CallInput struct {
	// Input is the user question or instruction.
	Input string
	// PromptInputs are merged into the system prompt template inputs.
	PromptInputs map[string]any
	// Messages are appended to the history after the user message,
	// used to replay prior tool exchanges.
	Messages []llms.Message
	// Options override the agent config for this run only.
	Options []Option
}

// Callback receives run lifecycle events.
type Callback interface {
	tools.Callback
	OnAgentStart(ctx context.Context, agent IAgent, input string)
	OnAgentEnd(ctx context.Context, agent IAgent, input string, resp *llms.ContentResponse, messages []llms.Message)
	OnAgentError(ctx context.Context, agent IAgent, input string, err error, messages []llms.Message)
	OnAgentLLMCallStart(ctx context.Context, agent IAgent, llm llms.Model, messages []llms.Message)
	OnAgentLLMCallEnd(ctx context.Context, agent IAgent, llm llms.Model, resp *llms.ContentResponse)
	OnToolNotFound(ctx context.Context, agent IAgent, tool string)
}

// GetDescriptions returns a markdown list describing the agents,
// to be embedded in a prompt of a coordinating agent.
func GetDescriptions(list ...IAgent) string {
	var ts strings.Builder
	for _, item := range list {
		ts.WriteString(fmt.Sprintf("- `%s`: %s\n", item.Name(), item.Description()))
	}
	return ts.String()
}

// MapAgents indexes agents by name.
func MapAgents(list ...IAgent) map[string]IAgent {
	if len(list) == 0 {
		return nil
	}
	m := make(map[string]IAgent, len(list))
	for _, a := range list {
		m[a.Name()] = a
	}
	return m
}
