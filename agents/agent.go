package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"

	"github.com/promptops/mcpagent/chatmodel"
	"github.com/promptops/mcpagent/mcpclient"
	"github.com/promptops/mcpagent/pkg/llms"
	"github.com/promptops/mcpagent/pkg/llmutils"
	"github.com/promptops/mcpagent/pkg/metricskey"
	"github.com/promptops/mcpagent/pkg/prompts"
	"github.com/promptops/mcpagent/pkg/schema"
	"github.com/promptops/mcpagent/tools"
)

// ProvidePromptInputsFunc returns extra inputs for the system prompt,
// resolved at run time from the user input.
type ProvidePromptInputsFunc func(ctx context.Context, input string) (map[string]any, error)

// Agent mediates between an LLM completion endpoint and a set of tools.
// It drives the generate / tool-call / report-result loop until the model
// produces a final answer or a limit is reached.
type Agent struct {
	LLM llms.Model

	toolsByName map[string]tools.ITool
	toolsNames  []string
	tools       []tools.ITool
	llmToolDefs []llms.Tool

	cfg         *Config
	name        string
	description string
	sysprompt   prompts.FormatPrompter
	runMessages []llms.Message
	onPrompt    ProvidePromptInputsFunc
	inputParser func(string) (string, error)
}

var _ IAgent = (*Agent)(nil)

// NewAgent creates an Agent backed by the given model and system prompt.
func NewAgent(llmModel llms.Model, sysprompt prompts.FormatPrompter, options ...Option) *Agent {
	return &Agent{
		cfg:         NewConfig(options...),
		LLM:         llmModel,
		sysprompt:   sysprompt,
		name:        "Generic Agent",
		description: "An AI agent that can perform various tasks.",
	}
}

// WithName sets the name of the agent, when used in a prompt of other agents or LLMs.
func (a *Agent) WithName(name string) *Agent {
	a.name = name
	return a
}

// WithDescription sets the description of the agent, to be used in the prompt of other agents or LLMs.
func (a *Agent) WithDescription(description string) *Agent {
	a.description = description
	return a
}

// WithInputParser sets the input parser for the agent.
func (a *Agent) WithInputParser(inputParser func(string) (string, error)) {
	a.inputParser = inputParser
}

// WithPromptInputProvider sets a provider of extra system prompt inputs.
func (a *Agent) WithPromptInputProvider(cb ProvidePromptInputsFunc) {
	a.onPrompt = cb
}

// Name returns the name of the agent.
func (a *Agent) Name() string {
	return a.name
}

// Description returns the description of the agent.
// Should not exceed LLM model limit.
func (a *Agent) Description() string {
	return a.description
}

// GetTools returns the registered tools.
func (a *Agent) GetTools() []tools.ITool {
	return a.tools
}

// GetCallConfig returns a per call config with the given overrides.
func (a *Agent) GetCallConfig(opts ...Option) *Config {
	return a.cfg.Apply(opts...)
}

// WithTools adds new tools to the agent, existing tools are not replaced.
func (a *Agent) WithTools(list ...tools.ITool) *Agent {
	if a.toolsByName == nil {
		a.toolsByName = make(map[string]tools.ITool)
	}
	for _, tool := range list {
		name := tool.Name()
		// use lowercase for the key
		nameLowerCase := strings.ToLower(name)
		if a.toolsByName[nameLowerCase] == nil {
			a.toolsByName[nameLowerCase] = tool
			a.toolsNames = append(a.toolsNames, name)
			a.tools = append(a.tools, tool)
			params, err := schema.FunctionParameters(tool.Parameters())
			if err != nil {
				logger.KV(xlog.WARNING,
					"status", "invalid_tool_parameters",
					"tool", name,
					"err", err.Error())
			}
			t := llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        name,
					Description: tool.Description(),
					Parameters:  params,
				},
			}
			a.llmToolDefs = append(a.llmToolDefs, t)
		}
	}

	return a
}

// WithMCPServers discovers the tools of the given MCP clients and
// registers them with the agent.
func (a *Agent) WithMCPServers(ctx context.Context, clients ...*mcpclient.Client) (*Agent, error) {
	for _, client := range clients {
		list, err := client.Tools(ctx)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to load tools from MCP server %s", client.Name())
		}
		a.WithTools(list...)
	}
	return a, nil
}

// LastRunMessages returns the messages produced by the last run,
// including the tool exchanges.
func (a *Agent) LastRunMessages() []llms.Message {
	return a.runMessages
}

// FormatPrompt renders the system prompt with the given inputs.
func (a *Agent) FormatPrompt(promptInputs map[string]any) (llms.PromptValue, error) {
	return a.sysprompt.FormatPrompt(llmutils.MergeInputs(a.cfg.PromptInput, promptInputs))
}

// GetPromptInputVariables returns the input variables of the system prompt.
func (a *Agent) GetPromptInputVariables() []string {
	return a.sysprompt.GetInputVariables()
}

// GetSystemPrompt generates the system prompt for the agent.
func (a *Agent) GetSystemPrompt(ctx context.Context, input string, promptInputs map[string]any) (string, error) {
	if a.onPrompt != nil {
		extra, err := a.onPrompt(ctx, input)
		if err != nil {
			return "", errors.WithMessage(err, "failed to get prompt inputs")
		}
		if len(extra) > 0 {
			promptInputs = llmutils.MergeInputs(promptInputs, extra)
		}
	}

	promptValue, err := a.FormatPrompt(promptInputs)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(promptValue.String(), "\n"), nil
}

// Run executes the agent loop for the given input.
func (a *Agent) Run(ctx context.Context, input *CallInput) (*llms.ContentResponse, error) {
	started := time.Now()
	defer metricskey.PerfAgentRun.MeasureSince(started, a.Name())

	// reset the run messages
	a.runMessages = nil
	// create a per call config
	cfg := a.GetCallConfig(input.Options...)

	callback := cfg.CallbackHandler
	if callback != nil {
		callback.OnAgentStart(ctx, a, input.Input)
	}

	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	resp, messages, err := a.run(ctx, cfg, input)
	if err != nil {
		metricskey.StatsAgentRunsFailed.IncrCounter(1, a.Name())
		if callback != nil {
			callback.OnAgentError(ctx, a, input.Input, err, messages)
		}
		return nil, err
	}
	metricskey.StatsAgentRunsSucceeded.IncrCounter(1, a.Name())
	if callback != nil {
		callback.OnAgentEnd(ctx, a, input.Input, resp, messages)
	}
	return resp, nil
}

// run executes the main loop, generating a response based on the input
// and executing the requested tool calls until the model stops asking.
func (a *Agent) run(ctx context.Context, cfg *Config, input *CallInput) (*llms.ContentResponse, []llms.Message, error) {
	chatID, _, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil && cfg.Store != nil {
		return nil, nil, errors.WithStack(chatmodel.ErrInvalidChatContext)
	}

	systemPrompt, err := a.GetSystemPrompt(ctx, input.Input, input.PromptInputs)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to format system prompt")
	}

	messageHistory := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, systemPrompt),
	}
	for _, example := range cfg.Examples {
		messageHistory = append(messageHistory, llms.MessageFromTextParts(llms.RoleHuman, example.Prompt))
		messageHistory = append(messageHistory, llms.MessageFromTextParts(llms.RoleAI, example.Completion))
	}
	if cfg.Store != nil {
		prevMessages := cfg.Store.Messages(ctx)
		logger.ContextKV(ctx, xlog.DEBUG,
			"agent", a.name,
			"chat_id", chatID,
			"message_history", len(prevMessages))
		messageHistory = append(messageHistory, prevMessages...)
	}

	parsedInput := input.Input
	if parsedInput != "" {
		if a.inputParser != nil {
			parsedInput, err = a.inputParser(parsedInput)
			if err != nil {
				return nil, messageHistory, errors.WithMessage(err, "failed to parse input")
			}
		}

		if cfg.IsGeneric {
			a.runMessages = append(a.runMessages, llms.MessageFromTextParts(llms.RoleGeneric, llmutils.AddComment("agent", a.name, "question", parsedInput)))
		} else {
			a.runMessages = append(a.runMessages, llms.MessageFromTextParts(llms.RoleHuman, parsedInput))
		}
		messageHistory = append(messageHistory, llms.MessageFromTextParts(llms.RoleHuman, parsedInput))
	}

	if len(input.Messages) > 0 {
		messageHistory = append(messageHistory, input.Messages...)
	}

	var extraOptions []llms.CallOption
	if len(a.llmToolDefs) > 0 {
		prov := a.LLM.GetProviderType()
		if !prov.Supports(llms.CapabilityFunctionCalling) {
			return nil, messageHistory, errors.Newf("agent %s: the LLM does not support function calling", a.name)
		}
		extraOptions = append(extraOptions, llms.WithTools(a.llmToolDefs))
	}
	callOpts := cfg.GetCallOptions(extraOptions...)

	agentName := a.Name()
	modelName := a.LLM.GetName()

	var totalToolExecuted int
	var resp *llms.ContentResponse
	retryCount := 0
	consecutiveNotFoundCount := 0

	bytesLimit := values.NumbersCoalesce(cfg.MaxContentSize, uint64(DefaultMaxContentSize))
	toolsLimit := values.NumbersCoalesce(cfg.MaxToolCalls, DefaultMaxToolCalls)
	messagesLimit := values.NumbersCoalesce(cfg.MaxMessages, DefaultMaxMessages)
	for {
		if err := ctx.Err(); err != nil {
			return nil, messageHistory, errors.WithMessagef(ErrCancelled, "agent %s: %s", agentName, err.Error())
		}
		if len(messageHistory) >= messagesLimit {
			return nil, messageHistory, errors.Newf("agent %s: the messages count exceeded limit", agentName)
		}
		bytesSent := llmutils.CountMessagesContentSize(messageHistory)
		if bytesSent > bytesLimit {
			return nil, messageHistory, errors.Newf("agent %s: the content size exceeded limit", agentName)
		}

		if cfg.CallbackHandler != nil {
			cfg.CallbackHandler.OnAgentLLMCallStart(ctx, a, a.LLM, messageHistory)
		}

		metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messageHistory)), agentName, modelName)
		metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), agentName, modelName)

		resp, err = a.LLM.GenerateContent(ctx, messageHistory, callOpts...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, messageHistory, errors.WithMessagef(ErrCancelled, "agent %s: %s", agentName, ctx.Err().Error())
			}
			return nil, messageHistory, errors.WithMessagef(ErrCompletionFailure, "agent %s: %s", agentName, err.Error())
		}

		if cfg.CallbackHandler != nil {
			cfg.CallbackHandler.OnAgentLLMCallEnd(ctx, a, a.LLM, resp)
		}

		bytesReceived := llmutils.CountResponseContentSize(resp)
		metricskey.StatsLLMBytesReceived.IncrCounter(float64(bytesReceived), agentName, modelName)

		tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
		metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), agentName, modelName)
		metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), agentName, modelName)
		metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), agentName, modelName)

		// Check for empty response and retry if needed
		if len(resp.Choices) == 0 {
			retryCount++
			metricskey.StatsCompletionsRetried.IncrCounter(1, agentName)
			if retryCount >= DefaultMaxRetries {
				logger.ContextKV(ctx, xlog.ERROR,
					"agent", agentName,
					"status", "max_retries_exceeded",
					"input", slices.StringUpto(parsedInput, 64),
					"retry_count", retryCount,
				)
				return nil, messageHistory, errors.WithMessagef(ErrCompletionFailure, "agent %s: LLM returned empty response after %d retries", agentName, retryCount)
			}
			logger.ContextKV(ctx, xlog.WARNING,
				"agent", agentName,
				"status", "retrying_empty_response",
				"retry_count", retryCount,
			)
			continue
		}

		if !requestsToolUse(resp) {
			break
		}
		if totalToolExecuted >= toolsLimit {
			return nil, messageHistory, errors.WithMessagef(ErrLoopBoundExceeded, "agent %s: executed %d tool calls", agentName, totalToolExecuted)
		}

		var toolExecuted int
		var notFoundCount int
		toolExecuted, notFoundCount, messageHistory, err = a.executeToolCalls(ctx, cfg, messageHistory, resp)
		if err != nil {
			return nil, messageHistory, err
		}
		if toolExecuted == 0 {
			break
		}
		totalToolExecuted += toolExecuted

		if notFoundCount > 0 {
			consecutiveNotFoundCount += notFoundCount
			if consecutiveNotFoundCount > DefaultMaxNotFound {
				return nil, messageHistory, errors.WithMessagef(ErrUnknownTool, "agent %s: the number of not found tools is exceeded", agentName)
			}
		} else {
			consecutiveNotFoundCount = 0
		}
	}

	choices := resp.Choices

	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", agentName,
		"status", "response_analysis",
		"choices_count", len(choices),
		"tool_calls", totalToolExecuted,
	)

	result := choices[0].Content
	if len(choices) > 1 {
		// Handle multiple choices by combining their content
		var combinedContent strings.Builder
		for i, choice := range choices {
			if i > 0 {
				combinedContent.WriteString("\n\n")
			}
			combinedContent.WriteString(choice.Content)
		}
		result = combinedContent.String()
	}

	messageHistory = append(messageHistory, llms.MessageFromTextParts(llms.RoleAI, result))

	if cfg.IsGeneric {
		a.runMessages = append(a.runMessages, llms.MessageFromTextParts(llms.RoleGeneric, llmutils.AddComment("agent", agentName, "observation", result)))
	} else {
		a.runMessages = append(a.runMessages, llms.MessageFromTextParts(llms.RoleAI, result))
	}

	if cfg.Store != nil && !cfg.SkipMessageHistory {
		for _, msg := range a.runMessages {
			_ = cfg.Store.Add(ctx, msg)
		}

		logger.ContextKV(ctx, xlog.DEBUG,
			"agent", agentName,
			"chat_id", chatID,
			"status", "added_message_history",
			"message_history", len(a.runMessages),
			"human", slices.StringUpto(parsedInput, 64),
			"ai", slices.StringUpto(result, 64),
		)
	}

	return resp, messageHistory, nil
}

func requestsToolUse(resp *llms.ContentResponse) bool {
	for _, choice := range resp.Choices {
		if choice.RequestsToolUse() {
			return true
		}
	}
	return false
}

// executeToolCalls executes the tool calls in the response and returns the
// updated message history. Tool calls run sequentially unless concurrent
// execution is enabled, the results are appended in the request order
// either way so each result follows its call.
func (a *Agent) executeToolCalls(ctx context.Context, cfg *Config, messageHistory []llms.Message, resp *llms.ContentResponse) (int, int, []llms.Message, error) {
	executedCount := 0
	notFoundCount := 0

	type toolCallResult struct {
		toolCall llms.ToolCall
		response string
		err      error
		notFound bool
	}

	var toolCalls []llms.ToolCall

	// Collect all tool calls first and add them to message history
	for _, choice := range resp.Choices {
		var choiceToolCalls []llms.ToolCall

		for i, toolCall := range choice.ToolCalls {
			executedCount++

			if toolCall.ID == "" {
				toolCall.ID = fmt.Sprintf("%s_%d", toolCall.FunctionCall.Name, i)
			}
			toolCall.Type = values.StringsCoalesce(toolCall.Type, "function")

			choiceToolCalls = append(choiceToolCalls, toolCall)

			logger.ContextKV(ctx, xlog.DEBUG,
				"agent", a.name,
				"status", "tool_call_found",
				"tool_call_id", toolCall.ID,
				"tool_call_name", toolCall.FunctionCall.Name,
			)
		}

		if len(choiceToolCalls) == 0 {
			continue
		}

		toolCalls = append(toolCalls, choiceToolCalls...)
		assistantResponse := llms.MessageFromToolCalls(llms.RoleAI, choiceToolCalls...)
		messageHistory = append(messageHistory, assistantResponse)
		if !cfg.SkipMessageHistory && !cfg.SkipToolHistory {
			a.runMessages = append(a.runMessages, assistantResponse)
		}
	}

	if executedCount == 0 {
		return executedCount, notFoundCount, messageHistory, nil
	}

	results := make([]toolCallResult, len(toolCalls))

	callOne := func(tc llms.ToolCall) toolCallResult {
		toolName := tc.FunctionCall.Name
		toolArgs := tc.FunctionCall.Arguments

		// use lowercase for the key
		tool := a.toolsByName[strings.ToLower(toolName)]
		if tool == nil {
			metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
			if cfg.CallbackHandler != nil {
				cfg.CallbackHandler.OnToolNotFound(ctx, a, toolName)
			}

			availableTools := strings.Join(a.toolsNames, ", ")
			logger.ContextKV(ctx, xlog.WARNING,
				"agent", a.name,
				"status", "tool_not_found",
				"tool_name", toolName,
				"available_tools", availableTools,
			)

			return toolCallResult{
				toolCall: tc,
				response: fmt.Sprintf("Tool `%s` not found. Please check the tool name and try again with exact match. Available tools: %s", toolName, availableTools),
				notFound: true,
			}
		}

		if cfg.CallbackHandler != nil {
			cfg.CallbackHandler.OnToolStart(ctx, tool, a.Name(), toolArgs)
		}

		callCtx := ctx
		if cfg.ToolCallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, cfg.ToolCallTimeout)
			defer cancel()
		}

		started := time.Now()
		res, err := tool.Call(callCtx, toolArgs)
		metricskey.PerfToolCall.MeasureSince(started, toolName)

		if err != nil {
			metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
			if cfg.CallbackHandler != nil {
				cfg.CallbackHandler.OnToolError(ctx, tool, a.Name(), toolArgs, err)
			}
			return toolCallResult{
				toolCall: tc,
				err:      err,
			}
		}
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)

		if cfg.CallbackHandler != nil {
			cfg.CallbackHandler.OnToolEnd(ctx, tool, a.Name(), toolArgs, res)
		}

		return toolCallResult{
			toolCall: tc,
			response: res,
		}
	}

	if cfg.ConcurrentToolCalls && len(toolCalls) > 1 {
		var wg sync.WaitGroup
		wg.Add(len(toolCalls))
		for i, toolCall := range toolCalls {
			go func(index int, tc llms.ToolCall) {
				defer wg.Done()
				results[index] = callOne(tc)
			}(i, toolCall)
		}
		wg.Wait()
	} else {
		for i, toolCall := range toolCalls {
			results[i] = callOne(toolCall)
		}
	}

	// Report results in the same order as the original tool calls,
	// each paired by the tool call ID.
	for _, result := range results {
		toolName := result.toolCall.FunctionCall.Name

		if result.notFound {
			notFoundCount++
			if cfg.AbortOnUnknownTool {
				return executedCount, notFoundCount, messageHistory, errors.WithMessagef(ErrUnknownTool, "agent %s: tool %s", a.name, toolName)
			}
		}

		content := result.response
		isError := result.notFound
		if result.err != nil {
			// a cancelled invocation produces no result message
			if ctx.Err() != nil {
				return executedCount, notFoundCount, messageHistory, errors.WithMessagef(ErrCancelled, "agent %s: %s", a.name, ctx.Err().Error())
			}
			if cfg.AbortOnToolError {
				return executedCount, notFoundCount, messageHistory, errors.WithMessagef(ErrToolInvocation, "agent %s: tool %s: %s", a.name, toolName, result.err.Error())
			}
			// Format the error as a message for the LLM
			content = fmt.Sprintf("Tool call failed: %s", result.err.Error())
			isError = true
			logger.ContextKV(ctx, xlog.WARNING,
				"agent", a.name,
				"status", "tool_call_failed",
				"tool", toolName,
				"err", result.err.Error(),
			)
		}

		toolCallResponse := llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
			ToolCallID: result.toolCall.ID,
			Name:       toolName,
			Content:    content,
			IsError:    isError,
		})

		logger.ContextKV(ctx, xlog.DEBUG,
			"agent", a.name,
			"status", "tool_call_response",
			"tool_call_id", result.toolCall.ID,
			"tool_name", toolName,
			"content_length", len(content),
		)

		messageHistory = append(messageHistory, toolCallResponse)

		if !cfg.SkipMessageHistory && !cfg.SkipToolHistory {
			a.runMessages = append(a.runMessages, toolCallResponse)
		}
	}

	return executedCount, notFoundCount, messageHistory, nil
}
