package mcpclient

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/promptops/mcpagent/pkg/llms"
)

// Hooks are optional handlers for server-initiated MCP requests and
// notifications. Unset slots keep the client defaults.
type Hooks struct {
	// SamplingModel serves sampling/createMessage requests from the
	// server with a local completion call.
	SamplingModel llms.Model

	// Elicitation serves elicitation requests from the server.
	Elicitation func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error)

	// OnLoggingMessage receives log notifications from the server.
	OnLoggingMessage func(ctx context.Context, params *mcp.LoggingMessageParams)

	// List-changed notifications.
	OnToolListChanged     func(ctx context.Context)
	OnResourceListChanged func(ctx context.Context)
	OnPromptListChanged   func(ctx context.Context)
}

// WithHooks installs the given hooks on the client.
func WithHooks(h *Hooks) Option {
	return func(c *Client) {
		if h.SamplingModel != nil {
			c.opts.CreateMessageHandler = samplingHandler(h.SamplingModel)
		}
		if h.Elicitation != nil {
			c.opts.ElicitationHandler = h.Elicitation
		}
		if h.OnLoggingMessage != nil {
			c.opts.LoggingMessageHandler = func(ctx context.Context, req *mcp.LoggingMessageRequest) {
				h.OnLoggingMessage(ctx, req.Params)
			}
		}
		if h.OnToolListChanged != nil {
			c.opts.ToolListChangedHandler = func(ctx context.Context, _ *mcp.ToolListChangedRequest) {
				h.OnToolListChanged(ctx)
			}
		}
		if h.OnResourceListChanged != nil {
			c.opts.ResourceListChangedHandler = func(ctx context.Context, _ *mcp.ResourceListChangedRequest) {
				h.OnResourceListChanged(ctx)
			}
		}
		if h.OnPromptListChanged != nil {
			c.opts.PromptListChangedHandler = func(ctx context.Context, _ *mcp.PromptListChangedRequest) {
				h.OnPromptListChanged(ctx)
			}
		}
	}
}

// WithSamplingModel serves server sampling requests with the given model.
func WithSamplingModel(m llms.Model) Option {
	return func(c *Client) {
		c.opts.CreateMessageHandler = samplingHandler(m)
	}
}

func samplingHandler(m llms.Model) func(context.Context, *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	return func(ctx context.Context, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
		messages := samplingMessages(req.Params)

		var callOpts []llms.CallOption
		if req.Params.MaxTokens > 0 {
			callOpts = append(callOpts, llms.WithMaxTokens(int(req.Params.MaxTokens)))
		}
		if req.Params.Temperature > 0 {
			callOpts = append(callOpts, llms.WithTemperature(req.Params.Temperature))
		}
		if len(req.Params.StopSequences) > 0 {
			callOpts = append(callOpts, llms.WithStopWords(req.Params.StopSequences))
		}

		resp, err := m.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			return nil, errors.WithMessage(err, "sampling request failed")
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("sampling request returned empty response")
		}

		choice := resp.Choices[0]
		return &mcp.CreateMessageResult{
			Content:    &mcp.TextContent{Text: choice.Content},
			Model:      m.GetName(),
			Role:       "assistant",
			StopReason: choice.StopReason,
		}, nil
	}
}

func samplingMessages(params *mcp.CreateMessageParams) []llms.Message {
	var messages []llms.Message
	if params.SystemPrompt != "" {
		messages = append(messages, llms.MessageFromTextParts(llms.RoleSystem, params.SystemPrompt))
	}
	for _, msg := range params.Messages {
		role := llms.RoleAI
		if msg.Role == "user" {
			role = llms.RoleHuman
		}
		if tc, ok := msg.Content.(*mcp.TextContent); ok {
			messages = append(messages, llms.MessageFromTextParts(role, tc.Text))
		}
	}
	return messages
}
