package openaiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
	"github.com/promptops/mcpagent/pkg/llms"
)

// ResponseFormat controls the output format of the chat completion.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ResponseFormatJSON requests a JSON object response.
var ResponseFormatJSON = &ResponseFormat{Type: "json_object"}

// ChatRequest is a request to the chat completions endpoint.
type ChatRequest struct {
	Model               string          `json:"model"`
	Messages            []*ChatMessage  `json:"messages"`
	Temperature         float64         `json:"temperature,omitempty"`
	TopP                float64         `json:"top_p,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	N                   int             `json:"n,omitempty"`
	StopWords           []string        `json:"stop,omitempty"`
	Seed                int             `json:"seed,omitempty"`
	Tools               []Tool          `json:"tools,omitempty"`
	ToolChoice          any             `json:"tool_choice,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
	Stream              bool            `json:"stream,omitempty"`

	StreamingFunc func(ctx context.Context, chunk []byte) error `json:"-"`
}

// Tool is a tool the model may call.
type Tool struct {
	Type     ToolType           `json:"type"`
	Function FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// ToolCall is a call to a tool requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     ToolType     `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is a message in a chat request.
type ChatMessage struct {
	Role string
	// Content is the plain text content, used when MultiContent is empty.
	Content string
	// MultiContent holds multimodal content parts.
	MultiContent []llms.ContentPart

	// ToolCalls are the calls requested by the assistant.
	ToolCalls []ToolCall
	// ToolCallID pairs a tool role message with the call it answers.
	ToolCallID string
}

type chatMessagePart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *chatMessageImage `json:"image_url,omitempty"`
}

type chatMessageImage struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// MarshalJSON implements the wire format: content is either a plain string
// or an array of typed parts.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	raw := struct {
		Role       string     `json:"role"`
		Content    any        `json:"content"`
		ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
		ToolCallID string     `json:"tool_call_id,omitempty"`
	}{
		Role:       m.Role,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}

	if len(m.MultiContent) > 0 {
		var parts []chatMessagePart
		for _, p := range m.MultiContent {
			switch pp := p.(type) {
			case llms.TextContent:
				parts = append(parts, chatMessagePart{Type: "text", Text: pp.Text})
			case llms.ImageURLContent:
				parts = append(parts, chatMessagePart{
					Type: "image_url",
					ImageURL: &chatMessageImage{
						URL:    pp.URL,
						Detail: pp.Detail,
					},
				})
			case llms.BinaryContent:
				if !strings.HasPrefix(pp.MIMEType, "image/") {
					return nil, errors.Errorf("unsupported binary content type: %s", pp.MIMEType)
				}
				url := fmt.Sprintf("data:%s;base64,%s", pp.MIMEType, base64.StdEncoding.EncodeToString(pp.Data))
				parts = append(parts, chatMessagePart{
					Type:     "image_url",
					ImageURL: &chatMessageImage{URL: url},
				})
			default:
				return nil, errors.Errorf("unsupported content part type: %T", p)
			}
		}
		raw.Content = parts
	} else if m.Content != "" || len(m.ToolCalls) == 0 {
		raw.Content = m.Content
	}

	return json.Marshal(raw)
}

// ChatCompletionResponse is a response from the chat completions endpoint.
type ChatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Model   string                  `json:"model"`
	Choices []*ChatCompletionChoice `json:"choices"`
	Usage   ChatUsage               `json:"usage"`
}

type ChatCompletionChoice struct {
	Index        int                 `json:"index"`
	Message      ChatResponseMessage `json:"message"`
	FinishReason ChatFinishReason    `json:"finish_reason"`
}

type ChatFinishReason string

type ChatResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CreateChat creates a chat completion.
func (c *Client) CreateChat(ctx context.Context, r *ChatRequest) (*ChatCompletionResponse, error) {
	if r.Model == "" {
		if c.Model == "" {
			r.Model = DefaultChatModel
		} else {
			r.Model = c.Model
		}
	}
	resp, err := c.createChat(ctx, r)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

func (c *Client) createChat(ctx context.Context, payload *ChatRequest) (*ChatCompletionResponse, error) {
	if payload.StreamingFunc != nil {
		payload.Stream = true
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	u := c.buildURL("/chat/completions", payload.Model)
	logger.ContextKV(ctx, xlog.DEBUG, "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(req)

	r, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = r.Body.Close() }()

	if r.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API returned unexpected status code: %d", r.StatusCode)
		if r.StatusCode == http.StatusNotFound {
			msg += ": url: " + u
		}
		var errResp errorMessage
		if err := json.NewDecoder(r.Body).Decode(&errResp); err != nil {
			return nil, errors.New(msg)
		}
		return nil, errors.Errorf("%s: %s", msg, errResp.Error.Message)
	}

	if payload.Stream {
		return parseStreamingChatResponse(ctx, r, payload)
	}

	var response ChatCompletionResponse
	if err := json.NewDecoder(r.Body).Decode(&response); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &response, nil
}

type streamedChatResponsePayload struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int      `json:"index"`
				ID       string   `json:"id"`
				Type     ToolType `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason ChatFinishReason `json:"finish_reason"`
	} `json:"choices"`
	Usage *ChatUsage `json:"usage"`
}

func parseStreamingChatResponse(ctx context.Context, r *http.Response, payload *ChatRequest) (*ChatCompletionResponse, error) {
	response := &ChatCompletionResponse{
		Choices: []*ChatCompletionChoice{{}},
	}
	choice := response.Choices[0]
	var content strings.Builder
	var toolCalls []ToolCall

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk streamedChatResponsePayload
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, errors.Wrap(err, "decode stream chunk")
		}

		if chunk.Usage != nil {
			response.Usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0]

		if delta.FinishReason != "" {
			choice.FinishReason = delta.FinishReason
		}
		if delta.Delta.Content != "" {
			content.WriteString(delta.Delta.Content)
			if payload.StreamingFunc != nil {
				if err := payload.StreamingFunc(ctx, []byte(delta.Delta.Content)); err != nil {
					return nil, errors.Wrap(err, "streaming function error")
				}
			}
		}
		for _, tc := range delta.Delta.ToolCalls {
			// A new tool call starts with an ID, subsequent chunks
			// append argument fragments to the call at the same index.
			if tc.Index >= len(toolCalls) {
				toolCalls = append(toolCalls, ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					Function: ToolFunction{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			} else {
				toolCalls[tc.Index].Function.Arguments += tc.Function.Arguments
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read stream")
	}

	choice.Message = ChatResponseMessage{
		Role:      "assistant",
		Content:   content.String(),
		ToolCalls: toolCalls,
	}
	return response, nil
}
