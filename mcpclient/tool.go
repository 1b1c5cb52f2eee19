package mcpclient

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/promptops/mcpagent/tools"
)

// Tool adapts a remote MCP tool to the agent tool interface.
// Call arguments are passed through as the JSON the model produced.
type Tool struct {
	client      *Client
	name        string
	description string
	params      any
}

var _ tools.ITool = (*Tool)(nil)

func newTool(client *Client, def *mcp.Tool) *Tool {
	return &Tool{
		client:      client,
		name:        def.Name,
		description: def.Description,
		params:      def.InputSchema,
	}
}

func (t *Tool) Name() string {
	return t.name
}

func (t *Tool) Description() string {
	return t.description
}

func (t *Tool) Parameters() any {
	return t.params
}

// Call invokes the remote tool.
// A result flagged as an error by the server is returned as an error,
// with the server's diagnostic text as the message.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	var args map[string]any
	if input != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", errors.WithMessagef(err, "failed to unmarshal arguments for tool %s", t.name)
		}
	}

	res, err := t.client.CallTool(ctx, t.name, args)
	if err != nil {
		return "", err
	}

	content := ContentText(res.Content)
	if res.IsError {
		return "", errors.Newf("tool %s returned an error: %s", t.name, content)
	}
	return content, nil
}
