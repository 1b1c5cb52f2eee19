package mcpclient

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/promptops/mcpagent/pkg/metricskey"
	"github.com/promptops/mcpagent/tools"
)

// ClientName identifies this client implementation to MCP servers.
const ClientName = "mcpagent"

// ClientVersion is reported during the MCP initialize handshake.
const ClientVersion = "0.1.0"

// Client wraps a single MCP server connection.
// The session is established lazily on first use and reused afterwards.
type Client struct {
	name string
	spec string
	env  []string
	opts *mcp.ClientOptions

	// transport overrides the spec when set, used by tests
	// to connect over in-memory pipes.
	transport mcp.Transport

	connectOnce sync.Once
	connectErr  error
	session     *mcp.ClientSession
}

// Option modifies the Client before it connects.
type Option func(*Client)

// WithTransport overrides the transport spec with a preconstructed transport.
func WithTransport(t mcp.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithKeepAlive enables periodic pings on the session.
func WithKeepAlive(interval time.Duration) Option {
	return func(c *Client) {
		c.opts.KeepAlive = interval
	}
}

// WithToolListChanged registers a callback invoked when the server
// notifies that its tool list has changed.
func WithToolListChanged(fn func(ctx context.Context)) Option {
	return func(c *Client) {
		c.opts.ToolListChangedHandler = func(ctx context.Context, _ *mcp.ToolListChangedRequest) {
			fn(ctx)
		}
	}
}

// New creates a Client for the given server config.
// No connection is made until the first call.
func New(cfg *Config, ops ...Option) *Client {
	c := &Client{
		name: cfg.Name,
		spec: cfg.Transport,
		env:  cfg.Env,
		opts: &mcp.ClientOptions{},
	}
	c.opts.LoggingMessageHandler = func(ctx context.Context, req *mcp.LoggingMessageRequest) {
		logger.ContextKV(ctx, xlog.DEBUG,
			"server", c.name,
			"level", req.Params.Level,
			"logger", req.Params.Logger,
			"data", req.Params.Data,
		)
	}
	for _, op := range ops {
		op(c)
	}
	return c
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

func (c *Client) ensureConnected(ctx context.Context) (*mcp.ClientSession, error) {
	c.connectOnce.Do(func() {
		transport := c.transport
		if transport == nil {
			transport, c.connectErr = c.buildTransport(ctx)
			if c.connectErr != nil {
				return
			}
		}

		impl := &mcp.Implementation{
			Name:    ClientName,
			Version: ClientVersion,
		}
		client := mcp.NewClient(impl, c.opts)
		c.session, c.connectErr = client.Connect(ctx, transport, nil)
		if c.connectErr != nil {
			c.connectErr = errors.WithMessagef(c.connectErr, "failed to connect to MCP server %s", c.name)
			return
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"server", c.name,
			"status", "connected",
		)
	})
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return c.session, nil
}

func (c *Client) buildTransport(ctx context.Context) (mcp.Transport, error) {
	spec := strings.TrimSpace(c.spec)
	if spec == "" {
		return nil, errors.New("transport spec is empty")
	}

	switch {
	case strings.HasPrefix(spec, "stdio://"):
		return c.commandTransport(ctx, strings.TrimPrefix(spec, "stdio://"))
	case strings.HasPrefix(spec, "sse://"):
		return &mcp.SSEClientTransport{Endpoint: "http://" + strings.TrimPrefix(spec, "sse://")}, nil
	case strings.HasPrefix(spec, "http+sse://"):
		return &mcp.SSEClientTransport{Endpoint: "http://" + strings.TrimPrefix(spec, "http+sse://")}, nil
	case strings.HasPrefix(spec, "https+sse://"):
		return &mcp.SSEClientTransport{Endpoint: "https://" + strings.TrimPrefix(spec, "https+sse://")}, nil
	case strings.HasPrefix(spec, "http+stream://"):
		return &mcp.StreamableClientTransport{Endpoint: "http://" + strings.TrimPrefix(spec, "http+stream://")}, nil
	case strings.HasPrefix(spec, "https+stream://"):
		return &mcp.StreamableClientTransport{Endpoint: "https://" + strings.TrimPrefix(spec, "https+stream://")}, nil
	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		return &mcp.StreamableClientTransport{Endpoint: spec}, nil
	default:
		return c.commandTransport(ctx, spec)
	}
}

func (c *Client) commandTransport(ctx context.Context, command string) (mcp.Transport, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.Newf("invalid stdio transport spec: %q", c.spec)
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

// ListTools returns the tool definitions advertised by the server.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer metricskey.PerfMCPCall.MeasureSince(started, c.name, "tools/list")

	var list []*mcp.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			metricskey.StatsMCPCallsFailed.IncrCounter(1, c.name, "tools/list")
			return nil, errors.WithMessagef(err, "failed to list tools from %s", c.name)
		}
		list = append(list, tool)
	}
	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, c.name, "tools/list")
	return list, nil
}

// Tools returns the server's tools adapted for agent use.
func (c *Client) Tools(ctx context.Context) ([]tools.ITool, error) {
	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]tools.ITool, 0, len(defs))
	for _, def := range defs {
		list = append(list, newTool(c, def))
	}
	return list, nil
}

// CallTool invokes a tool by name with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer metricskey.PerfMCPCall.MeasureSince(started, c.name, "tools/call")

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		metricskey.StatsMCPCallsFailed.IncrCounter(1, c.name, "tools/call")
		return nil, errors.WithMessagef(err, "failed to call tool %s on %s", name, c.name)
	}
	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, c.name, "tools/call")
	return res, nil
}

// ListResources returns the resources advertised by the server.
func (c *Client) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer metricskey.PerfMCPCall.MeasureSince(started, c.name, "resources/list")

	var list []*mcp.Resource
	for res, err := range session.Resources(ctx, nil) {
		if err != nil {
			metricskey.StatsMCPCallsFailed.IncrCounter(1, c.name, "resources/list")
			return nil, errors.WithMessagef(err, "failed to list resources from %s", c.name)
		}
		list = append(list, res)
	}
	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, c.name, "resources/list")
	return list, nil
}

// ListResourceTemplates returns the resource templates advertised by the server.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]*mcp.ResourceTemplate, error) {
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer metricskey.PerfMCPCall.MeasureSince(started, c.name, "resources/templates/list")

	var list []*mcp.ResourceTemplate
	for rt, err := range session.ResourceTemplates(ctx, nil) {
		if err != nil {
			metricskey.StatsMCPCallsFailed.IncrCounter(1, c.name, "resources/templates/list")
			return nil, errors.WithMessagef(err, "failed to list resource templates from %s", c.name)
		}
		list = append(list, rt)
	}
	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, c.name, "resources/templates/list")
	return list, nil
}

// ReadResource fetches the content of a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer metricskey.PerfMCPCall.MeasureSince(started, c.name, "resources/read")

	res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		metricskey.StatsMCPCallsFailed.IncrCounter(1, c.name, "resources/read")
		return nil, errors.WithMessagef(err, "failed to read resource %s from %s", uri, c.name)
	}
	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, c.name, "resources/read")
	return res, nil
}

// ListPrompts returns the prompts advertised by the server.
func (c *Client) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer metricskey.PerfMCPCall.MeasureSince(started, c.name, "prompts/list")

	var list []*mcp.Prompt
	for prompt, err := range session.Prompts(ctx, nil) {
		if err != nil {
			metricskey.StatsMCPCallsFailed.IncrCounter(1, c.name, "prompts/list")
			return nil, errors.WithMessagef(err, "failed to list prompts from %s", c.name)
		}
		list = append(list, prompt)
	}
	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, c.name, "prompts/list")
	return list, nil
}

// GetPrompt fetches a prompt by name with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer metricskey.PerfMCPCall.MeasureSince(started, c.name, "prompts/get")

	res, err := session.GetPrompt(ctx, &mcp.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		metricskey.StatsMCPCallsFailed.IncrCounter(1, c.name, "prompts/get")
		return nil, errors.WithMessagef(err, "failed to get prompt %s from %s", name, c.name)
	}
	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, c.name, "prompts/get")
	return res, nil
}

// Close terminates the session if one was established.
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

// ContentText flattens MCP content blocks into a single string.
// Text blocks and embedded text resources are joined with newlines,
// binary blocks are skipped.
func ContentText(content []mcp.Content) string {
	var sb strings.Builder
	write := func(s string) {
		if s == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s)
	}
	for _, block := range content {
		switch c := block.(type) {
		case *mcp.TextContent:
			write(c.Text)
		case *mcp.EmbeddedResource:
			if c.Resource != nil {
				write(c.Resource.Text)
			}
		}
	}
	return sb.String()
}
