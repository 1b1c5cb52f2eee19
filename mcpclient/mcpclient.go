// Package mcpclient connects to remote MCP servers and exposes their
// tools, resources and prompts to agents.
package mcpclient

import (
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/promptops/mcpagent", "mcpclient")

// Config describes a connection to a remote MCP server.
//
// Transport is a short spec string:
//
//	stdio://npx some-mcp-server --flag
//	sse://localhost:8080/sse
//	http+sse://localhost:8080/sse
//	http+stream://localhost:8080/mcp
//	https://example.com/mcp
//	npx some-mcp-server --flag
//
// A bare command without a scheme is launched over stdio.
// Plain http:// and https:// URLs use the streamable HTTP transport.
type Config struct {
	Name      string   `json:"name" yaml:"name"`
	Transport string   `json:"transport" yaml:"transport"`
	Env       []string `json:"env,omitempty" yaml:"env,omitempty"`
}
