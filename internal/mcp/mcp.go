// Package mcp holds the shared vocabulary for connecting Cherry to Model
// Context Protocol tool servers. The client implementation lives in
// [github.com/MrWong99/cherry/internal/mcp/mcphost].
package mcp

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Unique per host.
	Name string

	Transport Transport

	// Command is the executable and arguments for stdio servers.
	Command string

	// URL is the endpoint for streamable-http servers.
	URL string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// ToolResult is the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output.
	Content string

	// IsError marks an application-level failure reported by the tool. A
	// transport failure is returned as a Go error instead.
	IsError bool
}
