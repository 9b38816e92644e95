package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const noResults = "No results"

// MCPConfig configures the connection to the MCP tool service.
type MCPConfig struct {
	Endpoint  string
	Token     string
	Transport string // "sse" (default) or "streamable"
	Timeout   time.Duration
	Client    string
	Version   string
}

// MCPDialer opens a fresh MCP client session per Dial.
type MCPDialer struct {
	config     MCPConfig
	httpClient *http.Client
	client     *mcp.Client
}

// NewMCPDialer creates a dialer for the configured MCP endpoint
func NewMCPDialer(config MCPConfig) *MCPDialer {
	if config.Client == "" {
		config.Client = "seance"
	}
	if config.Version == "" {
		config.Version = "dev"
	}

	var transport http.RoundTripper = http.DefaultTransport
	if config.Token != "" {
		transport = &authTransport{token: config.Token, base: transport}
	}

	return &MCPDialer{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		client: mcp.NewClient(&mcp.Implementation{
			Name:    config.Client,
			Version: config.Version,
		}, nil),
	}
}

// Dial connects and completes the MCP handshake.
func (d *MCPDialer) Dial(ctx context.Context) (Conn, error) {
	var transport mcp.Transport
	switch strings.ToLower(d.config.Transport) {
	case "streamable", "http":
		transport = &mcp.StreamableClientTransport{Endpoint: d.config.Endpoint, HTTPClient: d.httpClient}
	default:
		transport = &mcp.SSEClientTransport{Endpoint: d.config.Endpoint, HTTPClient: d.httpClient}
	}

	session, err := d.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp connect %s: %w", d.config.Endpoint, err)
	}
	return &mcpConn{session: session}, nil
}

type mcpConn struct {
	session *mcp.ClientSession
}

func (c *mcpConn) ListTools(ctx context.Context) ([]ToolSpec, error) {
	var tools []ToolSpec
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("error listing tools: %w", err)
		}
		if tool == nil {
			continue
		}
		spec, err := toToolSpec(tool)
		if err != nil {
			return nil, err
		}
		tools = append(tools, spec)
	}
	return tools, nil
}

func (c *mcpConn) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", name, err)
	}

	text := firstText(result.Content)
	if result.IsError {
		return "", fmt.Errorf("%w: %s: %s", ErrToolFailed, name, text)
	}
	return text, nil
}

func (c *mcpConn) Close() error {
	return c.session.Close()
}

// firstText returns the first content block as text, the way the service's
// answers are consumed: a search returns a single text block.
func firstText(content []mcp.Content) string {
	if len(content) == 0 {
		return noResults
	}
	if tc, ok := content[0].(*mcp.TextContent); ok {
		return tc.Text
	}
	data, err := json.Marshal(content[0])
	if err != nil {
		return noResults
	}
	return string(data)
}

// toToolSpec flattens the published input schema to name, type and
// description per property.
func toToolSpec(tool *mcp.Tool) (ToolSpec, error) {
	spec := ToolSpec{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters: ParameterSchema{
			Properties: map[string]any{},
			Required:   []string{},
		},
	}
	if tool.InputSchema == nil {
		return spec, nil
	}

	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return spec, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
	}
	var raw struct {
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return spec, fmt.Errorf("failed to parse input schema for %s: %w", tool.Name, err)
	}

	for name, prop := range raw.Properties {
		typ, _ := prop["type"].(string)
		if typ == "" {
			typ = "string"
		}
		desc, _ := prop["description"].(string)
		spec.Parameters.Properties[name] = map[string]any{
			"type":        typ,
			"description": desc,
		}
	}
	if raw.Required != nil {
		spec.Parameters.Required = raw.Required
	}
	return spec, nil
}

// authTransport injects a bearer token into every request to the tool service.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
