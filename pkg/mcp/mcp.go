// Package mcp manages connections to Model Context Protocol servers and
// exposes their tools through the completion layer's invoker interface.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/docpilot/docpilot/pkg/llm"
	"github.com/docpilot/docpilot/pkg/logger"
	"github.com/docpilot/docpilot/pkg/version"
)

type ServerType string

const (
	ServerTypeHTTP  ServerType = "http"
	ServerTypeSSE   ServerType = "sse"
	ServerTypeStdio ServerType = "stdio"
)

// ServerConfig describes one MCP endpoint.
type ServerConfig struct {
	Name        string            `json:"name" mapstructure:"name"`
	Type        ServerType        `json:"type" mapstructure:"type"`
	URL         string            `json:"url" mapstructure:"url"`
	Headers     map[string]string `json:"headers" mapstructure:"headers"`
	Description string            `json:"description" mapstructure:"description"`
	Command     string            `json:"command" mapstructure:"command"`
	Args        []string          `json:"args" mapstructure:"args"`
	Envs        map[string]string `json:"envs" mapstructure:"envs"`
}

// DefaultServers is used when nothing is configured.
func DefaultServers() []ServerConfig {
	return []ServerConfig{{
		Name:        "Microsoft Learn MCP",
		Type:        ServerTypeHTTP,
		URL:         "https://learn.microsoft.com/api/mcp",
		Description: "Microsoft official documentation MCP server",
	}}
}

// LoadFromEnv reads server configs from MCP_SERVERS plus per-server
// MCP_{ID}_NAME, MCP_{ID}_URL, MCP_{ID}_DESCRIPTION and MCP_{ID}_AUTH_TOKEN
// variables. Returns nil when MCP_SERVERS is unset or yields nothing usable.
func LoadFromEnv() []ServerConfig {
	serversVar := os.Getenv("MCP_SERVERS")
	if serversVar == "" {
		return nil
	}

	var configs []ServerConfig
	for _, id := range strings.Split(serversVar, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		prefix := "MCP_" + strings.ReplaceAll(strings.ToUpper(id), "-", "_")

		name := os.Getenv(prefix + "_NAME")
		url := os.Getenv(prefix + "_URL")
		if name == "" || url == "" {
			logger.L.WithField("server", id).Warn("skipping MCP server with missing NAME or URL")
			continue
		}

		cfg := ServerConfig{
			Name:        name,
			Type:        ServerTypeHTTP,
			URL:         url,
			Description: os.Getenv(prefix + "_DESCRIPTION"),
		}
		if token := os.Getenv(prefix + "_AUTH_TOKEN"); token != "" {
			cfg.Headers = map[string]string{"Authorization": "Bearer " + token}
		}
		configs = append(configs, cfg)
	}
	return configs
}

// remoteTool binds a discovered tool to the client that serves it.
type remoteTool struct {
	client      *client.Client
	name        string
	description string
	inputSchema mcp.ToolInputSchema
}

// Manager connects to the configured servers and routes tool calls.
// Partial initialization is tolerated; failed endpoints are reported and
// skipped.
type Manager struct {
	configs []ServerConfig

	mu      sync.RWMutex
	clients map[string]*client.Client
	tools   map[string]*remoteTool
	order   []string
}

// NewManager builds a manager over the given configs. When configs is empty
// it falls back to the environment and then to the default endpoint.
func NewManager(configs []ServerConfig) *Manager {
	if len(configs) == 0 {
		configs = LoadFromEnv()
	}
	if len(configs) == 0 {
		configs = DefaultServers()
	}
	return &Manager{
		configs: configs,
		clients: make(map[string]*client.Client),
		tools:   make(map[string]*remoteTool),
	}
}

func newClient(cfg ServerConfig) (*client.Client, error) {
	serverType := cfg.Type
	if serverType == "" {
		switch {
		case cfg.URL != "":
			serverType = ServerTypeHTTP
		case cfg.Command != "":
			serverType = ServerTypeStdio
		default:
			return nil, errors.New("server type is required")
		}
	}

	switch serverType {
	case ServerTypeStdio:
		if cfg.Command == "" {
			return nil, errors.New("command is required for stdio server")
		}
		envArgs := []string{}
		for k, v := range cfg.Envs {
			envArgs = append(envArgs, fmt.Sprintf("%s=%s", k, v))
		}
		tp := transport.NewStdio(cfg.Command, envArgs, cfg.Args...)
		return client.NewClient(tp), nil
	case ServerTypeSSE:
		if cfg.URL == "" {
			return nil, errors.New("url is required for sse server")
		}
		tp, err := transport.NewSSE(cfg.URL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		return client.NewClient(tp), nil
	case ServerTypeHTTP:
		if cfg.URL == "" {
			return nil, errors.New("url is required for http server")
		}
		tp, err := transport.NewStreamableHTTP(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		return client.NewClient(tp), nil
	default:
		return nil, errors.Errorf("invalid server type %q", serverType)
	}
}

// Initialize connects to every configured server and discovers its tools.
// Per-endpoint failures are aggregated; the returned error is non-nil only
// when every endpoint failed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logger.G(ctx)
	var failures *multierror.Error
	for _, cfg := range m.configs {
		if err := m.initServer(ctx, cfg); err != nil {
			log.WithError(err).WithField("server", cfg.Name).Warn("MCP server unavailable")
			failures = multierror.Append(failures, errors.Wrap(err, cfg.Name))
			continue
		}
		log.WithField("server", cfg.Name).Info("MCP server initialized")
	}

	if len(m.clients) == 0 && failures != nil {
		return errors.Wrap(failures.ErrorOrNil(), "no MCP servers available")
	}
	return nil
}

func (m *Manager) initServer(ctx context.Context, cfg ServerConfig) error {
	cl, err := newClient(cfg)
	if err != nil {
		return err
	}
	if err := cl.Start(ctx); err != nil {
		return errors.Wrap(err, "start transport")
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "docpilot",
		Version: version.Version,
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := cl.Initialize(ctx, initReq); err != nil {
		_ = cl.Close()
		return errors.Wrap(err, "initialize")
	}

	listResult, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = cl.Close()
		return errors.Wrap(err, "list tools")
	}

	m.clients[cfg.Name] = cl
	for _, tool := range listResult.Tools {
		name := tool.GetName()
		if _, exists := m.tools[name]; exists {
			logger.G(ctx).WithField("tool", name).Warn("duplicate MCP tool name, keeping first")
			continue
		}
		m.tools[name] = &remoteTool{
			client:      cl,
			name:        name,
			description: tool.Description,
			inputSchema: tool.InputSchema,
		}
		m.order = append(m.order, name)
	}
	return nil
}

// HasTools reports whether any tools were discovered.
func (m *Manager) HasTools() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tools) > 0
}

// ToolNames returns discovered tool names in discovery order.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Tools returns the discovered tools as completion-layer definitions.
func (m *Manager) Tools() []llm.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(m.order))
	for _, name := range m.order {
		tool := m.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.name,
			Description: tool.description,
			Parameters:  tool.inputSchema,
		})
	}
	return defs
}

// Invoke executes a discovered tool and concatenates its text content.
// It satisfies llm.ToolInvoker.
func (m *Manager) Invoke(ctx context.Context, name, arguments string) (string, error) {
	m.mu.RLock()
	tool, ok := m.tools[name]
	m.mu.RUnlock()
	if !ok {
		return "", errors.Errorf("unknown tool %q", name)
	}

	var input map[string]any
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &input); err != nil {
			return "", errors.Wrap(err, "invalid tool arguments")
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool.name
	req.Params.Arguments = input
	result, err := tool.client.CallTool(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "tool %q call failed", name)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if v, ok := c.(mcp.TextContent); ok {
			sb.WriteString(v.Text)
		} else {
			fmt.Fprintf(&sb, "%v", c)
		}
	}
	return sb.String(), nil
}

// Close shuts down all server connections, reporting failures in aggregate.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failures *multierror.Error
	for name, cl := range m.clients {
		if err := cl.Close(); err != nil {
			failures = multierror.Append(failures, errors.Wrap(err, name))
		}
		delete(m.clients, name)
	}
	m.tools = make(map[string]*remoteTool)
	m.order = nil
	return failures.ErrorOrNil()
}
