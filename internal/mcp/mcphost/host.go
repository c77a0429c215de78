// Package mcphost implements [mcp.Host] on top of the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk).
//
// Tools discovered on each server are exposed as [capability.Capability]
// values so they join the closed capability registry alongside the built-in
// capabilities:
//
//	h := mcphost.New()
//	err := h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "files",
//	    Transport: mcp.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-files --root /srv",
//	})
//	reg, err := capability.NewRegistry(append(builtins, h.Capabilities()...)...)
//	defer h.Close()
package mcphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/arbiter/internal/capability"
	"github.com/MrWong99/arbiter/internal/mcp"
)

// defaultWindowSize is the capacity of each tool's rolling latency window.
const defaultWindowSize = 100

// toolEntry holds the metadata of one imported tool.
type toolEntry struct {
	name         string
	description  string
	schema       map[string]any
	serverName   string
	timeout      time.Duration
	measurements *rollingWindow
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host is the concrete [mcp.Host].
//
// The zero value is not usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is shared by all server sessions.
	client *mcpsdk.Client
}

var _ mcp.Host = (*Host)(nil)

// Option configures a [Host].
type Option func(*options)

type options struct {
	name    string
	version string
}

// WithImplementation sets the client name and version announced to servers.
func WithImplementation(name, version string) Option {
	return func(o *options) {
		o.name = name
		o.version = version
	}
}

// New creates a ready-to-use Host.
func New(opts ...Option) *Host {
	o := options{name: "arbiter", version: "1.0.0"}
	for _, fn := range opts {
		fn(&o)
	}
	return &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  mcpsdk.NewClient(&mcpsdk.Implementation{Name: o.name, Version: o.version}, nil),
	}
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. If a server with the same name is already registered, the
// old connection is closed and its tools are replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("mcp host: server config must have a non-empty name")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("mcp host: server %q: %w", cfg.Name, err)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		cmd := exec.Command(executable, args...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	return h.connect(ctx, cfg.Name, cfg.Timeout, transport)
}

// connect opens a session over transport and imports its tools.
func (h *Host) connect(ctx context.Context, serverName string, timeout time.Duration, transport mcpsdk.Transport) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: connect to server %q: %w", serverName, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: list tools of server %q: %w", serverName, err)
		}
		discovered = append(discovered, tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[serverName]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == serverName {
				delete(h.tools, name)
			}
		}
	}
	h.servers[serverName] = serverConn{session: session}

	for _, t := range discovered {
		if existing, dup := h.tools[t.Name]; dup {
			slog.Warn("mcp host: tool name already imported, skipping",
				"tool", t.Name, "server", serverName, "owner", existing.serverName)
			continue
		}
		h.tools[t.Name] = toolEntry{
			name:         t.Name,
			description:  t.Description,
			schema:       schemaToMap(t.InputSchema),
			serverName:   serverName,
			timeout:      timeout,
			measurements: newRollingWindow(defaultWindowSize),
		}
	}

	slog.Info("mcp host: server registered", "server", serverName, "tools", len(discovered))
	return nil
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return fallback
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return fallback
	}
	return m
}

// Capabilities returns one capability per imported tool, sorted by name.
// Tool-level errors are surfaced as capability failures.
func (h *Host) Capabilities() []capability.Capability {
	h.mu.RLock()
	entries := make([]toolEntry, 0, len(h.tools))
	for _, e := range h.tools {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	slices.SortFunc(entries, func(a, b toolEntry) int { return strings.Compare(a.name, b.name) })

	caps := make([]capability.Capability, 0, len(entries))
	for _, e := range entries {
		name := e.name
		caps = append(caps, capability.Capability{
			Name:        name,
			Description: e.description,
			Schema:      e.schema,
			Timeout:     e.timeout,
			Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
				res, err := h.ExecuteTool(ctx, name, string(args))
				if err != nil {
					return "", err
				}
				if res.IsError {
					return "", errors.New(res.Content)
				}
				return res.Content, nil
			},
		})
	}
	return caps
}

// ExecuteTool calls the named tool with JSON-encoded args.
func (h *Host) ExecuteTool(ctx context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	var conn serverConn
	if ok {
		conn, ok = h.servers[entry.serverName]
	}
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcp host: tool %q not found", name)
	}

	var argsMap map[string]any
	if trimmed := strings.TrimSpace(args); trimmed != "" && trimmed != "{}" {
		if err := json.Unmarshal([]byte(trimmed), &argsMap); err != nil {
			return nil, fmt.Errorf("mcp host: invalid args JSON for tool %q: %w", name, err)
		}
	}

	start := time.Now()
	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: argsMap,
	})
	durationMs := time.Since(start).Milliseconds()
	entry.measurements.Record(durationMs, err != nil || (callResult != nil && callResult.IsError))
	if err != nil {
		return nil, fmt.Errorf("mcp host: call to tool %q failed: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &mcp.ToolResult{
		Content:    sb.String(),
		IsError:    callResult.IsError,
		DurationMs: durationMs,
	}, nil
}

// Health returns the measured performance of every imported tool, sorted by
// name.
func (h *Host) Health() []mcp.ToolHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]mcp.ToolHealth, 0, len(h.tools))
	for _, e := range h.tools {
		out = append(out, mcp.ToolHealth{
			Name:          e.name,
			Server:        e.serverName,
			MeasuredP50Ms: e.measurements.P50(),
			MeasuredP99Ms: e.measurements.P99(),
			CallCount:     e.measurements.Count(),
			ErrorRate:     e.measurements.ErrorRate(),
		})
	}
	slices.SortFunc(out, func(a, b mcp.ToolHealth) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Close shuts down all server connections. After Close returns the Host must
// not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp host: close server %q: %w", name, err))
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return errors.Join(errs...)
}

// splitCommand splits "/bin/foo --bar baz" into ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
