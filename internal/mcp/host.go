// Package mcp defines the interface for a Model Context Protocol (MCP) host
// that imports external tools as capabilities.
//
// Lifecycle:
//
//  1. Call [Host.RegisterServer] for each configured MCP server.
//  2. Pass [Host.Capabilities] to the capability registry before it is built.
//  3. Call [Host.Close] on shutdown.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/arbiter/internal/capability"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio runs Command as a subprocess speaking MCP on stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP speaks MCP Streamable HTTP to URL.
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Must be unique.
	Name string `yaml:"name"`

	// Transport selects stdio or streamable-http.
	Transport Transport `yaml:"transport"`

	// Command is the executable and arguments for stdio servers.
	// Example: "/usr/local/bin/mcp-server --config /etc/mcp.json"
	Command string `yaml:"command"`

	// URL is the endpoint of streamable-http servers.
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio servers.
	Env map[string]string `yaml:"env"`

	// Timeout bounds each tool call on this server. Zero uses the registry
	// default.
	Timeout time.Duration `yaml:"timeout"`
}

// Validate checks that the transport is known and that its endpoint is set.
// Name uniqueness is left to the caller, which sees every server.
func (c ServerConfig) Validate() error {
	switch c.Transport {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			return errors.New("command is required when transport is stdio")
		}
	case TransportStreamableHTTP:
		if c.URL == "" {
			return errors.New("url is required when transport is streamable-http")
		}
	default:
		return fmt.Errorf("transport %q is invalid; valid values: %s, %s", c.Transport, TransportStdio, TransportStreamableHTTP)
	}
	return nil
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the concatenated text output of the tool.
	Content string

	// IsError indicates an application-level error reported by the tool.
	// Transport failures are returned as Go errors instead.
	IsError bool

	// DurationMs is the wall-clock duration of the call.
	DurationMs int64
}

// ToolHealth captures the measured runtime performance of one tool.
type ToolHealth struct {
	Name          string
	Server        string
	MeasuredP50Ms int64
	MeasuredP99Ms int64
	CallCount     int
	ErrorRate     float64
}

// Host manages connections to MCP servers and exposes their tools as
// capabilities.
type Host interface {
	// RegisterServer connects to the server described by cfg and imports its
	// tool catalogue. Registering a name again replaces the old connection.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// Capabilities returns one capability per imported tool, sorted by name.
	Capabilities() []capability.Capability

	// ExecuteTool calls the named tool with JSON-encoded args. A Go error is
	// returned only on transport or protocol failure.
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)

	// Health returns the measured performance of every imported tool.
	Health() []ToolHealth

	// Close shuts down all server connections.
	Close() error
}
