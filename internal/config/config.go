// Package config provides the configuration schema, loader, provider registry
// and file watcher for arbiter.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/arbiter/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Agent        AgentConfig        `yaml:"agent"`
	Policy       PolicyConfig       `yaml:"policy"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	MCP          MCPConfig          `yaml:"mcp"`
	Sessions     SessionsConfig     `yaml:"sessions"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the web front end (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the reasoning backends. Each entry names a factory
// registered in the [Registry].
type ProvidersConfig struct {
	// LLM is the primary reasoning backend. Required.
	LLM ProviderEntry `yaml:"llm"`

	// FallbackLLM lists backends tried in order when the primary fails or
	// its circuit breaker is open.
	FallbackLLM []ProviderEntry `yaml:"fallback_llm"`

	// CompressorLLM, when set, serves summary compression instead of the
	// primary backend.
	CompressorLLM ProviderEntry `yaml:"compressor_llm"`
}

// ProviderEntry is the configuration block of one reasoning backend.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "groq", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. Use ${VAR} to read it from
	// the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model (e.g., "qwen/qwen3-32b").
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// IsZero reports whether no backend is configured.
func (e ProviderEntry) IsZero() bool {
	return e.Name == ""
}

// AgentConfig tunes the orchestration loop, conversation memory and
// reasoning calls.
type AgentConfig struct {
	// MaxRounds caps decision rounds per turn, in [1, 16]. Default: 8.
	MaxRounds int `yaml:"max_rounds"`

	// WindowTurns is the number of recent turns replayed verbatim. Default: 10.
	WindowTurns int `yaml:"window_turns"`

	// MaxAnswerChars caps each stored answer. Default: 500.
	MaxAnswerChars int `yaml:"max_answer_chars"`

	// MaxSummaryChars caps the running summary. Default: 4000.
	MaxSummaryChars int `yaml:"max_summary_chars"`

	// HistoryMode is "windowed" (default) or "stateless".
	HistoryMode string `yaml:"history_mode"`

	// DegradedText is the answer given when the reasoning backend is rate
	// limited. Empty uses the built-in text.
	DegradedText string `yaml:"degraded_text"`

	// RequestTimeout bounds one reasoning call. Default: 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the retry budget for rate-limited reasoning calls.
	// Default: 2. Use -1 to disable retries.
	MaxRetries int `yaml:"max_retries"`

	// Temperature is the sampling temperature. Default: 0.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the completion length. Default: 2000.
	MaxTokens int `yaml:"max_tokens"`
}

// PolicyConfig points at the external decision policy file.
type PolicyConfig struct {
	// Path is the policy YAML file. Empty uses the built-in policy.
	Path string `yaml:"path"`

	// PollInterval is how often the file is checked for changes.
	// Default: 5s.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CapabilitiesConfig configures the built-in capabilities.
type CapabilitiesConfig struct {
	// Timeout bounds each capability invocation. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Timezone is the IANA zone reported by the clock capability.
	// Empty uses the local zone.
	Timezone string `yaml:"timezone"`

	// Weather enables weather_search_tool when APIKey is set.
	Weather ServiceConfig `yaml:"weather"`

	// WebSearch enables web_search_tool when APIKey is set.
	WebSearch ServiceConfig `yaml:"websearch"`
}

// ServiceConfig is the credential block of an HTTP-backed capability.
type ServiceConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Enabled reports whether the service has credentials.
func (s ServiceConfig) Enabled() bool {
	return s.APIKey != ""
}

// MCPConfig holds the list of MCP servers whose tools become capabilities.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// SessionsConfig controls the per-session agent table of the web front end.
type SessionsConfig struct {
	// IdleTTL evicts sessions unused for this long. Default: 30m.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}
