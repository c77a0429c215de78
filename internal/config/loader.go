package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/arbiter/internal/agent/orchestrator"
	"github.com/MrWong99/arbiter/internal/reasoning"
	"github.com/MrWong99/arbiter/internal/session"
)

// Defaults not owned by another package.
const (
	DefaultListenAddr         = ":8080"
	DefaultPolicyPollInterval = 5 * time.Second
	DefaultCapabilityTimeout  = 30 * time.Second
)

// ValidProviderNames lists the reasoning backends that ship with arbiter.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{
	"groq", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. ${VAR} references are expanded from the environment first.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Agent
	if a.MaxRounds == 0 {
		a.MaxRounds = orchestrator.DefaultMaxRounds
	}
	if a.WindowTurns == 0 {
		a.WindowTurns = session.DefaultWindowTurns
	}
	if a.MaxAnswerChars == 0 {
		a.MaxAnswerChars = session.DefaultMaxAnswerChars
	}
	if a.MaxSummaryChars == 0 {
		a.MaxSummaryChars = session.DefaultMaxSummaryChars
	}
	if a.HistoryMode == "" {
		a.HistoryMode = string(session.HistoryWindowed)
	}
	if a.RequestTimeout == 0 {
		a.RequestTimeout = reasoning.DefaultTimeout
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = reasoning.DefaultMaxRetries
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = reasoning.DefaultMaxTokens
	}

	if cfg.Policy.PollInterval == 0 {
		cfg.Policy.PollInterval = DefaultPolicyPollInterval
	}
	if cfg.Capabilities.Timeout == 0 {
		cfg.Capabilities.Timeout = DefaultCapabilityTimeout
	}
	if cfg.Sessions.IdleTTL == 0 {
		cfg.Sessions.IdleTTL = session.DefaultIdleTTL
	}
}

// Retries converts the configured retry budget into the value passed to the
// reasoning client: -1 disables retries.
func (a AgentConfig) Retries() int {
	return max(a.MaxRetries, 0)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.LLM.IsZero() {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.FallbackLLM {
		prefix := fmt.Sprintf("providers.fallback_llm[%d]", i)
		if fb.IsZero() {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}
	validateProviderName("providers.compressor_llm", cfg.Providers.CompressorLLM.Name)

	// Agent
	a := cfg.Agent
	if a.MaxRounds < 1 || a.MaxRounds > orchestrator.MaxRoundsLimit {
		errs = append(errs, fmt.Errorf("agent.max_rounds %d is out of range [1, %d]", a.MaxRounds, orchestrator.MaxRoundsLimit))
	}
	if a.WindowTurns < 1 {
		errs = append(errs, fmt.Errorf("agent.window_turns %d must be positive", a.WindowTurns))
	}
	if a.MaxAnswerChars < 1 {
		errs = append(errs, fmt.Errorf("agent.max_answer_chars %d must be positive", a.MaxAnswerChars))
	}
	if a.MaxSummaryChars < 1 {
		errs = append(errs, fmt.Errorf("agent.max_summary_chars %d must be positive", a.MaxSummaryChars))
	}
	if _, err := session.ParseHistoryMode(a.HistoryMode); err != nil {
		errs = append(errs, fmt.Errorf("agent.history_mode: %w", err))
	}
	if a.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("agent.request_timeout %s must not be negative", a.RequestTimeout))
	}
	if a.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("agent.max_retries %d is invalid; use -1 to disable retries", a.MaxRetries))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("agent.max_tokens %d must be positive", a.MaxTokens))
	}

	// Policy
	if cfg.Policy.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("policy.poll_interval %s must not be negative", cfg.Policy.PollInterval))
	}

	// Capabilities
	if cfg.Capabilities.Timeout < 0 {
		errs = append(errs, fmt.Errorf("capabilities.timeout %s must not be negative", cfg.Capabilities.Timeout))
	}
	if tz := cfg.Capabilities.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("capabilities.timezone %q: %w", tz, err))
		}
	}
	if !cfg.Capabilities.Weather.Enabled() {
		slog.Warn("capabilities.weather.api_key is empty; weather_search_tool is disabled")
	}
	if !cfg.Capabilities.WebSearch.Enabled() {
		slog.Warn("capabilities.websearch.api_key is empty; web_search_tool is disabled")
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if err := srv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s.%w", prefix, err))
		}
	}

	// Sessions
	if cfg.Sessions.IdleTTL < 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_ttl %s must not be negative", cfg.Sessions.IdleTTL))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not a
// built-in backend.
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
