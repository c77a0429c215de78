// Command arbiter runs the arbiter assistant in the terminal or as a web
// service.
//
// Usage:
//
//	arbiter chat --config config.yaml
//	arbiter serve --config config.yaml --watch
//	arbiter validate --config config.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/arbiter/internal/app"
	"github.com/MrWong99/arbiter/internal/config"
	"github.com/MrWong99/arbiter/internal/console"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
	"github.com/MrWong99/arbiter/pkg/provider/llm/anyllm"
	"github.com/MrWong99/arbiter/pkg/provider/llm/openai"
)

// defaultGroqModel is used when the groq entry names no model.
const defaultGroqModel = "qwen/qwen3-32b"

// CLI defines the command-line interface.
type CLI struct {
	Chat     ChatCmd     `cmd:"" default:"1" help:"Chat with the assistant in the terminal."`
	Serve    ServeCmd    `cmd:"" help:"Serve the web front end."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string   `short:"c" help:"Path to the YAML configuration file." default:"config.yaml" type:"path"`
	EnvFile  []string `name:"env-file" help:"Dotenv files loaded before the config is read." default:".env.local,.env"`
	LogLevel string   `help:"Override server.log_level (debug, info, warn, error)."`
}

// ChatCmd runs an interactive console session.
type ChatCmd struct {
	ShowTrace bool `name:"show-trace" help:"Print capability requests and reasoning after each answer."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	return run(cli, func(ctx context.Context, a *app.App, _ string) error {
		return a.Chat(ctx, os.Stdin, os.Stdout, console.WithTrace(c.ShowTrace))
	})
}

// ServeCmd starts the HTTP and WebSocket front end.
type ServeCmd struct {
	Listen string `help:"Override server.listen_addr."`
	Watch  bool   `help:"Reload the config file when it changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	return run(cli, func(ctx context.Context, a *app.App, path string) error {
		if c.Watch {
			if err := a.WatchConfig(path); err != nil {
				return err
			}
			slog.Info("watching config for changes", "path", path)
		}
		slog.Info("server ready, press Ctrl+C to shut down")
		return a.Serve(ctx)
	}, func(cfg *config.Config) {
		if c.Listen != "" {
			cfg.Server.ListenAddr = c.Listen
		}
	})
}

// ValidateCmd loads the config and reports the first problem found.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if err := config.LoadEnvFiles(cli.EnvFile...); err != nil {
		return err
	}
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	if _, err := buildProviders(cfg, reg); err != nil {
		return err
	}
	fmt.Printf("%s: ok\n", cli.Config)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("arbiter version %s\n", version())
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("arbiter"),
		kong.Description("Conversational assistant that decides which capability answers each question."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

// run performs the shared startup sequence, hands the application to body
// and shuts everything down afterwards.
func run(cli *CLI, body func(ctx context.Context, a *app.App, configPath string) error, tweaks ...func(*config.Config)) error {
	if err := config.LoadEnvFiles(cli.EnvFile...); err != nil {
		return err
	}

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		lvl := config.LogLevel(cli.LogLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", cli.LogLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("arbiter starting",
		"config", cli.Config,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceName:    "arbiter",
		ServiceVersion: version(),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(levelVar),
		app.WithMetrics(telemetry.Metrics()),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	runErr := body(ctx, application, cli.Config)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return runErr
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	return cfg, err
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every reasoning backend that ships with
// arbiter into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// groq and openai speak the OpenAI chat API directly so the reasoning
	// field of compatible backends survives.
	reg.RegisterLLM("groq", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = defaultGroqModel
		}
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = openai.GroqBaseURL
		}
		format := optString(entry.Options, "reasoning_format")
		if format == "" {
			format = "parsed"
		}
		return openai.New(entry.APIKey, model,
			openai.WithName("groq"),
			openai.WithBaseURL(baseURL),
			openai.WithReasoningFormat(format),
			openai.WithMaxRetries(0),
		)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{openai.WithMaxRetries(0)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if format := optString(entry.Options, "reasoning_format"); format != "" {
			opts = append(opts, openai.WithReasoningFormat(format))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends share one pattern: optional APIKey and BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "llamacpp", "llamafile", "ollama",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	slog.Debug("registered reasoning backends", "names", reg.LLMNames())
}

// buildProviders instantiates the backends named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = p
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	for i, entry := range cfg.Providers.FallbackLLM {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback llm %d (%q): %w", i, entry.Name, err)
		}
		ps.Fallbacks = append(ps.Fallbacks, app.NamedLLM{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "fallback_llm", "name", entry.Name)
	}

	if entry := cfg.Providers.CompressorLLM; !entry.IsZero() {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create compressor llm %q: %w", entry.Name, err)
		}
		ps.Compressor = p
		slog.Info("provider created", "kind", "compressor_llm", "name", entry.Name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║         arbiter · startup summary     ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	for _, fb := range cfg.Providers.FallbackLLM {
		printProvider("Fallback", fb.Name, fb.Model)
	}
	printProvider("Compressor", cfg.Providers.CompressorLLM.Name, cfg.Providers.CompressorLLM.Model)
	printRow("History", cfg.Agent.HistoryMode)
	printRow("Max rounds", fmt.Sprint(cfg.Agent.MaxRounds))
	policy := cfg.Policy.Path
	if policy == "" {
		policy = "(built-in)"
	}
	printRow("Policy", policy)
	printRow("MCP servers", fmt.Sprint(len(cfg.MCP.Servers)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
