// Package app wires all arbiter subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Chat and Serve run the console and web front ends, and
// Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithMCPHost,
// WithCapabilities, WithMetrics, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/arbiter/internal/agent"
	"github.com/MrWong99/arbiter/internal/agent/orchestrator"
	"github.com/MrWong99/arbiter/internal/capability"
	"github.com/MrWong99/arbiter/internal/capability/tools/arith"
	"github.com/MrWong99/arbiter/internal/capability/tools/clock"
	"github.com/MrWong99/arbiter/internal/capability/tools/weather"
	"github.com/MrWong99/arbiter/internal/capability/tools/websearch"
	"github.com/MrWong99/arbiter/internal/config"
	"github.com/MrWong99/arbiter/internal/console"
	"github.com/MrWong99/arbiter/internal/health"
	"github.com/MrWong99/arbiter/internal/mcp"
	"github.com/MrWong99/arbiter/internal/mcp/mcphost"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/reasoning"
	"github.com/MrWong99/arbiter/internal/resilience"
	"github.com/MrWong99/arbiter/internal/session"
	"github.com/MrWong99/arbiter/internal/web"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

const (
	// shutdownTimeout bounds the graceful HTTP shutdown in Serve.
	shutdownTimeout = 15 * time.Second

	// readHeaderTimeout bounds reading request headers.
	readHeaderTimeout = 10 * time.Second
)

// NamedLLM is a reasoning backend together with its configured name.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the reasoning backends built from the config registry.
// Populated by main.go.
type Providers struct {
	// LLM is the primary backend. Required.
	LLM llm.Provider

	// Fallbacks are tried in order when the primary fails.
	Fallbacks []NamedLLM

	// Compressor, if set, serves summary compression. Nil reuses the
	// primary chain.
	Compressor llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	levelVar   *slog.LevelVar
	httpClient *http.Client
	extraCaps  []capability.Capability

	// Subsystems, initialised in New and torn down in Shutdown.
	mcpHost   mcp.Host
	llm       *resilience.LLMFallback
	policy    *reasoning.Policy
	registry  *capability.Registry
	client    *reasoning.Client
	degrader  *resilience.Degrader
	orch      *orchestrator.Orchestrator
	sessions  *agent.Sessions
	webServer *web.Server

	// policyMu guards policyWatcher, which is replaced when the policy path
	// changes on a config reload.
	policyMu      sync.Mutex
	policyWatcher *config.Watcher[reasoning.PolicyDocument]

	configWatcher *config.Watcher[*config.Config]

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMCPHost injects an MCP host instead of creating one from config.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads adjust lv. Without it log level changes
// need a restart.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithHTTPClient is used by the HTTP-backed capabilities.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithCapabilities adds capabilities to the registry next to the built-in
// and MCP ones.
func WithCapabilities(caps ...capability.Capability) Option {
	return func(a *App) { a.extraCaps = append(a.extraCaps, caps...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: policy loading, MCP server
// registration, capability registry assembly and orchestrator construction.
// On error everything already started is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: a reasoning provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Reasoning backends ────────────────────────────────────────────
	a.initLLM()

	// ── 2. Policy ────────────────────────────────────────────────────────
	if err := a.initPolicy(); err != nil {
		return fmt.Errorf("app: init policy: %w", err)
	}

	// ── 3. MCP host ─────────────────────────────────────────────────────
	if err := a.initMCP(ctx); err != nil {
		return fmt.Errorf("app: init mcp: %w", err)
	}

	// ── 4. Capability registry ───────────────────────────────────────────
	if err := a.initCapabilities(); err != nil {
		return fmt.Errorf("app: init capabilities: %w", err)
	}

	// ── 5. Reasoning client, orchestrator, sessions ──────────────────────
	if err := a.initAgents(); err != nil {
		return fmt.Errorf("app: init agents: %w", err)
	}

	// ── 6. Web front end ─────────────────────────────────────────────────
	ws, err := web.NewServer(web.Config{
		Sessions: a.sessions,
		Health:   a.healthHandler(),
		Metrics:  a.metrics,
	})
	if err != nil {
		return fmt.Errorf("app: init web: %w", err)
	}
	a.webServer = ws
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initLLM wraps the primary and fallback backends in a failover chain whose
// breaker transitions are logged and counted.
func (a *App) initLLM() {
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			IsFailure: resilience.IsThrottled,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("reasoning backend breaker changed state", "backend", name, "from", from.String(), "to", to.String())
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
	a.llm = resilience.NewLLMFallback(a.providers.LLM, a.cfg.Providers.LLM.Name, fbCfg)
	for _, fb := range a.providers.Fallbacks {
		a.llm.AddFallback(fb.Name, fb.Provider)
	}
	slog.Info("reasoning backends ready", "order", a.llm.Backends())
}

// initPolicy loads the policy file and starts watching it, or falls back to
// the built-in policy.
func (a *App) initPolicy() error {
	a.closers = append(a.closers, a.stopPolicyWatcher)
	if a.cfg.Policy.Path == "" {
		a.policy = reasoning.DefaultPolicy()
		slog.Info("using built-in decision policy", "version", a.policy.Version())
		return nil
	}
	w, err := a.watchPolicy(a.cfg.Policy)
	if err != nil {
		return err
	}
	a.policy = reasoning.NewPolicy(w.Current())
	a.policyWatcher = w
	slog.Info("loaded decision policy", "path", a.cfg.Policy.Path, "version", a.policy.Version())
	return nil
}

func (a *App) watchPolicy(pc config.PolicyConfig) (*config.Watcher[reasoning.PolicyDocument], error) {
	return config.NewWatcher(pc.Path, reasoning.ParsePolicy,
		func(old, doc reasoning.PolicyDocument) {
			a.policy.Set(doc)
			slog.Info("decision policy reloaded", "path", pc.Path, "from", old.Version, "to", doc.Version)
		},
		config.WithInterval(pc.PollInterval),
	)
}

func (a *App) stopPolicyWatcher() error {
	a.policyMu.Lock()
	defer a.policyMu.Unlock()
	if a.policyWatcher != nil {
		a.policyWatcher.Stop()
		a.policyWatcher = nil
	}
	return nil
}

// initMCP connects the configured MCP servers. A server that cannot be
// reached fails startup.
func (a *App) initMCP(ctx context.Context) error {
	if a.mcpHost == nil {
		if len(a.cfg.MCP.Servers) == 0 {
			return nil
		}
		a.mcpHost = mcphost.New()
	}
	a.closers = append(a.closers, a.mcpHost.Close)

	for _, srv := range a.cfg.MCP.Servers {
		if srv.Timeout == 0 {
			srv.Timeout = a.cfg.Capabilities.Timeout
		}
		if err := a.mcpHost.RegisterServer(ctx, srv); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name, "transport", srv.Transport)
	}
	return nil
}

// initCapabilities assembles the closed registry: arithmetic and clock are
// always present, weather and web search when credentials are configured,
// then MCP tools and injected extras.
func (a *App) initCapabilities() error {
	cc := a.cfg.Capabilities
	timeout := capability.WithTimeout(cc.Timeout)

	caps := arith.Capabilities()

	var clockOpts []clock.Option
	if cc.Timezone != "" {
		loc, err := time.LoadLocation(cc.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", cc.Timezone, err)
		}
		clockOpts = append(clockOpts, clock.WithLocation(loc))
	}
	caps = append(caps, clock.Capability(clockOpts...))

	if cc.Weather.Enabled() {
		opts := []weather.Option{}
		if cc.Weather.BaseURL != "" {
			opts = append(opts, weather.WithBaseURL(cc.Weather.BaseURL))
		}
		if a.httpClient != nil {
			opts = append(opts, weather.WithHTTPClient(a.httpClient))
		}
		wc, err := weather.New(cc.Weather.APIKey, opts...)
		if err != nil {
			return err
		}
		caps = append(caps, wc.Capability(timeout))
	}

	if cc.WebSearch.Enabled() {
		opts := []websearch.Option{}
		if cc.WebSearch.BaseURL != "" {
			opts = append(opts, websearch.WithBaseURL(cc.WebSearch.BaseURL))
		}
		if a.httpClient != nil {
			opts = append(opts, websearch.WithHTTPClient(a.httpClient))
		}
		sc, err := websearch.New(cc.WebSearch.APIKey, opts...)
		if err != nil {
			return err
		}
		caps = append(caps, sc.Capability(timeout))
	}

	if a.mcpHost != nil {
		caps = append(caps, a.mcpHost.Capabilities()...)
	}
	caps = append(caps, a.extraCaps...)

	reg, err := capability.NewRegistry(caps...)
	if err != nil {
		return err
	}
	a.registry = reg
	slog.Info("capability registry built", "capabilities", reg.Names())
	return nil
}

// initAgents builds the reasoning client, the compressor, the orchestrator
// and the session table.
func (a *App) initAgents() error {
	ac := a.cfg.Agent

	mode, err := session.ParseHistoryMode(ac.HistoryMode)
	if err != nil {
		return err
	}

	client, err := a.newClient(a.llm, a.cfg.Providers.LLM.Name)
	if err != nil {
		return err
	}
	a.client = client

	a.degrader = resilience.NewDegrader(
		resilience.WithDegradedText(ac.DegradedText),
		resilience.WithMetrics(a.metrics),
	)

	var compressor session.Compressor
	if mode == session.HistoryWindowed {
		inst := client
		if a.providers.Compressor != nil {
			name := a.cfg.Providers.CompressorLLM.Name
			if inst, err = a.newClient(a.providers.Compressor, name); err != nil {
				return err
			}
		}
		compressor = session.NewLLMCompressor(inst,
			session.WithMaxSummaryChars(ac.MaxSummaryChars),
			session.WithMetrics(a.metrics),
		)
	}

	orch, err := orchestrator.New(client, a.registry,
		orchestrator.WithMaxRounds(ac.MaxRounds),
		orchestrator.WithDegrader(a.degrader),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.orch = orch

	a.sessions = agent.NewSessions(agent.SessionsConfig{
		Runner: orch,
		State: session.Config{
			WindowTurns:    ac.WindowTurns,
			MaxAnswerChars: ac.MaxAnswerChars,
			Mode:           mode,
			Compressor:     compressor,
		},
		IdleTTL: a.cfg.Sessions.IdleTTL,
		Metrics: a.metrics,
	})
	slog.Info("orchestrator ready", "max_rounds", orch.MaxRounds(), "history_mode", mode, "window_turns", ac.WindowTurns)
	return nil
}

func (a *App) newClient(p llm.Provider, name string) (*reasoning.Client, error) {
	ac := a.cfg.Agent
	return reasoning.New(p,
		reasoning.WithPolicy(a.policy),
		reasoning.WithTemperature(ac.Temperature),
		reasoning.WithMaxTokens(ac.MaxTokens),
		reasoning.WithTimeout(ac.RequestTimeout),
		reasoning.WithMaxRetries(ac.Retries()),
		reasoning.WithMetrics(a.metrics),
		reasoning.WithProviderName(name),
	)
}

// healthHandler reports ready while at least one reasoning backend accepts
// calls and every configured MCP server contributed tools.
func (a *App) healthHandler() *health.Handler {
	checkers := []health.Checker{
		health.Func("reasoning", a.llm.Healthy),
		health.Func("capabilities", func() bool { return a.registry.Len() > 0 }),
	}
	if a.mcpHost != nil && len(a.cfg.MCP.Servers) > 0 {
		checkers = append(checkers, health.Func("mcp", func() bool { return len(a.mcpHost.Health()) > 0 }))
	}
	return health.New(checkers...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session table shared by the front ends.
func (a *App) Sessions() *agent.Sessions { return a.sessions }

// Registry returns the capability registry.
func (a *App) Registry() *capability.Registry { return a.registry }

// Policy returns the live decision policy.
func (a *App) Policy() *reasoning.Policy { return a.policy }

// Handler returns the web front end.
func (a *App) Handler() http.Handler { return a.webServer.Handler() }

// ─── Front ends ──────────────────────────────────────────────────────────────

// Chat runs a console session on in and out until the user exits.
func (a *App) Chat(ctx context.Context, in io.Reader, out io.Writer, opts ...console.Option) error {
	id, ag := a.sessions.Open("")
	defer a.sessions.Close(id)
	slog.Debug("console session started", "session_id", id)
	return console.Run(ctx, in, out, ag, opts...)
}

// Serve listens on the configured address and serves the web front end
// until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener serves the web front end on ln and evicts idle sessions
// until ctx is cancelled, then shuts the server down gracefully.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("web front end listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// WatchConfig reloads the configuration file at path when it changes. The
// log level and the policy file are applied live; other changes are logged
// as needing a restart.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) error {
	w, err := config.WatchConfig(path, a.applyConfig, opts...)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.configWatcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		if a.levelVar != nil {
			a.levelVar.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		} else {
			d.RestartRequired = append(d.RestartRequired, "server.log_level")
		}
	}
	if d.PolicyChanged {
		if err := a.swapPolicy(d.NewPolicy); err != nil {
			slog.Error("policy change not applied", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// swapPolicy points the live policy at a new file, or back at the built-in
// policy when the path was cleared.
func (a *App) swapPolicy(pc config.PolicyConfig) error {
	if pc.Path == "" {
		_ = a.stopPolicyWatcher()
		a.policy.Set(reasoning.DefaultPolicy().Document())
		slog.Info("decision policy reset to built-in")
		return nil
	}
	w, err := a.watchPolicy(pc)
	if err != nil {
		return err
	}
	a.policyMu.Lock()
	prev := a.policyWatcher
	a.policyWatcher = w
	a.policyMu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	doc := w.Current()
	a.policy.Set(doc)
	slog.Info("decision policy switched", "path", pc.Path, "version", doc.Version)
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems in reverse order of creation. It is safe
// to call more than once.
func (a *App) Shutdown(_ context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
