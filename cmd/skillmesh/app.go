package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jllopis/skillmesh/pkg/agent"
	"github.com/jllopis/skillmesh/pkg/config"
	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/governance"
	"github.com/jllopis/skillmesh/pkg/lifecycle"
	"github.com/jllopis/skillmesh/pkg/llm"
	"github.com/jllopis/skillmesh/pkg/llm/anthropic"
	"github.com/jllopis/skillmesh/pkg/llm/openai"
	"github.com/jllopis/skillmesh/pkg/mcp"
	"github.com/jllopis/skillmesh/pkg/plugins"
	"github.com/jllopis/skillmesh/pkg/resilience"
	"github.com/jllopis/skillmesh/pkg/runtime"
	"github.com/jllopis/skillmesh/pkg/skills"
	"github.com/jllopis/skillmesh/pkg/store"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/jllopis/skillmesh/pkg/tools"
)

// service is the agent both chat and serve commands drive.
type service interface {
	Start(ctx context.Context) error
	Chat(ctx context.Context, message string) (agent.Reply, error)
	Refresh(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Status() runtime.Status
	IsReady() bool
}

// app holds every wired component of one process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	store    store.SkillStore
	manager  *mcp.Manager
	skills   *skills.Registry
	legacy   *plugins.Registry
	catalog  *tools.Unified
	agent    service
	chat     *runtime.ChatAgent
	ops      *runtime.OpsAgent
	health   *core.HealthRegistry
	shutdown telemetry.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	return newAppWithProvider(ctx, cfg, nil)
}

// newAppWithProvider wires the app around provider, or around the one
// cfg.LLM selects when provider is nil.
func newAppWithProvider(ctx context.Context, cfg *config.Config, provider llm.Provider) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitWithConfig("skillmesh", version, cfg.Telemetry.SDK())
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Warn("telemetry.metrics.disabled", slog.String("error", err.Error()))
		metrics = nil
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics, shutdown: shutdown}

	a.store, err = store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}

	a.manager = mcp.NewManager(mcp.WithLogger(logger), mcp.WithMetrics(metrics))
	a.skills = skills.NewRegistry(a.manager,
		skills.WithLogger(logger),
		skills.WithMetrics(metrics),
		skills.WithStore(a.store),
		skills.WithInstructionTTL(cfg.Agent.InstructionTTL),
	)
	if n, err := a.skills.LoadFromStore(ctx); err != nil {
		logger.Warn("skills.store.load_failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("skills.store.loaded", slog.Int("count", n))
	}
	ds, err := cfg.Skills.Descriptors()
	if err != nil {
		return nil, err
	}
	if err := a.skills.Sync(ctx, ds); err != nil {
		return nil, err
	}
	if err := a.skills.Connect(ctx); err != nil {
		logger.Warn("skills.connect.partial", slog.String("error", err.Error()))
	}

	a.legacy = plugins.NewRegistry(logger)
	packs := []*plugins.Pack{plugins.ClockPack(nil), plugins.NotesPack()}
	if cfg.Agent.Kind == "ops" {
		packs = append(packs, plugins.LifecyclePack())
	}
	for _, p := range packs {
		if err := a.legacy.Register(p); err != nil {
			return nil, err
		}
	}
	a.catalog = tools.New(a.skills, a.legacy, tools.WithLogger(logger), tools.WithMetrics(metrics))

	if provider == nil {
		if provider, err = newProvider(cfg.LLM); err != nil {
			return nil, err
		}
		provider = withResilience(provider, cfg.LLM, logger)
	}
	loop, err := agent.New(provider,
		agent.WithModel(cfg.LLM.Model),
		agent.WithMaxTokens(cfg.LLM.MaxTokens),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithKind(cfg.Agent.Kind),
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	var engine governance.PolicyEngine
	if len(cfg.Governance.Rules) > 0 {
		engine = governance.NewRuleSet(cfg.Governance.Rules)
	}
	deps := runtime.Deps{
		Loop:         loop,
		Catalog:      a.catalog,
		Instructions: a.skills,
		BasePrompt:   cfg.Agent.SystemPrompt,
		Logger:       logger,
		Metrics:      metrics,
	}
	machineOpts := []lifecycle.Option{lifecycle.WithLogger(logger), lifecycle.WithMetrics(metrics)}
	switch cfg.Agent.Kind {
	case "ops":
		rules, err := stateRules(cfg.Agent.States, lifecycle.OpsStates())
		if err != nil {
			return nil, err
		}
		policy := governance.DefaultOpsPolicy(engine)
		policy.Override(rules)
		a.ops, err = runtime.NewOpsAgent(deps, lifecycle.NewOpsMachine(machineOpts...), policy)
		if err != nil {
			return nil, err
		}
		a.agent = a.ops
	default:
		rules, err := stateRules(cfg.Agent.States, lifecycle.ChatStates())
		if err != nil {
			return nil, err
		}
		policy := governance.DefaultChatPolicy(engine)
		policy.Override(rules)
		a.chat, err = runtime.NewChatAgent(deps, lifecycle.NewChatMachine(machineOpts...), policy)
		if err != nil {
			return nil, err
		}
		a.agent = a.chat
	}

	a.health = core.NewHealthRegistry(5 * time.Second)
	a.health.Register("lifecycle", runtime.LifecycleCheck(
		func() string { return a.agent.Status().State },
		a.agent.IsReady,
	))
	a.health.Register("skills", runtime.SkillsCheck(a.skills, a.manager))
	a.health.Register("store", runtime.StoreCheck(a.store))
	a.health.Register("llm", core.StaticHealth(core.HealthHealthy, "provider "+cfg.LLM.Provider))
	return a, nil
}

// stateRules converts configured rules keyed by state name, rejecting
// names the machine does not know.
func stateRules[S ~string](in map[string]governance.StateRule, valid []S) (map[S]governance.StateRule, error) {
	out := make(map[S]governance.StateRule, len(in))
	for name, rule := range in {
		found := false
		for _, st := range valid {
			if string(st) == name {
				out[st] = rule
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("agent.states: unknown state %q", name)
		}
	}
	return out, nil
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
			o.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
			o.BaseURL = cfg.BaseURL
		}), nil
	case "openai":
		return openai.New(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
			o.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
			o.BaseURL = cfg.BaseURL
		}), nil
	case "ollama":
		return llm.NewOllama(firstNonEmpty(cfg.BaseURL, "http://localhost:11434"), cfg.Model), nil
	case "scripted":
		return &llm.MockProvider{Response: "scripted provider: no model configured"}, nil
	default:
		return nil, fmt.Errorf("llm.provider must be anthropic, openai, ollama or scripted, got %q", cfg.Provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) {
	if err := a.agent.Shutdown(ctx); err != nil {
		a.logger.Warn("skillmesh.shutdown.agent", slog.String("error", err.Error()))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("skillmesh.shutdown.store", slog.String("error", err.Error()))
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("skillmesh.shutdown.telemetry", slog.String("error", err.Error()))
		}
	}
}

// withResilience retries transient model failures and trips a breaker
// after cfg.BreakerThreshold consecutive ones.
func withResilience(p llm.Provider, cfg config.LLMConfig, logger *slog.Logger) llm.Provider {
	if cfg.RetryAttempts <= 1 && cfg.BreakerThreshold <= 0 {
		return p
	}
	retry := resilience.DefaultRetryConfig().WithMaxAttempts(max(cfg.RetryAttempts, 1))
	var breaker *resilience.CircuitBreaker
	if cfg.BreakerThreshold > 0 {
		breaker = resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:             "llm." + cfg.Provider,
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
		})
	}
	return resilience.WrapProvider(p, retry, breaker, logger)
}
