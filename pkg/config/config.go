// Package config loads skillmesh settings from YAML files, SKILLMESH_
// environment variables and command line overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jllopis/skillmesh/pkg/governance"
	"github.com/jllopis/skillmesh/pkg/skills"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SKILLMESH_"

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	LLM        LLMConfig        `koanf:"llm"`
	Agent      AgentConfig      `koanf:"agent"`
	Skills     SkillsConfig     `koanf:"skills"`
	Store      StoreConfig      `koanf:"store"`
	Discovery  DiscoveryConfig  `koanf:"discovery"`
	Server     ServerConfig     `koanf:"server"`
	Governance GovernanceConfig `koanf:"governance"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter              string            `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint          string            `koanf:"otlp_endpoint"`
	OTLPInsecure          bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds    int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders           map[string]string `koanf:"otlp_headers"`
	OTLPUser              string            `koanf:"otlp_user"`
	OTLPToken             string            `koanf:"otlp_token"`
	MetricIntervalSeconds int               `koanf:"metric_interval_seconds"`
}

// SDK converts the section into the exporter configuration.
func (t TelemetryConfig) SDK() telemetry.Config {
	return telemetry.Config{
		Exporter:           t.Exporter,
		OTLPEndpoint:       t.OTLPEndpoint,
		OTLPInsecure:       t.OTLPInsecure,
		OTLPTimeoutSeconds: t.OTLPTimeoutSeconds,
		MetricInterval:     time.Duration(t.MetricIntervalSeconds) * time.Second,
	}
}

type LLMConfig struct {
	Provider  string `koanf:"provider"` // anthropic, openai, ollama, scripted
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	MaxTokens int    `koanf:"max_tokens"`

	// RetryAttempts bounds calls per model turn; 1 disables retries.
	RetryAttempts    int           `koanf:"retry_attempts"`
	BreakerThreshold int           `koanf:"breaker_threshold"` // 0 disables the breaker
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

// AgentConfig selects the agent flavour and its loop limits. States
// overrides the built-in per-state tool policy.
type AgentConfig struct {
	Kind           string                          `koanf:"kind"` // chat, ops
	SystemPrompt   string                          `koanf:"system_prompt"`
	MaxIterations  int                             `koanf:"max_iterations"`
	InstructionTTL time.Duration                   `koanf:"instruction_ttl"`
	States         map[string]governance.StateRule `koanf:"states"`
}

type SkillsConfig struct {
	// Inline descriptors use the same field names as manifests.
	Inline          []skills.Descriptor `koanf:"-"`
	Manifests       []string            `koanf:"manifests"`
	InstructionDirs []string            `koanf:"instruction_dirs"`
}

// Descriptors gathers inline descriptors, every manifest and every
// instruction directory, in that order.
func (s SkillsConfig) Descriptors() ([]skills.Descriptor, error) {
	out := append([]skills.Descriptor(nil), s.Inline...)
	for _, path := range s.Manifests {
		ds, err := skills.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	for _, dir := range s.InstructionDirs {
		ds, err := skills.LoadInstructionDir(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}

type StoreConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`
}

type DiscoveryConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Bus              string        `koanf:"bus"` // memory, redis
	RedisURL         string        `koanf:"redis_url"`
	Channel          string        `koanf:"channel"`
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`
	ListenAddr       string        `koanf:"listen_addr"`
}

type ServerConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

type GovernanceConfig struct {
	Rules []governance.Rule `koanf:"rules"`
}

func setDefaults(k *koanf.Koanf) {
	_ = k.Set("log.level", "info")
	_ = k.Set("log.format", "text")
	_ = k.Set("telemetry.exporter", "none")
	_ = k.Set("telemetry.otlp_endpoint", "localhost:4317")
	_ = k.Set("telemetry.otlp_insecure", true)
	_ = k.Set("telemetry.otlp_timeout_seconds", 10)
	_ = k.Set("telemetry.metric_interval_seconds", 15)
	_ = k.Set("llm.provider", "anthropic")
	_ = k.Set("llm.model", "claude-sonnet-4-5")
	_ = k.Set("llm.max_tokens", 4096)
	_ = k.Set("llm.retry_attempts", 3)
	_ = k.Set("llm.breaker_threshold", 5)
	_ = k.Set("llm.breaker_cooldown", "30s")
	_ = k.Set("agent.kind", "chat")
	_ = k.Set("agent.max_iterations", 10)
	_ = k.Set("agent.instruction_ttl", "5m")
	_ = k.Set("store.driver", "memory")
	_ = k.Set("discovery.enabled", false)
	_ = k.Set("discovery.bus", "memory")
	_ = k.Set("discovery.channel", "skillmesh:skills")
	_ = k.Set("discovery.heartbeat_timeout", "90s")
	_ = k.Set("discovery.listen_addr", ":8091")
	_ = k.Set("server.listen_addr", ":8090")
}

// Load reads path (optional) over the defaults, then SKILLMESH_ variables.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile layers the profile file next to path, e.g. config.dev.yaml
// for profile "dev", over the base file. A missing profile file is ignored.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI understands --config, --profile (alias --env) and repeated
// --set key=value flags. --set values win over everything else.
func LoadWithCLI(args []string) (*Config, error) {
	opts, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, sets)
}

type override struct {
	key   string
	value any
}

func load(path, profile string, sets []override) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if pp := profileConfigPath(path, profile); pp != "" {
			if err := k.Load(file.Provider(pp), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", pp, err)
			}
		}
	}

	// SKILLMESH_AGENT_MAX_ITERATIONS -> agent.max_iterations
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	for _, o := range sets {
		if err := k.Set(o.key, o.value); err != nil {
			return nil, fmt.Errorf("set %s: %w", o.key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if k.Exists("skills.inline") {
		if err := k.UnmarshalWithConf("skills.inline", &cfg.Skills.Inline, koanf.UnmarshalConf{Tag: "json"}); err != nil {
			return nil, fmt.Errorf("skills.inline: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Agent.Kind {
	case "chat", "ops":
	default:
		return fmt.Errorf("agent.kind must be chat or ops, got %q", c.Agent.Kind)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.LLM.RetryAttempts < 0 || c.LLM.BreakerThreshold < 0 {
		return fmt.Errorf("llm.retry_attempts and llm.breaker_threshold must not be negative")
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver must be memory or sqlite, got %q", c.Store.Driver)
	}
	switch c.Discovery.Bus {
	case "memory", "redis":
	default:
		return fmt.Errorf("discovery.bus must be memory or redis, got %q", c.Discovery.Bus)
	}
	if c.Discovery.Enabled && c.Discovery.Bus == "redis" && c.Discovery.RedisURL == "" {
		return fmt.Errorf("discovery.redis_url is required for the redis bus")
	}
	return nil
}

// profileConfigPath returns the profile file for base if it exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, []override, error) {
	var (
		opts cliOptions
		sets []override
	)
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			if !ok || key == "" {
				return opts, nil, fmt.Errorf("invalid --set %q, want key=value", value)
			}
			sets = append(sets, override{key: key, value: parseSetValue(raw)})
		}
	}
	return opts, sets, nil
}

// parseSetValue decodes JSON literals (numbers, booleans, objects, lists)
// and falls back to the raw string.
func parseSetValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
