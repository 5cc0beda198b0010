package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/skillmesh/pkg/skills"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected default provider anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.RetryAttempts != 3 || cfg.LLM.BreakerThreshold != 5 || cfg.LLM.BreakerCooldown != 30*time.Second {
		t.Errorf("unexpected llm resilience defaults: %+v", cfg.LLM)
	}
	if cfg.Agent.Kind != "chat" {
		t.Errorf("expected default agent kind chat, got %s", cfg.Agent.Kind)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("expected 10 max iterations, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.InstructionTTL != 5*time.Minute {
		t.Errorf("expected 5m instruction ttl, got %s", cfg.Agent.InstructionTTL)
	}
	if cfg.Discovery.HeartbeatTimeout != 90*time.Second {
		t.Errorf("expected 90s heartbeat timeout, got %s", cfg.Discovery.HeartbeatTimeout)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory store, got %s", cfg.Store.Driver)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("SKILLMESH_LLM_PROVIDER", "openai")
	t.Setenv("SKILLMESH_AGENT_MAX_ITERATIONS", "4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider openai from env, got %s", cfg.LLM.Provider)
	}
	if cfg.Agent.MaxIterations != 4 {
		t.Errorf("expected max iterations 4 from env, got %d", cfg.Agent.MaxIterations)
	}
}

func TestLoadFileSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillmesh.yaml")
	writeFile(t, path, `
agent:
  kind: ops
  max_iterations: 6
  instruction_ttl: 30s
  states:
    runtime:
      allow: ["*_status"]
      prompt: "Watch the service."
skills:
  inline:
    - id: notes
      name: Notes
      tier: stdio
      enabled: true
      command: notes-server
      args: ["--memory"]
    - id: catalog
      tier: service
      enabled: true
      url: http://catalog.default.svc/mcp
      transport: sse
store:
  driver: sqlite
  dsn: file:/var/lib/skillmesh/skills.db
governance:
  rules:
    - id: no-shutdown
      effect: deny
      tool: request_shutdown
      reason: shutdown is manual
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Kind != "ops" || cfg.Agent.MaxIterations != 6 {
		t.Errorf("unexpected agent section %+v", cfg.Agent)
	}
	if cfg.Agent.InstructionTTL != 30*time.Second {
		t.Errorf("expected 30s ttl, got %s", cfg.Agent.InstructionTTL)
	}
	rule, ok := cfg.Agent.States["runtime"]
	if !ok || len(rule.Allow) != 1 || rule.Allow[0] != "*_status" || rule.Prompt != "Watch the service." {
		t.Errorf("unexpected state override %+v", cfg.Agent.States)
	}
	if len(cfg.Skills.Inline) != 2 {
		t.Fatalf("expected 2 inline skills, got %d", len(cfg.Skills.Inline))
	}
	notes := cfg.Skills.Inline[0]
	if notes.ID != "notes" || notes.Tier != skills.TierStdio || notes.Command != "notes-server" || !notes.Enabled {
		t.Errorf("unexpected notes descriptor %+v", notes)
	}
	if len(notes.Args) != 1 || notes.Args[0] != "--memory" {
		t.Errorf("unexpected notes args %v", notes.Args)
	}
	if cfg.Skills.Inline[1].Transport != "sse" {
		t.Errorf("expected sse transport, got %q", cfg.Skills.Inline[1].Transport)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite store, got %s", cfg.Store.Driver)
	}
	if len(cfg.Governance.Rules) != 1 || cfg.Governance.Rules[0].Effect != "deny" {
		t.Errorf("unexpected governance rules %+v", cfg.Governance.Rules)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown kind", body: "agent:\n  kind: batch\n"},
		{name: "zero iterations", body: "agent:\n  max_iterations: 0\n"},
		{name: "unknown store", body: "store:\n  driver: postgres\n"},
		{name: "redis without url", body: "discovery:\n  enabled: true\n  bus: redis\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tc.body)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSkillsDescriptorsMergesSources(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "skills.yaml")
	writeFile(t, manifest, `
skills:
  - id: catalog
    tier: service
    enabled: true
    url: http://catalog/mcp
`)
	instrDir := filepath.Join(dir, "instructions")
	if err := os.MkdirAll(filepath.Join(instrDir, "style"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(instrDir, "style", "SKILL.md"), "---\nname: style\ndescription: House style\n---\nBe terse.\n")

	sc := SkillsConfig{
		Inline:          []skills.Descriptor{{ID: "notes", Tier: skills.TierStdio, Command: "notes"}},
		Manifests:       []string{manifest},
		InstructionDirs: []string{instrDir},
	}
	got, err := sc.Descriptors()
	if err != nil {
		t.Fatalf("Descriptors failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(got))
	}
	if got[0].ID != "notes" || got[1].ID != "catalog" || got[2].Tier != skills.TierInstruction {
		t.Errorf("unexpected order %+v", got)
	}
}

func TestLoadWithProfile(t *testing.T) {
	tmpDir := t.TempDir()

	basePath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, basePath, `
llm:
  provider: "ollama"
  model: "llama3.1"
log:
  level: "info"
`)
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), `
llm:
  provider: "scripted"
log:
  level: "debug"
`)
	writeFile(t, filepath.Join(tmpDir, "config.prod.yaml"), `
llm:
  provider: "openai"
log:
  level: "warn"
`)

	tests := []struct {
		name         string
		profile      string
		wantProvider string
		wantLogLevel string
		wantModel    string
	}{
		{name: "no profile - base only", profile: "", wantProvider: "ollama", wantLogLevel: "info", wantModel: "llama3.1"},
		{name: "dev profile", profile: "dev", wantProvider: "scripted", wantLogLevel: "debug", wantModel: "llama3.1"},
		{name: "prod profile", profile: "prod", wantProvider: "openai", wantLogLevel: "warn", wantModel: "llama3.1"},
		{name: "nonexistent profile - falls back to base", profile: "staging", wantProvider: "ollama", wantLogLevel: "info", wantModel: "llama3.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithProfile(basePath, tc.profile)
			if err != nil {
				t.Fatalf("LoadWithProfile failed: %v", err)
			}
			if cfg.LLM.Provider != tc.wantProvider {
				t.Errorf("provider: got %s, want %s", cfg.LLM.Provider, tc.wantProvider)
			}
			if cfg.Log.Level != tc.wantLogLevel {
				t.Errorf("log level: got %s, want %s", cfg.Log.Level, tc.wantLogLevel)
			}
			if cfg.LLM.Model != tc.wantModel {
				t.Errorf("model: got %s, want %s", cfg.LLM.Model, tc.wantModel)
			}
		})
	}
}

func TestLoadWithCLIProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, basePath, "llm:\n  provider: \"ollama\"\n")
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), "llm:\n  provider: \"scripted\"\n")

	tests := []struct {
		name string
		args []string
	}{
		{name: "profile flag", args: []string{"--config", basePath, "--profile", "dev"}},
		{name: "env flag alias", args: []string{"--config", basePath, "--env", "dev"}},
		{name: "profile with equals", args: []string{"--config=" + basePath, "--profile=dev"}},
		{name: "env with equals", args: []string{"--config=" + basePath, "--env=dev"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI(tc.args)
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}
			if cfg.LLM.Provider != "scripted" {
				t.Errorf("provider: got %s, want scripted", cfg.LLM.Provider)
			}
		})
	}
}

func TestLoadWithCLIOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	writeFile(t, path, "llm:\n  provider: ollama\n  model: model-a\n")
	t.Setenv("SKILLMESH_LLM_PROVIDER", "openai")

	cfg, err := LoadWithCLI([]string{
		"--config", path,
		"--set", "llm.provider=anthropic",
		"--set", "discovery.enabled=true",
		"--set", "telemetry.otlp_timeout_seconds=12",
		"--set", "agent.kind=ops",
		`--set`, `skills.manifests=["/etc/skillmesh/skills.yaml"]`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("expected cli override provider, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "model-a" {
		t.Fatalf("expected file model, got %s", cfg.LLM.Model)
	}
	if !cfg.Discovery.Enabled {
		t.Fatalf("expected discovery.enabled=true")
	}
	if cfg.Telemetry.OTLPTimeoutSeconds != 12 {
		t.Fatalf("expected telemetry timeout override")
	}
	if cfg.Agent.Kind != "ops" {
		t.Fatalf("expected ops agent, got %s", cfg.Agent.Kind)
	}
	if len(cfg.Skills.Manifests) != 1 || cfg.Skills.Manifests[0] != "/etc/skillmesh/skills.yaml" {
		t.Fatalf("unexpected manifests %v", cfg.Skills.Manifests)
	}
}

func TestLoadWithCLITelemetryHeaders(t *testing.T) {
	cfg, err := LoadWithCLI([]string{
		"--set", "telemetry.exporter=otlp",
		"--set", "telemetry.otlp_endpoint=collector:4317",
		"--set", "telemetry.otlp_headers.x-api-key=secret-token",
		"--set", "telemetry.otlp_user=admin",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Telemetry.Exporter != "otlp" {
		t.Errorf("expected exporter otlp, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.OTLPHeaders["x-api-key"] != "secret-token" {
		t.Errorf("expected x-api-key=secret-token, got %v", cfg.Telemetry.OTLPHeaders)
	}
	if cfg.Telemetry.OTLPUser != "admin" {
		t.Errorf("expected user admin, got %s", cfg.Telemetry.OTLPUser)
	}
	sdk := cfg.Telemetry.SDK()
	if sdk.OTLPEndpoint != "collector:4317" || sdk.MetricInterval != 15*time.Second {
		t.Errorf("unexpected sdk config %+v", sdk)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
}

func TestProfileConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	devPath := filepath.Join(tmpDir, "config.dev.yaml")
	writeFile(t, devPath, "test")
	basePath := filepath.Join(tmpDir, "config.yaml")

	tests := []struct {
		name     string
		base     string
		profile  string
		wantPath string
	}{
		{name: "existing profile", base: basePath, profile: "dev", wantPath: devPath},
		{name: "nonexistent profile", base: basePath, profile: "prod", wantPath: ""},
		{name: "empty profile", base: basePath, profile: "", wantPath: ""},
		{name: "empty base", base: "", profile: "dev", wantPath: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := profileConfigPath(tc.base, tc.profile)
			if got != tc.wantPath {
				t.Errorf("profileConfigPath(%q, %q) = %q, want %q", tc.base, tc.profile, got, tc.wantPath)
			}
		})
	}
}
