package governance

import (
	"context"
	"testing"

	"github.com/jllopis/skillmesh/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
)

var catalog = []string{
	"kubectl_status", "app_logs", "deploy_app", "rollout_restart",
	"current_time", "note_get", "note_set", "note_list",
	"complete_deploy", "begin_update", "complete_update", "request_shutdown",
}

func TestDefaultChatPolicy(t *testing.T) {
	p := DefaultChatPolicy(nil)
	ctx := context.Background()

	assert.Empty(t, p.Resolve(ctx, lifecycle.ChatPending, catalog))
	assert.Empty(t, p.Resolve(ctx, lifecycle.ChatShutdown, catalog))
	assert.Equal(t, []string{"current_time", "note_get", "note_list"}, p.Resolve(ctx, lifecycle.ChatDraining, catalog))

	active := p.Resolve(ctx, lifecycle.ChatActive, catalog)
	assert.Contains(t, active, "kubectl_status")
	assert.Contains(t, active, "note_set")
	assert.NotContains(t, active, "complete_deploy")
	assert.NotContains(t, active, "request_shutdown")
}

func TestDefaultOpsPolicy(t *testing.T) {
	p := DefaultOpsPolicy(nil)
	ctx := context.Background()

	tests := []struct {
		state lifecycle.OpsState
		want  []string
	}{
		{lifecycle.OpsDeploy, []string{"kubectl_status", "deploy_app", "current_time", "note_get", "note_set", "note_list", "complete_deploy", "request_shutdown"}},
		{lifecycle.OpsRuntime, []string{"kubectl_status", "app_logs", "current_time", "note_get", "note_set", "note_list", "begin_update", "request_shutdown"}},
		{lifecycle.OpsUpdate, []string{"kubectl_status", "rollout_restart", "current_time", "note_get", "note_set", "note_list", "complete_update", "request_shutdown"}},
		{lifecycle.OpsShutdown, []string{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Resolve(ctx, tt.state, catalog))
		})
	}
}

func TestStatePolicyEngineLayersOnTop(t *testing.T) {
	engine := NewRuleSet([]Rule{{ID: "ro", Effect: "deny", Tool: "note_set", State: "active"}})
	p := DefaultChatPolicy(engine)

	active := p.Resolve(context.Background(), lifecycle.ChatActive, catalog)
	assert.NotContains(t, active, "note_set")
	assert.Contains(t, active, "note_get")
}

func TestStatePolicyUnknownStateAllowsNothing(t *testing.T) {
	p := NewStatePolicy(map[string]StateRule{"a": {Allow: []string{"*"}}}, nil)
	assert.Empty(t, p.Resolve(context.Background(), "b", catalog))
}

func TestStatePolicyPrompt(t *testing.T) {
	p := NewStatePolicy(map[lifecycle.ChatState]StateRule{
		lifecycle.ChatActive: {Prompt: "Be helpful."},
	}, nil)

	got := p.Prompt(lifecycle.ChatActive, "You are the support agent.", "Be brief.")
	assert.Equal(t, "You are the support agent.\n\nCurrent lifecycle state: active.\n\nBe helpful.\n\nBe brief.", got)
	assert.Equal(t, "Current lifecycle state: shutdown.", p.Prompt(lifecycle.ChatShutdown, "", ""))
}

func TestStatePolicyOverride(t *testing.T) {
	p := DefaultChatPolicy(nil)
	p.Override(map[lifecycle.ChatState]StateRule{
		lifecycle.ChatDraining: {Allow: []string{"note_*"}},
	})
	assert.Equal(t, []string{"note_*"}, p.Allowed(lifecycle.ChatDraining))
	assert.Equal(t, []string{"note_get", "note_set", "note_list"},
		p.Resolve(context.Background(), lifecycle.ChatDraining, catalog))
}
