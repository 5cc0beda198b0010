package plugins

import (
	"context"
	"fmt"

	"github.com/jllopis/skillmesh/pkg/core"
)

// Transition tool names exposed to the operations agent.
const (
	ToolCompleteDeploy  = "complete_deploy"
	ToolBeginUpdate     = "begin_update"
	ToolCompleteUpdate  = "complete_update"
	ToolRequestShutdown = "request_shutdown"
)

// LifecyclePack lets the operations agent request state transitions. The
// tools never touch a state machine; they return a transition intent that
// the owning service applies.
func LifecyclePack() *Pack {
	return &Pack{
		ID: "legacy:lifecycle",
		Tools: []core.Tool{
			intentTool(ToolCompleteDeploy, "Mark the deployment as finished and enter runtime", "runtime"),
			intentTool(ToolBeginUpdate, "Start a rolling update", "update"),
			intentTool(ToolCompleteUpdate, "Mark the update as finished and return to runtime", "runtime"),
			intentTool(ToolRequestShutdown, "Shut the workload down", "shutdown"),
		},
	}
}

func intentTool(name, description, target string) core.Tool {
	return core.Tool{
		Definition: core.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: core.ObjectSchema(map[string]any{
				"reason": map[string]any{"type": "string"},
			}),
		},
		Handler: func(_ context.Context, input map[string]any) (core.ToolResult, error) {
			var in struct {
				Reason string `json:"reason"`
			}
			if err := decode(input, &in); err != nil {
				return core.ToolResult{}, err
			}
			text := fmt.Sprintf("transition to %s requested", target)
			if in.Reason != "" {
				text += ": " + in.Reason
			}
			return core.TextResult(text).WithTransition(target), nil
		},
	}
}
