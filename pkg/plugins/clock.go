package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/jllopis/skillmesh/pkg/core"
)

// ClockPack provides the current time. now defaults to time.Now.
func ClockPack(now func() time.Time) *Pack {
	if now == nil {
		now = time.Now
	}
	return &Pack{
		ID: "legacy:clock",
		Tools: []core.Tool{
			{
				Definition: core.ToolDefinition{
					Name:        "current_time",
					Description: "Return the current time, optionally in an IANA timezone",
					InputSchema: core.ObjectSchema(map[string]any{
						"timezone": map[string]any{"type": "string", "description": "IANA timezone, e.g. Europe/Madrid"},
					}),
				},
				Handler: func(_ context.Context, input map[string]any) (core.ToolResult, error) {
					var in struct {
						Timezone string `json:"timezone"`
					}
					if err := decode(input, &in); err != nil {
						return core.ToolResult{}, err
					}
					t := now()
					if in.Timezone != "" {
						loc, err := time.LoadLocation(in.Timezone)
						if err != nil {
							return core.ErrorResult(fmt.Sprintf("unknown timezone %q", in.Timezone)), nil
						}
						t = t.In(loc)
					}
					return core.TextResult(t.Format(time.RFC3339)), nil
				},
			},
		},
	}
}
