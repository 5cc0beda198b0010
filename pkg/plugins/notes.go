package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jllopis/skillmesh/pkg/core"
)

// NotesPack provides an in-memory key/value scratchpad shared by every
// session of the process.
func NotesPack() *Pack {
	n := &notes{values: make(map[string]string)}
	keySchema := map[string]any{"key": map[string]any{"type": "string"}}
	return &Pack{
		ID: "legacy:notes",
		Tools: []core.Tool{
			{
				Definition: core.ToolDefinition{
					Name:        "note_set",
					Description: "Store a note",
					InputSchema: core.ObjectSchema(map[string]any{
						"key":   map[string]any{"type": "string"},
						"value": map[string]any{"type": "string"},
					}, "key", "value"),
				},
				Handler: n.set,
			},
			{
				Definition: core.ToolDefinition{
					Name:        "note_get",
					Description: "Retrieve a note",
					InputSchema: core.ObjectSchema(keySchema, "key"),
				},
				Handler: n.get,
			},
			{
				Definition: core.ToolDefinition{
					Name:        "note_list",
					Description: "List all note keys",
					InputSchema: core.ObjectSchema(nil),
				},
				Handler: n.list,
			},
			{
				Definition: core.ToolDefinition{
					Name:        "note_delete",
					Description: "Delete a note",
					InputSchema: core.ObjectSchema(keySchema, "key"),
				},
				Handler: n.delete,
			},
		},
		Close: func(context.Context) error {
			n.reset()
			return nil
		},
	}
}

type notes struct {
	mu     sync.Mutex
	values map[string]string
}

type noteInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func jsonResult(v any) (core.ToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return core.ToolResult{}, err
	}
	return core.TextResult(string(raw)), nil
}

func (n *notes) set(_ context.Context, input map[string]any) (core.ToolResult, error) {
	var in noteInput
	if err := decode(input, &in); err != nil {
		return core.ToolResult{}, err
	}
	if in.Key == "" {
		return core.ErrorResult("key is required"), nil
	}
	n.mu.Lock()
	n.values[in.Key] = in.Value
	n.mu.Unlock()
	return jsonResult(map[string]string{"key": in.Key, "status": "saved"})
}

func (n *notes) get(_ context.Context, input map[string]any) (core.ToolResult, error) {
	var in noteInput
	if err := decode(input, &in); err != nil {
		return core.ToolResult{}, err
	}
	n.mu.Lock()
	v, ok := n.values[in.Key]
	n.mu.Unlock()
	if !ok {
		return core.ErrorResult(fmt.Sprintf("note %q not found", in.Key)), nil
	}
	return jsonResult(map[string]string{"key": in.Key, "value": v})
}

func (n *notes) list(context.Context, map[string]any) (core.ToolResult, error) {
	n.mu.Lock()
	keys := make([]string, 0, len(n.values))
	for k := range n.values {
		keys = append(keys, k)
	}
	n.mu.Unlock()
	sort.Strings(keys)
	return jsonResult(map[string]any{"keys": keys, "count": len(keys)})
}

func (n *notes) delete(_ context.Context, input map[string]any) (core.ToolResult, error) {
	var in noteInput
	if err := decode(input, &in); err != nil {
		return core.ToolResult{}, err
	}
	n.mu.Lock()
	delete(n.values, in.Key)
	n.mu.Unlock()
	return jsonResult(map[string]string{"key": in.Key, "status": "deleted"})
}

func (n *notes) reset() {
	n.mu.Lock()
	n.values = make(map[string]string)
	n.mu.Unlock()
}
