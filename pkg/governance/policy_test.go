package governance

import (
	"context"
	"testing"
)

func TestRuleSetEvaluate(t *testing.T) {
	engine := NewRuleSet([]Rule{
		{ID: "no-delete-while-draining", Effect: "deny", Tool: "note_delete", State: "draining", Reason: "read only"},
		{ID: "no-secrets", Effect: "deny", Tool: "secrets_*", Reason: "blocked"},
		{ID: "allow-calc", Effect: "allow", Tool: "calc_*"},
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		action  Action
		allowed bool
		ruleID  string
	}{
		{"glob allow", Action{Tool: "calc_sum", State: "active"}, true, "allow-calc"},
		{"glob deny any state", Action{Tool: "secrets_read", State: "active"}, false, "no-secrets"},
		{"state scoped deny", Action{Tool: "note_delete", State: "draining"}, false, "no-delete-while-draining"},
		{"state scoped other state", Action{Tool: "note_delete", State: "active"}, true, ""},
		{"default allow", Action{Tool: "search"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate(ctx, tt.action)
			if d.IsAllowed() != tt.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tt.allowed, d)
			}
			if d.RuleID != tt.ruleID {
				t.Fatalf("expected rule %q, got %q", tt.ruleID, d.RuleID)
			}
		})
	}
}

func TestNilRuleSetAllows(t *testing.T) {
	var r *RuleSet
	if !r.Evaluate(context.Background(), Action{Tool: "x"}).IsAllowed() {
		t.Fatal("nil rule set should allow")
	}
}
