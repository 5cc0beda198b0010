// Package governance decides which tools an agent may call. A StatePolicy
// maps each lifecycle state to a fixed allow-set and prompt; an optional
// RuleSet layers operator deny rules on top.
package governance

import (
	"context"
	"path"
	"strings"
)

// Action describes a tool invocation under evaluation.
type Action struct {
	Tool  string
	State string
}

// DecisionStatus captures the policy outcome.
type DecisionStatus string

const (
	DecisionStatusAllow DecisionStatus = "allow"
	DecisionStatusDeny  DecisionStatus = "deny"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Status DecisionStatus
	Reason string
	RuleID string
}

// IsAllowed returns true when the decision permits the action.
func (d Decision) IsAllowed() bool { return d.Status == DecisionStatusAllow }

func allow() Decision { return Decision{Status: DecisionStatusAllow} }

func deny(reason string) Decision {
	return Decision{Status: DecisionStatusDeny, Reason: reason}
}

// PolicyEngine evaluates actions.
type PolicyEngine interface {
	Evaluate(ctx context.Context, action Action) Decision
}

// Rule is a single operator rule. Tool and State are glob patterns; empty
// matches everything.
type Rule struct {
	ID     string `koanf:"id"`
	Effect string `koanf:"effect"` // allow or deny
	Tool   string `koanf:"tool"`
	State  string `koanf:"state"`
	Reason string `koanf:"reason"`
}

// RuleSet evaluates rules in order; the first match decides. Without a
// match the action is allowed.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet creates a rule set.
func NewRuleSet(rules []Rule) *RuleSet {
	return &RuleSet{rules: append([]Rule(nil), rules...)}
}

// Evaluate implements PolicyEngine.
func (r *RuleSet) Evaluate(_ context.Context, action Action) Decision {
	if r == nil {
		return allow()
	}
	for _, rule := range r.rules {
		if !matchPattern(rule.Tool, action.Tool) || !matchPattern(rule.State, action.State) {
			continue
		}
		d := Decision{Status: DecisionStatusAllow, Reason: rule.Reason, RuleID: rule.ID}
		if strings.EqualFold(rule.Effect, "deny") {
			d.Status = DecisionStatusDeny
		}
		return d
	}
	return allow()
}

func matchPattern(pattern, value string) bool {
	if pattern == "" || pattern == value {
		return true
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
