// Package policy evaluates run admission rules with OPA.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy is evaluated against.
type Input struct {
	Language         string   `json:"language"`
	Filename         string   `json:"filename"`
	SourceBytes      int      `json:"source_bytes"`
	AllowedLanguages []string `json:"allowed_languages"`
	MaxSourceBytes   int      `json:"max_source_bytes"`
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Decision string
	Reasons  []string
}

// Allowed reports whether the run may start.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// Reason joins all reasons into one line.
func (d Decision) Reason() string {
	return strings.Join(d.Reasons, "; ")
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.run_policy"),
		rego.Module("run_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks whether a run is admitted.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if input.AllowedLanguages == nil {
		input.AllowedLanguages = []string{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Decision: DecisionAllow}, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Decision: DecisionAllow}, nil
	}

	decision := Decision{Decision: DecisionAllow}
	if s, ok := doc["decision"].(string); ok {
		decision.Decision = s
	}
	if deny, ok := doc["deny"].([]interface{}); ok {
		for _, d := range deny {
			if s, ok := d.(string); ok {
				decision.Reasons = append(decision.Reasons, s)
			}
		}
		sort.Strings(decision.Reasons)
	}
	return decision, nil
}

// DefaultPolicy is the default policy content.
// An empty allowed_languages list or a zero max_source_bytes disables that rule.
const DefaultPolicy = `
package run_policy

default decision = "allow"

decision = "block" {
	count(deny) > 0
}

deny[msg] {
	count(input.allowed_languages) > 0
	not language_allowed
	msg := sprintf("language %s is not enabled", [input.language])
}

deny[msg] {
	input.max_source_bytes > 0
	input.source_bytes > input.max_source_bytes
	msg := sprintf("source is %d bytes, limit is %d", [input.source_bytes, input.max_source_bytes])
}

deny[msg] {
	input.source_bytes == 0
	msg := "source is empty"
}

language_allowed {
	input.allowed_languages[_] == input.language
}
`
