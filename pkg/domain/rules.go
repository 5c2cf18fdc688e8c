package domain

import (
	"context"
	"fmt"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine whether a deblend result is accepted.
const (
	// SeverityBlock rejects the deblend output.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but accepts the output.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed or noteworthy rule evaluation for one unit.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Key      Key
}

func (v Violation) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", v.Rule, v.Severity, v.Key, v.Message)
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking violations.
func (r Result) Blocking() []Violation {
	return r.WithSeverity(SeverityBlock)
}

// WithSeverity returns the violations of one severity.
func (r Result) WithSeverity(sev Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == sev {
			out = append(out, v)
		}
	}
	return out
}

// Transition is the pair of stores a deblender consumed and produced.
type Transition struct {
	Before *Store
	After  *Store
}

// Rule defines an invariant evaluated against every deblend transition.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, transition Transition) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in registration order.
func (e *RulesEngine) Rules() []string {
	out := make([]string, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule.Name())
	}
	return out
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, transition Transition) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, transition)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
