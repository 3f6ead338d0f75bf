// Package policy decides whether a failed gateway call may be retried.
// Rules are govaluate expressions evaluated against the attempt context, so
// the retry budget can be tuned without touching the client code.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// RuleConfig is one named retry rule. The expression sees these parameters:
//
//	attempt_number (int)  - the attempt that just failed, 1-based
//	transient      (bool) - whether the failure looked transient (network, 5xx, 429)
//	operation      (string) - gateway operation name ("token", "create", ...)
type RuleConfig struct {
	Name       string
	Expression string
}

// DefaultCreateRules is the stock policy for the remote-order create step: up
// to two retries, transient failures only. Capture has no rules on purpose;
// a capture moves money and must never be re-attempted blindly.
func DefaultCreateRules() []RuleConfig {
	return []RuleConfig{
		{Name: "TransientCreateRetry", Expression: "attempt_number < 3 && transient"},
	}
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// RetryPolicy evaluates compiled retry rules. A nil policy allows nothing.
type RetryPolicy struct {
	rules []compiledRule
}

// NewRetryPolicy compiles the rule expressions up front so a bad expression
// is a constructor error, not a per-request surprise.
func NewRetryPolicy(rules []RuleConfig) (*RetryPolicy, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rc := range rules {
		expr, err := govaluate.NewEvaluableExpression(rc.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %q: %w", rc.Name, err)
		}
		compiled = append(compiled, compiledRule{name: rc.Name, expr: expr})
	}
	return &RetryPolicy{rules: compiled}, nil
}

// AllowRetry reports whether any rule permits another attempt. Evaluation
// errors count as a no: when in doubt, surface the failure to the caller.
func (p *RetryPolicy) AllowRetry(operation string, attemptNumber int, transient bool) bool {
	if p == nil {
		return false
	}
	params := map[string]interface{}{
		"attempt_number": attemptNumber,
		"transient":      transient,
		"operation":      operation,
	}
	for _, rule := range p.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			continue
		}
		if allowed, ok := result.(bool); ok && allowed {
			return true
		}
	}
	return false
}
