// Package pdp implements a minimal policy decision point.
//
// It evaluates one decomposed rule against a concrete attribute context. The
// engine only ever loads permit rules, so the decision is either Permit or
// NotApplicable; the decision point exists to let role-context substitution
// decide, per user, which decomposed rules actually apply.
package pdp

import (
	"go.govkit.dev/mandate/core/policy"
)

// Decision is the outcome of an evaluation.
type Decision int

const (
	// NotApplicable means the rule's target is not covered by the supplied
	// context.
	NotApplicable Decision = iota

	// Permit means every match of the rule's target is present in the
	// context.
	Permit
)

// String returns the XACML name of the decision.
func (d Decision) String() string {
	if d == Permit {
		return "Permit"
	}

	return "NotApplicable"
}

// Request is the concrete attribute context a rule is evaluated against.
type Request struct {
	Subjects []policy.AttributeMatch
	Resource []policy.AttributeMatch
	Action   []policy.AttributeMatch
}

// Evaluate evaluates a decomposed rule, meaning a rule with a singleton
// conjunction per category, against the request. It returns Permit if and
// only if every subject, resource and action match of the rule's target is
// present in the corresponding context set via exact equality.
func Evaluate(rule policy.Rule, req Request) Decision {
	if rule.Effect != policy.EffectPermit {
		return NotApplicable
	}

	categories := []struct {
		cat     policy.CategoryType
		context []policy.AttributeMatch
	}{
		{policy.Subject, req.Subjects},
		{policy.Resource, req.Resource},
		{policy.Action, req.Action},
	}

	for _, c := range categories {
		for _, allOf := range rule.Category(c.cat) {
			for _, match := range allOf {
				if !contains(c.context, match) {
					return NotApplicable
				}
			}
		}
	}

	return Permit
}

func contains(context []policy.AttributeMatch, target policy.AttributeMatch) bool {
	for _, m := range context {
		if m.Equal(target) {
			return true
		}
	}

	return false
}
