// Package json implements the JSON format engine for policy documents.
package json

import (
	"go.govkit.dev/mandate/core/policy"
	"go.govkit.dev/mandate/serde"
	"golang.org/x/xerrors"
)

func init() {
	policy.RegisterPolicyFormat(serde.FormatJSON, policyFormat{})
}

// AttributeMatchJSON is the JSON message for an attribute match.
type AttributeMatchJSON struct {
	ID    string
	Value string
}

// TargetJSON is the JSON message for a category target.
type TargetJSON struct {
	Category string
	AnyOf    [][]AttributeMatchJSON
}

// RuleJSON is the JSON message for a rule.
type RuleJSON struct {
	ID      string
	Effect  string
	Targets []TargetJSON
}

// PolicyJSON is the JSON message for a policy document.
type PolicyJSON struct {
	ID        string
	Version   string
	Algorithm string
	Rules     []RuleJSON
}

// PolicyFormat is the format engine to encode and decode policy documents.
//
// - implements serde.FormatEngine
type policyFormat struct{}

// Encode implements serde.FormatEngine. It encodes the policy message if
// appropriate, otherwise it returns an error.
func (policyFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	pol, ok := msg.(policy.Policy)
	if !ok {
		return nil, xerrors.Errorf("invalid policy '%T'", msg)
	}

	m := PolicyJSON{
		ID:        pol.ID,
		Version:   pol.Version,
		Algorithm: string(pol.Algorithm),
		Rules:     make([]RuleJSON, len(pol.Rules)),
	}

	for i, rule := range pol.Rules {
		m.Rules[i] = encodeRule(rule)
	}

	data, err := ctx.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return data, nil
}

// Decode implements serde.FormatEngine. It returns the policy from the JSON
// data if appropriate, otherwise it returns an error.
func (policyFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := PolicyJSON{}

	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal policy: %v", err)
	}

	pol := policy.Policy{
		ID:        m.ID,
		Version:   m.Version,
		Algorithm: policy.CombiningAlgorithm(m.Algorithm),
		Rules:     make([]policy.Rule, len(m.Rules)),
	}

	for i, rule := range m.Rules {
		pol.Rules[i] = decodeRule(rule)
	}

	return pol, nil
}

func encodeRule(rule policy.Rule) RuleJSON {
	m := RuleJSON{
		ID:      rule.ID,
		Effect:  string(rule.Effect),
		Targets: make([]TargetJSON, len(rule.Targets)),
	}

	for i, target := range rule.Targets {
		t := TargetJSON{
			Category: string(target.Category),
			AnyOf:    make([][]AttributeMatchJSON, len(target.AnyOf)),
		}

		for j, allOf := range target.AnyOf {
			t.AnyOf[j] = make([]AttributeMatchJSON, len(allOf))
			for k, match := range allOf {
				t.AnyOf[j][k] = AttributeMatchJSON{ID: match.ID, Value: match.Value}
			}
		}

		m.Targets[i] = t
	}

	return m
}

func decodeRule(m RuleJSON) policy.Rule {
	rule := policy.Rule{
		ID:      m.ID,
		Effect:  policy.EffectType(m.Effect),
		Targets: make([]policy.Target, len(m.Targets)),
	}

	for i, target := range m.Targets {
		t := policy.Target{
			Category: policy.CategoryType(target.Category),
			AnyOf:    make([]policy.AllOf, len(target.AnyOf)),
		}

		for j, allOf := range target.AnyOf {
			t.AnyOf[j] = make(policy.AllOf, len(allOf))
			for k, match := range allOf {
				t.AnyOf[j][k] = policy.AttributeMatch{ID: match.ID, Value: match.Value}
			}
		}

		rule.Targets[i] = t
	}

	return rule
}
