// Package policy implements the restricted ABAC policy dialect used by the
// delegation engine.
//
// A policy is a list of rules, each rule a disjunction (AnyOf) of
// conjunctions (AllOf) of attribute matches, scoped to the subject, resource
// and action categories. Only Permit rules are evaluated by the engine and
// resource policies combine with deny-overrides.
package policy

import (
	"sort"
	"strings"

	"go.govkit.dev/mandate/serde"
	"go.govkit.dev/mandate/serde/registry"
	"golang.org/x/xerrors"
)

var policyFormats = registry.NewSimpleRegistry()

// RegisterPolicyFormat registers the engine for the provided format.
func RegisterPolicyFormat(f serde.Format, e serde.FormatEngine) {
	policyFormats.Register(f, e)
}

// CategoryType is the identifier of a target category.
type CategoryType string

const (
	// Subject is the category of the acting subject's attributes.
	Subject CategoryType = "Subject"

	// Resource is the category of the accessed resource's attributes.
	Resource CategoryType = "Resource"

	// Action is the category of the attempted action's attributes.
	Action CategoryType = "Action"
)

// EffectType is the effect of a rule when its target matches.
type EffectType string

const (
	// EffectPermit grants the matched access.
	EffectPermit EffectType = "Permit"

	// EffectDeny denies the matched access. Deny rules are never loaded by
	// the rights-resolution path but the type is part of the document model.
	EffectDeny EffectType = "Deny"
)

// CombiningAlgorithm decides how the effects of the rules of one policy are
// combined.
type CombiningAlgorithm string

// DenyOverrides is the combining algorithm of resource policies: a single
// matching deny rule wins over any number of permits.
const DenyOverrides CombiningAlgorithm = "deny-overrides"

// AttributeMatch is an atomic attribute assertion, for instance "organization
// number = 910753614". It is an immutable value type and equality is on both
// fields.
type AttributeMatch struct {
	ID    string
	Value string
}

// Equal returns true when both the identifier and the value are equal.
func (m AttributeMatch) Equal(o AttributeMatch) bool {
	return m.ID == o.ID && m.Value == o.Value
}

// AllOf is a conjunction of attribute matches. It matches a context only when
// every single match is present in it.
type AllOf []AttributeMatch

// Contains returns true if the match is part of the conjunction.
func (s AllOf) Contains(target AttributeMatch) bool {
	for _, m := range s {
		if m.Equal(target) {
			return true
		}
	}

	return false
}

// Target is a disjunction of conjunctions of attribute matches, scoped to a
// single category.
type Target struct {
	Category CategoryType
	AnyOf    []AllOf
}

// Rule is a permit or deny statement. Its full target is the union of one
// Target per category.
type Rule struct {
	ID      string
	Effect  EffectType
	Targets []Target
}

// Category returns the list of conjunctions of the rule's target scoped to
// the given category, or nil if the rule has no target for it.
func (r Rule) Category(cat CategoryType) []AllOf {
	for _, target := range r.Targets {
		if target.Category == cat {
			return target.AnyOf
		}
	}

	return nil
}

// NewPermitRule creates an atomic permit rule with a singleton conjunction
// per category.
func NewPermitRule(id string, subject, resource, action AllOf) Rule {
	return Rule{
		ID:     id,
		Effect: EffectPermit,
		Targets: []Target{
			{Category: Subject, AnyOf: []AllOf{subject}},
			{Category: Resource, AnyOf: []AllOf{resource}},
			{Category: Action, AnyOf: []AllOf{action}},
		},
	}
}

// Policy is an ABAC policy document. The version is assigned by the storage
// on every write and is monotonic per path.
type Policy struct {
	ID        string
	Version   string
	Algorithm CombiningAlgorithm
	Rules     []Rule
}

// Serialize implements serde.Message. It looks up the format and returns the
// serialized data of the policy.
func (p Policy) Serialize(ctx serde.Context) ([]byte, error) {
	format := policyFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, p)
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode policy: %v", err)
	}

	return data, nil
}

// PolicyFactory is a factory to deserialize policy documents.
//
// - implements serde.Factory
type PolicyFactory struct{}

// NewPolicyFactory returns a new instance of the factory.
func NewPolicyFactory() PolicyFactory {
	return PolicyFactory{}
}

// Deserialize implements serde.Factory.
func (f PolicyFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	return f.PolicyOf(ctx, data)
}

// PolicyOf returns the policy deserialized from the data.
func (f PolicyFactory) PolicyOf(ctx serde.Context, data []byte) (Policy, error) {
	format := policyFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return Policy{}, xerrors.Errorf("%v format: %v", ctx.GetFormat(), err)
	}

	policy, ok := msg.(Policy)
	if !ok {
		return Policy{}, xerrors.Errorf("invalid policy '%T'", msg)
	}

	return policy, nil
}

// AttributeMatchKey returns the canonical key of a set of attribute matches:
// the matches sorted by identifier then value, concatenated. The ordering is
// total and stable so the key can be used for rule-signature comparisons.
func AttributeMatchKey(matches []AttributeMatch) string {
	sorted := make([]AttributeMatch, len(matches))
	copy(sorted, matches)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}

		return sorted[i].Value < sorted[j].Value
	})

	b := strings.Builder{}
	for _, m := range sorted {
		b.WriteString(m.ID)
		b.WriteString(m.Value)
	}

	return b.String()
}
