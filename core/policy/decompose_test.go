package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRule_Decompose(t *testing.T) {
	rule := Rule{
		ID:     "r1",
		Effect: EffectPermit,
		Targets: []Target{
			{Category: Subject, AnyOf: []AllOf{
				{{ID: AttrRoleCode, Value: "admin"}},
				{{ID: AttrRoleCode, Value: "auditor"}},
			}},
			{Category: Resource, AnyOf: []AllOf{
				{{ID: AttrOrg, Value: "org1"}, {ID: AttrApp, Value: "app3"}},
			}},
			{Category: Action, AnyOf: []AllOf{
				{{ID: AttrActionID, Value: "read"}},
				{{ID: AttrActionID, Value: "write"}},
				{{ID: AttrActionID, Value: "sign"}},
			}},
		},
	}

	atoms := rule.Decompose()
	require.Len(t, atoms, 2*1*3)

	for _, atom := range atoms {
		require.Equal(t, "r1", atom.ID)
		require.Equal(t, EffectPermit, atom.Effect)

		for _, cat := range []CategoryType{Subject, Resource, Action} {
			require.Len(t, atom.Category(cat), 1)
		}
	}
}

func TestRule_Decompose_MissingCategory(t *testing.T) {
	rule := Rule{
		ID:     "r1",
		Effect: EffectPermit,
		Targets: []Target{
			{Category: Action, AnyOf: []AllOf{
				{{ID: AttrActionID, Value: "read"}},
			}},
		},
	}

	atoms := rule.Decompose()
	require.Len(t, atoms, 1)
	require.Len(t, atoms[0].Category(Subject), 1)
	require.Empty(t, atoms[0].Category(Subject)[0])
}

func TestPolicy_Decompose(t *testing.T) {
	pol := Policy{
		ID:        "p1",
		Version:   "v3",
		Algorithm: DenyOverrides,
		Rules: []Rule{
			makeRule("r1", "read", "write"),
			makeRule("r2", "sign"),
		},
	}

	flat := pol.Decompose()

	require.Equal(t, "p1", flat.ID)
	require.Equal(t, "v3", flat.Version)
	require.Len(t, flat.Rules, 3)
}

func TestRule_ResourceKey(t *testing.T) {
	rule := makeRule("r1", "read").Decompose()[0]

	require.Equal(t, AttributeMatchKey([]AttributeMatch{
		{ID: AttrOrg, Value: "org1"},
		{ID: AttrApp, Value: "app3"},
	}), rule.ResourceKey())

	require.Empty(t, Rule{}.ResourceKey())
	require.Empty(t, Rule{}.ActionKey())
}

func TestPolicy_ContainsMatchingRule(t *testing.T) {
	pol := Policy{
		Rules: []Rule{makeRule("r1", "read", "write")},
	}

	id, found := pol.ContainsMatchingRule(makeRule("", "write"))
	require.True(t, found)
	require.Equal(t, "r1", id)

	_, found = pol.ContainsMatchingRule(makeRule("", "sign"))
	require.False(t, found)
}

func TestPolicy_ContainsMatchingRule_IgnoresDeny(t *testing.T) {
	deny := makeRule("r1", "read")
	deny.Effect = EffectDeny

	pol := Policy{Rules: []Rule{deny}}

	_, found := pol.ContainsMatchingRule(makeRule("", "read"))
	require.False(t, found)
}

func TestPolicy_ContainsMatchingRule_DifferentResource(t *testing.T) {
	pol := Policy{Rules: []Rule{makeRule("r1", "read")}}

	candidate := NewPermitRule("",
		nil,
		AllOf{{ID: AttrResourceRegistry, Value: "skd-tax"}},
		AllOf{{ID: AttrActionID, Value: "read"}},
	)

	_, found := pol.ContainsMatchingRule(candidate)
	require.False(t, found)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeRule(id string, actions ...string) Rule {
	anyOf := make([]AllOf, len(actions))
	for i, action := range actions {
		anyOf[i] = AllOf{{ID: AttrActionID, Value: action}}
	}

	return Rule{
		ID:     id,
		Effect: EffectPermit,
		Targets: []Target{
			{Category: Subject, AnyOf: []AllOf{
				{{ID: AttrRoleCode, Value: "admin"}},
			}},
			{Category: Resource, AnyOf: []AllOf{
				{{ID: AttrOrg, Value: "org1"}, {ID: AttrApp, Value: "app3"}},
			}},
			{Category: Action, AnyOf: anyOf},
		},
	}
}
