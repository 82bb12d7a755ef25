package policy

// This file implements the rule decomposition primitives. A rule with N
// subject conjunctions, M resource conjunctions and K action conjunctions
// represents N*M*K atomic combinations; decomposition materializes each of
// them as an independently checkable rule.

// Decompose returns the atomic rules represented by the rule: the cartesian
// product of its per-category conjunctions, each produced rule carrying a
// singleton disjunction per category.
func (r Rule) Decompose() []Rule {
	subjects := orEmpty(r.Category(Subject))
	resources := orEmpty(r.Category(Resource))
	actions := orEmpty(r.Category(Action))

	rules := make([]Rule, 0, len(subjects)*len(resources)*len(actions))

	for _, subject := range subjects {
		for _, resource := range resources {
			for _, action := range actions {
				rules = append(rules, Rule{
					ID:     r.ID,
					Effect: r.Effect,
					Targets: []Target{
						{Category: Subject, AnyOf: []AllOf{subject}},
						{Category: Resource, AnyOf: []AllOf{resource}},
						{Category: Action, AnyOf: []AllOf{action}},
					},
				})
			}
		}
	}

	return rules
}

// orEmpty makes sure a category with no target still contributes one
// unconstrained conjunction to the cartesian product.
func orEmpty(sets []AllOf) []AllOf {
	if len(sets) == 0 {
		return []AllOf{nil}
	}

	return sets
}

// Decompose returns a copy of the policy where every rule is expanded into
// its atomic combinations.
func (p Policy) Decompose() Policy {
	rules := make([]Rule, 0, len(p.Rules))

	for _, rule := range p.Rules {
		rules = append(rules, rule.Decompose()...)
	}

	return Policy{
		ID:        p.ID,
		Version:   p.Version,
		Algorithm: p.Algorithm,
		Rules:     rules,
	}
}

// ResourceKey returns the canonical key of the single resource conjunction of
// an atomic rule.
func (r Rule) ResourceKey() string {
	resources := r.Category(Resource)
	if len(resources) == 0 {
		return ""
	}

	return AttributeMatchKey(resources[0])
}

// ActionKey returns the canonical key of the single action conjunction of an
// atomic rule.
func (r Rule) ActionKey() string {
	actions := r.Category(Action)
	if len(actions) == 0 {
		return ""
	}

	return AttributeMatchKey(actions[0])
}

// ContainsMatchingRule searches the policy for an existing permit rule whose
// resource key equals the candidate's and whose action matches exactly. It
// returns the identifier of the matching rule when found.
//
// It serves two callers: the delegation writer detecting an already delegated
// rule before appending a duplicate, and the validation of a requested rule
// against the base policy of the resource.
func (p Policy) ContainsMatchingRule(candidate Rule) (string, bool) {
	wantResource := candidate.ResourceKey()
	wantAction := candidate.ActionKey()

	for _, rule := range p.Rules {
		if rule.Effect != EffectPermit {
			continue
		}

		for _, atom := range rule.Decompose() {
			if atom.ResourceKey() == wantResource && atom.ActionKey() == wantAction {
				return rule.ID, true
			}
		}
	}

	return "", false
}
