// Package rights implements the rights-resolution engine: given a
// from/to/resource query it aggregates the rights reachable through the
// subject's roles on the base policy and through active delegations, and it
// explains every right with the sources backing it.
package rights

import (
	"go.govkit.dev/mandate/core/policy"
)

// RightSourceType qualifies the policy a right source was found in.
type RightSourceType string

const (
	// AppPolicy is the base policy of an org/app resource.
	AppPolicy RightSourceType = "AppPolicy"

	// ResourceRegistryPolicy is the base policy of a registry resource.
	ResourceRegistryPolicy RightSourceType = "ResourceRegistryPolicy"

	// DelegationPolicy is a delegation policy written by the administration.
	DelegationPolicy RightSourceType = "DelegationPolicy"
)

// RightSource explains why a right holds. Multiple sources may back one
// right: role-based and delegation-based access coexist.
type RightSource struct {
	PolicyID         string
	PolicyVersion    string
	RuleID           string
	Type             RightSourceType
	HasPermit        bool
	OfferedByPartyID int
	UserSubjects     []policy.AttributeMatch
	PolicySubjects   []policy.AllOf
}

// Right is an atomic capability: a single resource attribute set and a single
// action, backed by one or more sources.
type Right struct {
	Resource    []policy.AttributeMatch
	Action      policy.AttributeMatch
	Sources     []RightSource
	HasPermit   bool
	CanDelegate bool
}

// Key returns the deterministic deduplication key of the right, derived from
// the sorted resource and action attribute pairs.
func (r Right) Key() string {
	pairs := make([]policy.AttributeMatch, 0, len(r.Resource)+1)
	pairs = append(pairs, r.Resource...)
	pairs = append(pairs, r.Action)

	return policy.AttributeMatchKey(pairs)
}

// Query is a rights query: which rights does the user To hold when acting for
// the party From on the resource.
type Query struct {
	FromPartyID int
	ToUserID    int
	Resource    []policy.AttributeMatch

	// ReturnAll requests every right of the policies involved, including the
	// ones without a permit. It is used by admin and delegation-check views.
	ReturnAll bool
}
