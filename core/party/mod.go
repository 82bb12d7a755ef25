// Package party implements the authorized-party hierarchy resolver: it
// merges the parties a user can act for, whether through legacy roles, key
// roles or active delegations, into a forest of main units and sub-units.
//
// The forest is built fresh on every request from the change log and the
// party directory; it is never persisted.
package party

import (
	"context"

	"go.govkit.dev/mandate/directory"
)

// AuthorizedParty is a node of the authorized-party forest: an organization
// or person the current user may act for, with the sub-units the access
// extends to.
type AuthorizedParty struct {
	PartyID   int
	PartyUUID string
	Name      string
	OrgNumber string

	// AuthorizedRoles lists the legacy role codes the user holds for the
	// party.
	AuthorizedRoles []string

	// AuthorizedResources lists the resources the user can act on for the
	// party through delegations.
	AuthorizedResources []string

	// OnlyHierarchyElementWithNoAccess marks a node that is materialized only
	// because a sub-unit of it is accessed, without any direct access itself.
	OnlyHierarchyElementWithNoAccess bool

	ChildParties []*AuthorizedParty
}

// EnrichWithResourceAccess records that the user can act on the resource for
// this party. A pass-through node receiving direct access loses its
// no-access marking.
func (p *AuthorizedParty) EnrichWithResourceAccess(resourceID string) {
	for _, id := range p.AuthorizedResources {
		if id == resourceID {
			return
		}
	}

	p.AuthorizedResources = append(p.AuthorizedResources, resourceID)
	p.OnlyHierarchyElementWithNoAccess = false
}

// newNode builds an empty node from a directory entry.
func newNode(entry directory.Party) *AuthorizedParty {
	return &AuthorizedParty{
		PartyID:   entry.ID,
		PartyUUID: entry.UUID,
		Name:      entry.Name,
		OrgNumber: entry.OrgNumber,
	}
}

// LegacySource provides the pre-built authorized-party trees derived from
// legacy role assignments.
type LegacySource interface {
	GetAuthorizedParties(ctx context.Context, userID int) ([]*AuthorizedParty, error)
}

// StaticSource is a map-backed legacy source. It deep-copies the trees on
// every read since callers mutate the nodes while merging.
//
// - implements party.LegacySource
type StaticSource map[int][]*AuthorizedParty

// GetAuthorizedParties implements party.LegacySource.
func (s StaticSource) GetAuthorizedParties(ctx context.Context, userID int) ([]*AuthorizedParty, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trees := s[userID]
	copies := make([]*AuthorizedParty, len(trees))

	for i, tree := range trees {
		copies[i] = copyTree(tree)
	}

	return copies, nil
}

func copyTree(node *AuthorizedParty) *AuthorizedParty {
	c := *node
	c.AuthorizedRoles = append([]string{}, node.AuthorizedRoles...)
	c.AuthorizedResources = append([]string{}, node.AuthorizedResources...)
	c.ChildParties = make([]*AuthorizedParty, len(node.ChildParties))

	for i, child := range node.ChildParties {
		c.ChildParties[i] = copyTree(child)
	}

	return &c
}
