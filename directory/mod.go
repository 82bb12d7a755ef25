// Package directory defines the read-only lookups of the external role,
// party and resource directories, together with in-memory implementations
// seedable from configuration.
//
// The directories are eventually consistent and cached by their owners; the
// engine treats them purely as lookups and never writes through them.
package directory

import (
	"context"
	"strconv"

	"go.govkit.dev/mandate/core/policy"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned when a directory has no entry for the key.
var ErrNotFound = xerrors.New("not found")

// Resource is a resource-registry entry.
type Resource struct {
	ID        string
	Active    bool
	Delegable bool
}

// ResourceDirectory is the lookup of the resource registry.
type ResourceDirectory interface {
	GetResource(ctx context.Context, id string) (Resource, error)
}

// Party is an organization or person entry of the party directory. A party
// with a main unit set is a sub-unit of that unit.
type Party struct {
	ID         int
	UUID       string
	Name       string
	OrgNumber  string
	MainUnitID int
}

// PartyDirectory is the lookup of the party directory.
type PartyDirectory interface {
	GetParty(ctx context.Context, id int) (Party, error)
}

// RoleSource is the lookup of the legacy role assignments.
type RoleSource interface {
	// GetRoleAttributes returns the role attribute matches the user holds for
	// the offering party.
	GetRoleAttributes(ctx context.Context, userID, offeredByPartyID int) ([]policy.AttributeMatch, error)

	// GetKeyRoleParties returns the parties the user holds a key role for.
	GetKeyRoleParties(ctx context.Context, userID int) ([]int, error)
}

// InMemoryResources is a map-backed resource directory.
//
// - implements directory.ResourceDirectory
type InMemoryResources map[string]Resource

// GetResource implements directory.ResourceDirectory.
func (d InMemoryResources) GetResource(ctx context.Context, id string) (Resource, error) {
	if err := ctx.Err(); err != nil {
		return Resource{}, err
	}

	res, ok := d[id]
	if !ok {
		return Resource{}, xerrors.Errorf("resource '%s': %w", id, ErrNotFound)
	}

	return res, nil
}

// InMemoryParties is a map-backed party directory.
//
// - implements directory.PartyDirectory
type InMemoryParties map[int]Party

// GetParty implements directory.PartyDirectory.
func (d InMemoryParties) GetParty(ctx context.Context, id int) (Party, error) {
	if err := ctx.Err(); err != nil {
		return Party{}, err
	}

	party, ok := d[id]
	if !ok {
		return Party{}, xerrors.Errorf("party '%d': %w", id, ErrNotFound)
	}

	return party, nil
}

// InMemoryRoles is a map-backed role source. Role codes are indexed by user
// then party; key-role parties by user.
//
// - implements directory.RoleSource
type InMemoryRoles struct {
	Roles    map[int]map[int][]string
	KeyRoles map[int][]int
}

// GetRoleAttributes implements directory.RoleSource. It returns one role-code
// attribute match per role the user holds for the party, along with the
// user's own identity attributes.
func (d InMemoryRoles) GetRoleAttributes(ctx context.Context, userID, offeredByPartyID int) ([]policy.AttributeMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := []policy.AttributeMatch{
		{ID: policy.AttrUserID, Value: strconv.Itoa(userID)},
	}

	for _, code := range d.Roles[userID][offeredByPartyID] {
		matches = append(matches, policy.AttributeMatch{
			ID:    policy.AttrRoleCode,
			Value: code,
		})
	}

	return matches, nil
}

// GetKeyRoleParties implements directory.RoleSource.
func (d InMemoryRoles) GetKeyRoleParties(ctx context.Context, userID int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return d.KeyRoles[userID], nil
}
