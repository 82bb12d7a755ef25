package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.govkit.dev/mandate/core/policy"
)

func TestInMemoryResources_GetResource(t *testing.T) {
	resources := InMemoryResources{
		"skd-tax": {ID: "skd-tax", Active: true, Delegable: true},
	}

	res, err := resources.GetResource(context.Background(), "skd-tax")
	require.NoError(t, err)
	require.True(t, res.Active)

	_, err = resources.GetResource(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.EqualError(t, err, "resource 'nope': not found")
}

func TestInMemoryParties_GetParty(t *testing.T) {
	parties := InMemoryParties{
		500: {ID: 500, Name: "Acme", OrgNumber: "910753614"},
	}

	party, err := parties.GetParty(context.Background(), 500)
	require.NoError(t, err)
	require.Equal(t, "Acme", party.Name)

	_, err = parties.GetParty(context.Background(), 999)
	require.ErrorIs(t, err, ErrNotFound)
	require.EqualError(t, err, "party '999': not found")
}

func TestInMemoryRoles_GetRoleAttributes(t *testing.T) {
	roles := InMemoryRoles{
		Roles: map[int]map[int][]string{
			200: {500: {"admin", "auditor"}},
		},
	}

	matches, err := roles.GetRoleAttributes(context.Background(), 200, 500)
	require.NoError(t, err)
	require.Equal(t, []policy.AttributeMatch{
		{ID: policy.AttrUserID, Value: "200"},
		{ID: policy.AttrRoleCode, Value: "admin"},
		{ID: policy.AttrRoleCode, Value: "auditor"},
	}, matches)

	// A user without roles still carries the identity attribute.
	matches, err = roles.GetRoleAttributes(context.Background(), 999, 500)
	require.NoError(t, err)
	require.Equal(t, []policy.AttributeMatch{
		{ID: policy.AttrUserID, Value: "999"},
	}, matches)
}

func TestInMemoryRoles_GetKeyRoleParties(t *testing.T) {
	roles := InMemoryRoles{
		KeyRoles: map[int][]int{200: {300, 301}},
	}

	parties, err := roles.GetKeyRoleParties(context.Background(), 200)
	require.NoError(t, err)
	require.Equal(t, []int{300, 301}, parties)

	parties, err = roles.GetKeyRoleParties(context.Background(), 999)
	require.NoError(t, err)
	require.Len(t, parties, 0)
}

func TestDirectories_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := InMemoryResources{}.GetResource(ctx, "skd-tax")
	require.ErrorIs(t, err, context.Canceled)

	_, err = InMemoryParties{}.GetParty(ctx, 500)
	require.ErrorIs(t, err, context.Canceled)

	_, err = InMemoryRoles{}.GetRoleAttributes(ctx, 200, 500)
	require.ErrorIs(t, err, context.Canceled)
}
