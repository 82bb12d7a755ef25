package delegation

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.govkit.dev/mandate/core/policy"
)

func TestBuildPath(t *testing.T) {
	ref := policy.ResourceRef{Kind: policy.ResourceRegistryKind, RegistryID: "skd-tax"}

	path, err := BuildPath(ref, 500, CoveredByUser(200))
	require.NoError(t, err)
	require.Equal(t, "resource/skd-tax/500/u200/delegationpolicy.json", path)

	path, err = BuildPath(ref, 500, CoveredByParty(300))
	require.NoError(t, err)
	require.Equal(t, "resource/skd-tax/500/p300/delegationpolicy.json", path)

	uuid := "4a29b131-8b54-4b93-9e2f-5d7a2f4d1a10"

	path, err = BuildPath(ref, 500, CoveredByUUID(SystemUserUUID, uuid))
	require.NoError(t, err)
	require.Equal(t, "resource/skd-tax/500/systemuser"+uuid+"/delegationpolicy.json", path)
}

func TestBuildPath_AppAndService(t *testing.T) {
	ref := policy.ResourceRef{Kind: policy.ResourceAppKind, Org: "org1", App: "app3"}

	path, err := BuildPath(ref, 50001337, CoveredByUser(20001337))
	require.NoError(t, err)
	require.Equal(t, "app/org1/app3/50001337/u20001337/delegationpolicy.json", path)

	ref = policy.ResourceRef{Kind: policy.ResourceServiceKind, ServiceCode: "3225", ServiceEdition: "1596"}

	path, err = BuildPath(ref, 500, CoveredByParty(300))
	require.NoError(t, err)
	require.Equal(t, "service/3225/1596/500/p300/delegationpolicy.json", path)
}

func TestBuildPath_Invalid(t *testing.T) {
	ref := policy.ResourceRef{Kind: policy.ResourceRegistryKind, RegistryID: "skd-tax"}

	_, err := BuildPath(ref, 0, CoveredByUser(200))
	require.EqualError(t, err, "missing offered-by party")

	_, err = BuildPath(ref, 500, CoveredBy{})
	require.EqualError(t, err,
		"invalid covered by: covered by must be exactly one of party, user or uuid")

	_, err = BuildPath(ref, 500, CoveredBy{UserID: 200, PartyID: 300})
	require.EqualError(t, err,
		"invalid covered by: covered by must be exactly one of party, user or uuid")

	_, err = BuildPath(policy.ResourceRef{}, 500, CoveredByUser(200))
	require.EqualError(t, err, "resource is not resolved")
}

func TestCoveredBy_Validate(t *testing.T) {
	require.NoError(t, CoveredByUser(200).Validate())
	require.NoError(t, CoveredByParty(300).Validate())
	require.NoError(t, CoveredByUUID(PersonUUID, "abc").Validate())

	err := CoveredByUUID("robot", "abc").Validate()
	require.EqualError(t, err, "unknown uuid type 'robot'")

	err = CoveredBy{}.Validate()
	require.EqualError(t, err, "covered by must be exactly one of party, user or uuid")
}

func TestCoveredBy_Matches(t *testing.T) {
	require.Equal(t, []policy.AttributeMatch{{ID: policy.AttrUserID, Value: "200"}},
		CoveredByUser(200).Matches())

	require.Equal(t, []policy.AttributeMatch{{ID: policy.AttrPartyID, Value: "300"}},
		CoveredByParty(300).Matches())

	require.Equal(t, []policy.AttributeMatch{{ID: policy.AttrEnterpriseUserUUID, Value: "abc"}},
		CoveredByUUID(EnterpriseUserUUID, "abc").Matches())

	require.Nil(t, CoveredBy{}.Matches())
}
