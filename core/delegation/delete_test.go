package delegation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.govkit.dev/mandate/core/delegation"
	"go.govkit.dev/mandate/internal/testing/fake"
	sjson "go.govkit.dev/mandate/serde/json"
)

func TestService_Delete(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	granted, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read"), grantRule("write")})
	require.NoError(t, err)

	results, err := env.srv.Delete(ctx, []delegation.RequestToDelete{deleteRequest()})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Deleted)
	require.ElementsMatch(t, []string{granted[0].ID, granted[1].ID}, results[0].DeletedRuleIDs)

	// Clearing the whole policy is terminal.
	current, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)
	require.Equal(t, delegation.ChangeRevokeLast, current.Type)

	active, err := env.log.GetAllActive(ctx, delegation.ChangeFilter{})
	require.NoError(t, err)
	require.Len(t, active, 0)
}

func TestService_Delete_Subset(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	granted, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read"), grantRule("write")})
	require.NoError(t, err)

	req := deleteRequest()
	req.RuleIDs = []string{granted[0].ID}

	results, err := env.srv.Delete(ctx, []delegation.RequestToDelete{req})
	require.NoError(t, err)
	require.Equal(t, []string{granted[0].ID}, results[0].DeletedRuleIDs)

	// One rule remains, so the policy stays active.
	current, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)
	require.Equal(t, delegation.ChangeRevoke, current.Type)

	doc, err := env.store.GetPolicyVersion(ctx, current.BlobPath, current.BlobVersion)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
	require.Equal(t, granted[1].ID, doc.Rules[0].ID)
}

func TestService_Delete_LastRuleIsTerminal(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	granted, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read")})
	require.NoError(t, err)

	req := deleteRequest()
	req.RuleIDs = []string{granted[0].ID}

	_, err = env.srv.Delete(ctx, []delegation.RequestToDelete{req})
	require.NoError(t, err)

	current, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)
	require.Equal(t, delegation.ChangeRevokeLast, current.Type)
}

func TestService_Delete_AlreadyDeleted(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	// Deleting a policy that never existed is a successful no-op.
	results, err := env.srv.Delete(ctx, []delegation.RequestToDelete{deleteRequest()})
	require.NoError(t, err)
	require.True(t, results[0].Deleted)
	require.Len(t, results[0].DeletedRuleIDs, 0)

	// So is deleting it twice.
	_, err = env.srv.Grant(ctx, []delegation.Rule{grantRule("read")})
	require.NoError(t, err)

	_, err = env.srv.Delete(ctx, []delegation.RequestToDelete{deleteRequest()})
	require.NoError(t, err)

	before, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)

	results, err = env.srv.Delete(ctx, []delegation.RequestToDelete{deleteRequest()})
	require.NoError(t, err)
	require.True(t, results[0].Deleted)
	require.Len(t, results[0].DeletedRuleIDs, 0)

	after, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)
	require.Equal(t, before.ID, after.ID)
}

func TestService_Delete_UnknownRuleID(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read")})
	require.NoError(t, err)

	before, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)

	req := deleteRequest()
	req.RuleIDs = []string{"nope"}

	// No rule matched the selection, so nothing is written.
	results, err := env.srv.Delete(ctx, []delegation.RequestToDelete{req})
	require.NoError(t, err)
	require.True(t, results[0].Deleted)
	require.Len(t, results[0].DeletedRuleIDs, 0)

	after, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)
	require.Equal(t, before.ID, after.ID)
}

func TestService_Delete_GrantAfterRevokeLast(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read"), grantRule("write")})
	require.NoError(t, err)

	_, err = env.srv.Delete(ctx, []delegation.RequestToDelete{deleteRequest()})
	require.NoError(t, err)

	// A grant after the terminal revocation starts from a fresh document.
	results, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read")})
	require.NoError(t, err)
	require.True(t, results[0].CreatedSuccessfully)

	current, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)
	require.Equal(t, delegation.ChangeGrant, current.Type)

	doc, err := env.store.GetPolicyVersion(ctx, current.BlobPath, current.BlobVersion)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
}

func TestService_Delete_InvalidRequest(t *testing.T) {
	env := makeEnv(t)

	req := deleteRequest()
	req.Resource = nil

	_, err := env.srv.Delete(context.Background(), []delegation.RequestToDelete{req})
	require.EqualError(t, err, "no deletion request could be processed")
}

func TestService_Delete_PartialBatch(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	_, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read")})
	require.NoError(t, err)

	bad := deleteRequest()
	bad.OfferedByPartyID = 0

	results, err := env.srv.Delete(ctx, []delegation.RequestToDelete{deleteRequest(), bad})
	require.NoError(t, err)
	require.True(t, results[0].Deleted)
	require.False(t, results[1].Deleted)
}

func TestService_Delete_LogInsertFailure(t *testing.T) {
	blobs := fake.NewObjectStore()

	log := fake.NewChangeLog()
	current := delegation.Change{
		Type:              delegation.ChangeGrant,
		ResourceMatchType: "resource",
		ResourceID:        "skd-tax",
		OfferedByPartyID:  500,
		CoveredBy:         "u200",
		BlobPath:          "resource/skd-tax/500/u200/delegationpolicy.json",
		BlobVersion:       "v1",
	}
	log.Current[current.Key()] = &current
	log.ErrInsert = fake.GetError()

	policies := fake.NewPolicySource()
	policies.Versions[current.BlobPath+"@v1"] = basePolicy()

	srv := delegation.NewService(blobs, policies, log, &fake.Sink{}, sjson.NewContext())

	_, err := srv.Delete(context.Background(), []delegation.RequestToDelete{deleteRequest()})
	require.EqualError(t, err, "no deletion request could be processed")

	require.Equal(t, 1, blobs.ReleaseCalls.Len())
	require.Empty(t, blobs.Leases)
}

func deleteRequest() delegation.RequestToDelete {
	rule := grantRule("")

	return delegation.RequestToDelete{
		OfferedByPartyID: rule.OfferedByPartyID,
		CoveredBy:        rule.CoveredBy,
		DeletedByUserID:  100,
		Resource:         rule.Resource,
	}
}
