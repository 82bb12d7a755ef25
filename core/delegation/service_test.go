package delegation_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.govkit.dev/mandate/core/delegation"
	"go.govkit.dev/mandate/core/policy"
	_ "go.govkit.dev/mandate/core/policy/json"
	"go.govkit.dev/mandate/core/storage/blobkv"
	"go.govkit.dev/mandate/core/storage/changelog"
	"go.govkit.dev/mandate/core/storage/policystore"
	"go.govkit.dev/mandate/core/store/kv"
	"go.govkit.dev/mandate/internal/testing/fake"
	sjson "go.govkit.dev/mandate/serde/json"
)

func TestService_Grant(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	results, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].CreatedSuccessfully)
	require.NotEmpty(t, results[0].ID)

	// The change log points at the committed document.
	current, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, delegation.ChangeGrant, current.Type)
	require.Equal(t, "resource/skd-tax/500/u200/delegationpolicy.json", current.BlobPath)

	doc, err := env.store.GetPolicyVersion(ctx, current.BlobPath, current.BlobVersion)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
	require.Equal(t, results[0].ID, doc.Rules[0].ID)

	// The committed change was pushed to the sink.
	require.Len(t, env.sink.Pushed, 1)
	require.Equal(t, current.ID, env.sink.Pushed[0].ID)
}

func TestService_Grant_Idempotent(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	first, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read")})
	require.NoError(t, err)

	// The same grant again reports the existing rule and writes nothing.
	second, err := env.srv.Grant(ctx, []delegation.Rule{grantRule("read")})
	require.NoError(t, err)
	require.True(t, second[0].CreatedSuccessfully)
	require.Equal(t, first[0].ID, second[0].ID)

	current, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)

	doc, err := env.store.GetPolicyVersion(ctx, current.BlobPath, current.BlobVersion)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)

	require.Len(t, env.sink.Pushed, 1)
}

func TestService_Grant_NotGrantedByBasePolicy(t *testing.T) {
	env := makeEnv(t)

	results, err := env.srv.Grant(context.Background(), []delegation.Rule{grantRule("fly")})
	require.EqualError(t, err, "no delegation rule could be written")
	require.False(t, results[0].CreatedSuccessfully)

	// Nothing was committed.
	current, err := env.log.GetCurrent(context.Background(), changeKey())
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestService_Grant_GroupIsAtomic(t *testing.T) {
	env := makeEnv(t)

	// Both rules target the same path, so the invalid one fails the group.
	results, err := env.srv.Grant(context.Background(), []delegation.Rule{
		grantRule("read"),
		grantRule("fly"),
	})
	require.EqualError(t, err, "no delegation rule could be written")
	require.False(t, results[0].CreatedSuccessfully)
	require.False(t, results[1].CreatedSuccessfully)

	current, err := env.log.GetCurrent(context.Background(), changeKey())
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestService_Grant_PartialBatch(t *testing.T) {
	env := makeEnv(t)

	bad := grantRule("fly")
	bad.CoveredBy = delegation.CoveredByUser(201)

	// The invalid rule lives in its own group and fails alone.
	results, err := env.srv.Grant(context.Background(), []delegation.Rule{
		grantRule("read"),
		bad,
	})
	require.NoError(t, err)
	require.True(t, results[0].CreatedSuccessfully)
	require.NotEmpty(t, results[0].ID)
	require.False(t, results[1].CreatedSuccessfully)
}

func TestService_Grant_UnsortableRule(t *testing.T) {
	env := makeEnv(t)

	missingDelegator := grantRule("read")
	missingDelegator.DelegatedByUserID = 0

	missingResource := grantRule("read")
	missingResource.Resource = nil

	results, err := env.srv.Grant(context.Background(), []delegation.Rule{
		missingDelegator,
		missingResource,
	})
	require.EqualError(t, err, "no delegation rule could be written")
	require.False(t, results[0].CreatedSuccessfully)
	require.False(t, results[1].CreatedSuccessfully)
}

func TestService_Grant_Empty(t *testing.T) {
	env := makeEnv(t)

	results, err := env.srv.Grant(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 0)
}

func TestService_Grant_SinkFailureDoesNotFailWrite(t *testing.T) {
	env := makeEnv(t)
	env.sink.Err = fake.GetError()

	results, err := env.srv.Grant(context.Background(), []delegation.Rule{grantRule("read")})
	require.NoError(t, err)
	require.True(t, results[0].CreatedSuccessfully)

	current, err := env.log.GetCurrent(context.Background(), changeKey())
	require.NoError(t, err)
	require.Equal(t, delegation.ChangeGrant, current.Type)
}

func TestService_Grant_LogInsertFailure(t *testing.T) {
	blobs := fake.NewObjectStore()
	log := fake.NewChangeLog()
	log.ErrInsert = fake.GetError()

	policies := fake.NewPolicySource()
	policies.Base["skd-tax"] = basePolicy()

	srv := delegation.NewService(blobs, policies, log, &fake.Sink{}, sjson.NewContext())

	results, err := srv.Grant(context.Background(), []delegation.Rule{grantRule("read")})
	require.EqualError(t, err, "no delegation rule could be written")
	require.False(t, results[0].CreatedSuccessfully)

	// The lease was still released exactly once.
	require.Equal(t, 1, blobs.ReleaseCalls.Len())
	require.Empty(t, blobs.Leases)
}

func TestService_Grant_ConditionalWriteFailure(t *testing.T) {
	blobs := fake.NewObjectStore()
	blobs.ErrConditional = fake.GetError()

	policies := fake.NewPolicySource()
	policies.Base["skd-tax"] = basePolicy()

	srv := delegation.NewService(blobs, policies, fake.NewChangeLog(), &fake.Sink{}, sjson.NewContext())

	_, err := srv.Grant(context.Background(), []delegation.Rule{grantRule("read")})
	require.EqualError(t, err, "no delegation rule could be written")

	require.Equal(t, 1, blobs.ReleaseCalls.Len())
	require.Empty(t, blobs.Leases)
}

func TestService_Grant_LeaseHeld(t *testing.T) {
	blobs := fake.NewObjectStore()
	blobs.Leases["resource/skd-tax/500/u200/delegationpolicy.json"] = "other"

	policies := fake.NewPolicySource()
	policies.Base["skd-tax"] = basePolicy()

	srv := delegation.NewService(blobs, policies, fake.NewChangeLog(), &fake.Sink{}, sjson.NewContext())

	_, err := srv.Grant(context.Background(), []delegation.Rule{grantRule("read")})
	require.EqualError(t, err, "no delegation rule could be written")
}

func TestService_Grant_ConcurrentWriters(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	actions := []string{"read", "write"}

	wg := sync.WaitGroup{}
	wg.Add(len(actions))

	for _, action := range actions {
		go func(action string) {
			defer wg.Done()

			// Lease contention fails the group, so the writer retries.
			for i := 0; i < 100; i++ {
				results, err := env.srv.Grant(ctx, []delegation.Rule{grantRule(action)})
				if err == nil && results[0].CreatedSuccessfully {
					return
				}
			}

			t.Errorf("grant of '%s' never succeeded", action)
		}(action)
	}

	wg.Wait()

	// No lost update: the final document holds the union of both rules.
	current, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)

	doc, err := env.store.GetPolicyVersion(ctx, current.BlobPath, current.BlobVersion)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 2)
}

func TestService_Grant_InstanceRule(t *testing.T) {
	env := makeEnv(t)
	ctx := context.Background()

	rule := grantRule("read")
	rule.Resource = append(rule.Resource,
		policy.AttributeMatch{ID: policy.AttrInstanceID, Value: "500/abc-123"})

	// The base policy does not know the instance, yet the rule validates
	// against the resource scope and keeps its instance attribute.
	results, err := env.srv.Grant(ctx, []delegation.Rule{rule})
	require.NoError(t, err)
	require.True(t, results[0].CreatedSuccessfully)

	current, err := env.log.GetCurrent(ctx, changeKey())
	require.NoError(t, err)

	doc, err := env.store.GetPolicyVersion(ctx, current.BlobPath, current.BlobVersion)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)

	resources := doc.Rules[0].Category(policy.Resource)
	require.Len(t, resources, 1)
	require.Contains(t, resources[0],
		policy.AttributeMatch{ID: policy.AttrInstanceID, Value: "500/abc-123"})
}

// -----------------------------------------------------------------------------
// Utility functions

type testEnv struct {
	srv   *delegation.Service
	store *policystore.Store
	log   *changelog.Repository
	sink  *fake.Sink
}

func makeEnv(t *testing.T) testEnv {
	db, err := kv.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	blobs, err := blobkv.NewStore(db)
	require.NoError(t, err)

	log, err := changelog.NewRepository(db)
	require.NoError(t, err)

	sctx := sjson.NewContext()
	store := policystore.NewStore(blobs, sctx)
	sink := &fake.Sink{}

	ref := policy.ResourceRef{Kind: policy.ResourceRegistryKind, RegistryID: "skd-tax"}

	_, err = store.PutPolicy(context.Background(), ref, basePolicy())
	require.NoError(t, err)

	return testEnv{
		srv:   delegation.NewService(blobs, store, log, sink, sctx),
		store: store,
		log:   log,
		sink:  sink,
	}
}

func basePolicy() policy.Policy {
	resource := policy.AllOf{{ID: policy.AttrResourceRegistry, Value: "skd-tax"}}
	subject := policy.AllOf{{ID: policy.AttrRoleCode, Value: "admin"}}

	return policy.Policy{
		ID:        "skd-tax",
		Algorithm: policy.DenyOverrides,
		Rules: []policy.Rule{
			policy.NewPermitRule("skd-tax:read", subject, resource,
				policy.AllOf{{ID: policy.AttrActionID, Value: "read"}}),
			policy.NewPermitRule("skd-tax:write", subject, resource,
				policy.AllOf{{ID: policy.AttrActionID, Value: "write"}}),
		},
	}
}

func grantRule(action string) delegation.Rule {
	return delegation.Rule{
		OfferedByPartyID:  500,
		CoveredBy:         delegation.CoveredByUser(200),
		DelegatedByUserID: 100,
		Resource:          []policy.AttributeMatch{{ID: policy.AttrResourceRegistry, Value: "skd-tax"}},
		Action:            action,
	}
}

func changeKey() delegation.ChangeKey {
	return delegation.ChangeKey{
		ResourceMatchType: "resource",
		ResourceID:        "skd-tax",
		OfferedByPartyID:  500,
		CoveredBy:         "u200",
	}
}
