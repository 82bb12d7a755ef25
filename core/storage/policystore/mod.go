// Package policystore implements policy retrieval on top of the object
// store.
//
// Base policies live at a deterministic path per resource scope and
// delegation policies are read back at the exact content version the change
// log references, which gives the point-in-time reads the rights-resolution
// algorithm depends on.
package policystore

import (
	"context"
	"fmt"

	"go.govkit.dev/mandate/core/policy"
	"go.govkit.dev/mandate/core/storage"
	"go.govkit.dev/mandate/serde"
	"golang.org/x/xerrors"
)

// BasePolicyFileName is the file name of a base policy document inside its
// resource scope.
const BasePolicyFileName = "policy.json"

// Store retrieves and seeds policy documents stored as blobs.
//
// - implements storage.PolicySource
type Store struct {
	blobs storage.ObjectStore
	sctx  serde.Context
	fac   policy.PolicyFactory
}

// NewStore creates a new policy store reading through the object store.
func NewStore(blobs storage.ObjectStore, sctx serde.Context) *Store {
	return &Store{
		blobs: blobs,
		sctx:  sctx,
		fac:   policy.NewPolicyFactory(),
	}
}

// BasePath returns the storage path of the base policy of a resolved
// resource.
func BasePath(ref policy.ResourceRef) (string, error) {
	switch ref.Kind {
	case policy.ResourceRegistryKind:
		return fmt.Sprintf("resource/%s/%s", ref.RegistryID, BasePolicyFileName), nil
	case policy.ResourceAppKind:
		return fmt.Sprintf("app/%s/%s/%s", ref.Org, ref.App, BasePolicyFileName), nil
	case policy.ResourceServiceKind:
		return fmt.Sprintf("service/%s/%s/%s", ref.ServiceCode, ref.ServiceEdition, BasePolicyFileName), nil
	default:
		return "", xerrors.New("resource is not resolved")
	}
}

// GetPolicy implements storage.PolicySource. It returns the current base
// policy of the resource. A resource with no base policy is a hard failure,
// not an empty result.
func (s *Store) GetPolicy(ctx context.Context, ref policy.ResourceRef) (policy.Policy, error) {
	path, err := BasePath(ref)
	if err != nil {
		return policy.Policy{}, err
	}

	data, version, err := s.blobs.ReadCurrent(ctx, path)
	if err != nil {
		return policy.Policy{}, xerrors.Errorf("failed to read policy '%s': %w", path, err)
	}

	doc, err := s.fac.PolicyOf(s.sctx, data)
	if err != nil {
		return policy.Policy{}, xerrors.Errorf("failed to decode policy '%s': %v", path, err)
	}

	doc.Version = version

	return doc, nil
}

// GetPolicyVersion implements storage.PolicySource. It returns the policy at
// the exact content version of the path.
func (s *Store) GetPolicyVersion(ctx context.Context, path, version string) (policy.Policy, error) {
	data, err := s.blobs.Read(ctx, path, version)
	if err != nil {
		return policy.Policy{}, xerrors.Errorf("failed to read policy '%s'@'%s': %w", path, version, err)
	}

	doc, err := s.fac.PolicyOf(s.sctx, data)
	if err != nil {
		return policy.Policy{}, xerrors.Errorf("failed to decode policy '%s': %v", path, err)
	}

	doc.Version = version

	return doc, nil
}

// PutPolicy writes the base policy of the resource and returns the new
// content version. It is used to provision resources and by the tests.
func (s *Store) PutPolicy(ctx context.Context, ref policy.ResourceRef, doc policy.Policy) (string, error) {
	path, err := BasePath(ref)
	if err != nil {
		return "", err
	}

	data, err := doc.Serialize(s.sctx)
	if err != nil {
		return "", xerrors.Errorf("failed to serialize policy: %v", err)
	}

	version, err := s.blobs.Write(ctx, path, data)
	if err != nil {
		return "", xerrors.Errorf("failed to write policy '%s': %w", path, err)
	}

	return version, nil
}
