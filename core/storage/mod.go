// Package storage defines the contracts of the stores the delegation engine
// writes through: a versioned object store with lease-based mutual exclusion
// and a policy source for base and point-in-time policy retrieval.
//
// The implementations under this package are backed by the key/value
// database, but the engine only ever depends on the contracts so that the
// storage technology can be swapped without touching the consistency
// protocol.
package storage

import (
	"context"

	"go.govkit.dev/mandate/core/policy"
	"golang.org/x/xerrors"
)

var (
	// ErrNotFound is returned when the path does not exist in the store.
	ErrNotFound = xerrors.New("object not found")

	// ErrVersionNotFound is returned when the path exists but the requested
	// content version does not.
	ErrVersionNotFound = xerrors.New("object version not found")

	// ErrLeaseNotAcquired is returned when the path is already leased by
	// another writer. It is a transient per-path failure.
	ErrLeaseNotAcquired = xerrors.New("lease not acquired")

	// ErrLeaseInvalid is returned by a conditional write when the provided
	// lease token is unknown, released or expired.
	ErrLeaseInvalid = xerrors.New("lease invalid")
)

// ObjectStore is a versioned blob store with lease-based mutual exclusion per
// path. Every write returns the identifier of the new content version and
// previous versions stay readable, so a reader holding a version identifier
// always observes the exact bytes that were committed with it.
type ObjectStore interface {
	// Exists returns true when the path holds at least one version.
	Exists(ctx context.Context, path string) (bool, error)

	// Read returns the content of the given version of the path.
	Read(ctx context.Context, path, version string) ([]byte, error)

	// ReadCurrent returns the content and the version identifier of the
	// latest version of the path.
	ReadCurrent(ctx context.Context, path string) ([]byte, string, error)

	// Write writes the data unconditionally and returns the new version
	// identifier.
	Write(ctx context.Context, path string, data []byte) (string, error)

	// WriteConditional writes the data only when the lease token currently
	// holds the path, and returns the new version identifier.
	WriteConditional(ctx context.Context, path string, data []byte, lease string) (string, error)

	// AcquireLease acquires the exclusive write lease of the path and returns
	// its token, or ErrLeaseNotAcquired when another writer holds it.
	AcquireLease(ctx context.Context, path string) (string, error)

	// ReleaseLease releases the lease of the path. Releasing an already
	// expired or unknown lease is not an error.
	ReleaseLease(ctx context.Context, path string, lease string) error
}

// PolicySource retrieves policy documents.
type PolicySource interface {
	// GetPolicy returns the current base policy of the resolved resource.
	GetPolicy(ctx context.Context, ref policy.ResourceRef) (policy.Policy, error)

	// GetPolicyVersion returns the exact content version of the policy stored
	// at the path. The returned policy carries the version it was read at.
	GetPolicyVersion(ctx context.Context, path, version string) (policy.Policy, error)
}
