// Package blobkv implements the versioned object store on top of the
// key/value database.
//
// Every write appends a new content version under the path and previous
// versions are retained, which gives the point-in-time reads the change log
// depends on. Mutual exclusion per path is provided by a lease table with an
// expiry deadline, so a crashed writer cannot stall a path forever.
package blobkv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/xid"
	"go.govkit.dev/mandate/core/store/kv"
	"go.govkit.dev/mandate/core/storage"
	"golang.org/x/xerrors"
)

const (
	// DefaultLeaseTTL is the lease expiry used when none is provided.
	DefaultLeaseTTL = 30 * time.Second
)

var (
	contentBucket = []byte("blob:contents")
	currentBucket = []byte("blob:current")
	leaseBucket   = []byte("blob:leases")
)

// Store is a versioned object store backed by the key/value database.
//
// - implements storage.ObjectStore
type Store struct {
	db       kv.DB
	ttl      time.Duration
	timeNow  func() time.Time
	newToken func() string
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithLeaseTTL sets the lease expiry duration.
func WithLeaseTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithClock sets the time source, used by the tests to control lease expiry.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.timeNow = now
	}
}

// NewStore creates a new object store on top of the database. It makes sure
// the buckets exist so that later reads can run in view transactions.
func NewStore(db kv.DB, opts ...StoreOption) (*Store, error) {
	s := &Store{
		db:       db,
		ttl:      DefaultLeaseTTL,
		timeNow:  time.Now,
		newToken: func() string { return xid.New().String() },
	}

	for _, opt := range opts {
		opt(s)
	}

	err := db.Update(func(tx kv.WritableTx) error {
		for _, bucket := range [][]byte{contentBucket, currentBucket, leaseBucket} {
			_, err := tx.GetBucketOrCreate(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to create bucket: %v", err)
	}

	return s, nil
}

type leaseRecord struct {
	Token    string
	Deadline time.Time
}

// Exists implements storage.ObjectStore. It returns true when the path holds
// at least one content version.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false

	err := s.db.View(func(tx kv.ReadableTx) error {
		found = tx.GetBucket(currentBucket).Get([]byte(path)) != nil
		return nil
	})
	if err != nil {
		return false, xerrors.Errorf("failed to read current version: %v", err)
	}

	return found, nil
}

// Read implements storage.ObjectStore. It returns the exact content of the
// given version of the path.
func (s *Store) Read(ctx context.Context, path, version string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte

	err := s.db.View(func(tx kv.ReadableTx) error {
		value := tx.GetBucket(contentBucket).Get(contentKey(path, version))
		if value == nil {
			return storage.ErrVersionNotFound
		}

		data = append([]byte{}, value...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// ReadCurrent implements storage.ObjectStore. It returns the content and the
// identifier of the latest version of the path.
func (s *Store) ReadCurrent(ctx context.Context, path string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	var data []byte
	version := ""

	err := s.db.View(func(tx kv.ReadableTx) error {
		value := tx.GetBucket(currentBucket).Get([]byte(path))
		if value == nil {
			return storage.ErrNotFound
		}

		version = string(value)

		content := tx.GetBucket(contentBucket).Get(contentKey(path, version))
		if content == nil {
			return storage.ErrVersionNotFound
		}

		data = append([]byte{}, content...)

		return nil
	})
	if err != nil {
		return nil, "", err
	}

	return data, version, nil
}

// Write implements storage.ObjectStore. It appends a new content version
// unconditionally.
func (s *Store) Write(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	version := s.newToken()

	err := s.db.Update(func(tx kv.WritableTx) error {
		return s.writeVersion(tx, path, version, data)
	})
	if err != nil {
		return "", err
	}

	return version, nil
}

// WriteConditional implements storage.ObjectStore. It appends a new content
// version only when the lease token currently holds the path. The lease check
// and the write happen in the same transaction so that an expiring lease
// cannot let another writer interleave.
func (s *Store) WriteConditional(ctx context.Context, path string, data []byte, lease string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	version := s.newToken()

	err := s.db.Update(func(tx kv.WritableTx) error {
		record, ok := s.readLease(tx.GetBucket(leaseBucket), path)
		if !ok || record.Token != lease {
			return storage.ErrLeaseInvalid
		}

		return s.writeVersion(tx, path, version, data)
	})
	if err != nil {
		return "", err
	}

	return version, nil
}

// writeVersion stores the content under the version key and moves the current
// pointer of the path, inside the caller's transaction.
func (s *Store) writeVersion(tx kv.WritableTx, path, version string, data []byte) error {
	err := tx.GetBucket(contentBucket).Set(contentKey(path, version), data)
	if err != nil {
		return xerrors.Errorf("failed to write content: %v", err)
	}

	err = tx.GetBucket(currentBucket).Set([]byte(path), []byte(version))
	if err != nil {
		return xerrors.Errorf("failed to update current version: %v", err)
	}

	return nil
}

// AcquireLease implements storage.ObjectStore. It acquires the exclusive
// write lease of the path, or fails with storage.ErrLeaseNotAcquired when a
// valid lease is already held.
func (s *Store) AcquireLease(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := s.newToken()

	err := s.db.Update(func(tx kv.WritableTx) error {
		b := tx.GetBucket(leaseBucket)

		_, held := s.readLease(b, path)
		if held {
			return storage.ErrLeaseNotAcquired
		}

		record := leaseRecord{
			Token:    token,
			Deadline: s.timeNow().Add(s.ttl),
		}

		value, err := json.Marshal(record)
		if err != nil {
			return xerrors.Errorf("failed to marshal lease: %v", err)
		}

		return b.Set([]byte(path), value)
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

// ReleaseLease implements storage.ObjectStore. It releases the lease when the
// token still holds the path. Releasing an expired or unknown lease is a
// no-op.
func (s *Store) ReleaseLease(ctx context.Context, path string, lease string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx kv.WritableTx) error {
		b := tx.GetBucket(leaseBucket)

		record, ok := s.readLease(b, path)
		if !ok || record.Token != lease {
			return nil
		}

		return b.Delete([]byte(path))
	})
}

// readLease returns the lease of the path when one is held and not expired.
func (s *Store) readLease(b kv.Bucket, path string) (leaseRecord, bool) {
	value := b.Get([]byte(path))
	if value == nil {
		return leaseRecord{}, false
	}

	record := leaseRecord{}

	err := json.Unmarshal(value, &record)
	if err != nil {
		return leaseRecord{}, false
	}

	if !s.timeNow().Before(record.Deadline) {
		return leaseRecord{}, false
	}

	return record, true
}

func contentKey(path, version string) []byte {
	return []byte(path + "\x00" + version)
}
