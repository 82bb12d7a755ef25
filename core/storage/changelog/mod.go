// Package changelog implements the delegation change log repository on top
// of the key/value database.
//
// Records are append-only: every insert writes the full record under the
// change key and replaces the current pointer of that key. Readers resolving
// through the current pointer therefore get read-after-write consistency
// with the blob version it references.
package changelog

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/xid"
	"go.govkit.dev/mandate/core/delegation"
	"go.govkit.dev/mandate/core/store/kv"
	"golang.org/x/xerrors"
)

var (
	recordBucket  = []byte("changes:records")
	currentBucket = []byte("changes:current")
)

// Repository is a change log backed by the key/value database.
//
// - implements delegation.ChangeLog
type Repository struct {
	db      kv.DB
	timeNow func() time.Time
	newID   func() string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithClock sets the time source of the repository.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		r.timeNow = now
	}
}

// NewRepository creates a new change log repository.
func NewRepository(db kv.DB, opts ...RepositoryOption) (*Repository, error) {
	r := &Repository{
		db:      db,
		timeNow: time.Now,
		newID:   func() string { return xid.New().String() },
	}

	for _, opt := range opts {
		opt(r)
	}

	err := db.Update(func(tx kv.WritableTx) error {
		for _, bucket := range [][]byte{recordBucket, currentBucket} {
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

	return r, nil
}

// GetCurrent implements delegation.ChangeLog. It returns the latest record of
// the key, or nil when the key has never been written.
func (r *Repository) GetCurrent(ctx context.Context, key delegation.ChangeKey) (*delegation.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var change *delegation.Change

	err := r.db.View(func(tx kv.ReadableTx) error {
		value := tx.GetBucket(currentBucket).Get(keyBytes(key))
		if value == nil {
			return nil
		}

		change = &delegation.Change{}

		err := json.Unmarshal(value, change)
		if err != nil {
			return xerrors.Errorf("failed to unmarshal change: %v", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return change, nil
}

// Insert implements delegation.ChangeLog. It appends the record and moves the
// current pointer of its key.
func (r *Repository) Insert(ctx context.Context, change delegation.Change) (delegation.Change, error) {
	if err := ctx.Err(); err != nil {
		return delegation.Change{}, err
	}

	change.ID = r.newID()
	change.Created = r.timeNow()

	value, err := json.Marshal(change)
	if err != nil {
		return delegation.Change{}, xerrors.Errorf("failed to marshal change: %v", err)
	}

	err = r.db.Update(func(tx kv.WritableTx) error {
		err := tx.GetBucket(recordBucket).Set(append(keyBytes(change.Key()), []byte("\x00"+change.ID)...), value)
		if err != nil {
			return xerrors.Errorf("failed to append record: %v", err)
		}

		err = tx.GetBucket(currentBucket).Set(keyBytes(change.Key()), value)
		if err != nil {
			return xerrors.Errorf("failed to move current pointer: %v", err)
		}

		return nil
	})
	if err != nil {
		return delegation.Change{}, err
	}

	return change, nil
}

// GetAllActive implements delegation.ChangeLog. It returns the current record
// of every key matching the filter whose latest type is not RevokeLast.
func (r *Repository) GetAllActive(ctx context.Context, filter delegation.ChangeFilter) ([]delegation.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var changes []delegation.Change

	err := r.db.View(func(tx kv.ReadableTx) error {
		return tx.GetBucket(currentBucket).ForEach(func(k, v []byte) error {
			change := delegation.Change{}

			err := json.Unmarshal(v, &change)
			if err != nil {
				return xerrors.Errorf("failed to unmarshal change: %v", err)
			}

			if change.Type == delegation.ChangeRevokeLast {
				return nil
			}

			if matches(filter, change) {
				changes = append(changes, change)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return changes, nil
}

func matches(filter delegation.ChangeFilter, change delegation.Change) bool {
	if len(filter.OfferedByPartyIDs) > 0 {
		found := false

		for _, id := range filter.OfferedByPartyIDs {
			if id == change.OfferedByPartyID {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	if len(filter.CoveredBy) > 0 {
		found := false

		for _, covered := range filter.CoveredBy {
			if covered == change.CoveredBy {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

// keyBytes returns the storage key of a change key. The separator cannot
// appear in any of the fields.
func keyBytes(key delegation.ChangeKey) []byte {
	return []byte(key.ResourceMatchType + "\x1f" + key.ResourceID + "\x1f" +
		strconv.Itoa(key.OfferedByPartyID) + "\x1f" + key.CoveredBy)
}
