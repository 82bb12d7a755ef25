package fake

import (
	"context"
	"fmt"

	"go.govkit.dev/mandate/core/delegation"
	"go.govkit.dev/mandate/core/policy"
	"go.govkit.dev/mandate/core/storage"
)

// ObjectStore is a fake implementation of a versioned object store.
//
// - implements storage.ObjectStore
type ObjectStore struct {
	Contents map[string][]byte
	Current  map[string]string
	Leases   map[string]string

	ErrExists      error
	ErrRead        error
	ErrWrite       error
	ErrConditional error
	ErrAcquire     error
	ErrRelease     error

	ReleaseCalls Call

	counter int
}

// NewObjectStore creates a new empty fake object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		Contents: make(map[string][]byte),
		Current:  make(map[string]string),
		Leases:   make(map[string]string),
	}
}

// Exists implements storage.ObjectStore.
func (s *ObjectStore) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := s.Current[path]
	return ok, s.ErrExists
}

// Read implements storage.ObjectStore.
func (s *ObjectStore) Read(ctx context.Context, path, version string) ([]byte, error) {
	if s.ErrRead != nil {
		return nil, s.ErrRead
	}

	data, ok := s.Contents[path+"@"+version]
	if !ok {
		return nil, storage.ErrVersionNotFound
	}

	return data, nil
}

// ReadCurrent implements storage.ObjectStore.
func (s *ObjectStore) ReadCurrent(ctx context.Context, path string) ([]byte, string, error) {
	if s.ErrRead != nil {
		return nil, "", s.ErrRead
	}

	version, ok := s.Current[path]
	if !ok {
		return nil, "", storage.ErrNotFound
	}

	data, err := s.Read(ctx, path, version)

	return data, version, err
}

// Write implements storage.ObjectStore.
func (s *ObjectStore) Write(ctx context.Context, path string, data []byte) (string, error) {
	if s.ErrWrite != nil {
		return "", s.ErrWrite
	}

	s.counter++
	version := fmt.Sprintf("v%d", s.counter)

	s.Contents[path+"@"+version] = data
	s.Current[path] = version

	return version, nil
}

// WriteConditional implements storage.ObjectStore.
func (s *ObjectStore) WriteConditional(ctx context.Context, path string, data []byte, lease string) (string, error) {
	if s.ErrConditional != nil {
		return "", s.ErrConditional
	}

	if s.Leases[path] != lease {
		return "", storage.ErrLeaseInvalid
	}

	return s.Write(ctx, path, data)
}

// AcquireLease implements storage.ObjectStore.
func (s *ObjectStore) AcquireLease(ctx context.Context, path string) (string, error) {
	if s.ErrAcquire != nil {
		return "", s.ErrAcquire
	}

	if _, held := s.Leases[path]; held {
		return "", storage.ErrLeaseNotAcquired
	}

	s.counter++
	token := fmt.Sprintf("lease%d", s.counter)
	s.Leases[path] = token

	return token, nil
}

// ReleaseLease implements storage.ObjectStore.
func (s *ObjectStore) ReleaseLease(ctx context.Context, path string, lease string) error {
	s.ReleaseCalls.Add(path, lease)

	if s.ErrRelease != nil {
		return s.ErrRelease
	}

	if s.Leases[path] == lease {
		delete(s.Leases, path)
	}

	return nil
}

// ChangeLog is a fake implementation of the change log repository.
//
// - implements delegation.ChangeLog
type ChangeLog struct {
	Current  map[delegation.ChangeKey]*delegation.Change
	Inserted []delegation.Change

	ErrGetCurrent error
	ErrInsert     error
	ErrGetAll     error

	counter int
}

// NewChangeLog creates a new empty fake change log.
func NewChangeLog() *ChangeLog {
	return &ChangeLog{
		Current: make(map[delegation.ChangeKey]*delegation.Change),
	}
}

// GetCurrent implements delegation.ChangeLog.
func (l *ChangeLog) GetCurrent(ctx context.Context, key delegation.ChangeKey) (*delegation.Change, error) {
	if l.ErrGetCurrent != nil {
		return nil, l.ErrGetCurrent
	}

	return l.Current[key], nil
}

// Insert implements delegation.ChangeLog.
func (l *ChangeLog) Insert(ctx context.Context, change delegation.Change) (delegation.Change, error) {
	if l.ErrInsert != nil {
		return delegation.Change{}, l.ErrInsert
	}

	l.counter++
	change.ID = fmt.Sprintf("change%d", l.counter)

	l.Inserted = append(l.Inserted, change)

	c := change
	l.Current[change.Key()] = &c

	return change, nil
}

// GetAllActive implements delegation.ChangeLog.
func (l *ChangeLog) GetAllActive(ctx context.Context, filter delegation.ChangeFilter) ([]delegation.Change, error) {
	if l.ErrGetAll != nil {
		return nil, l.ErrGetAll
	}

	var changes []delegation.Change

	for _, change := range l.Current {
		if change.Type == delegation.ChangeRevokeLast {
			continue
		}

		if matchesFilter(filter, *change) {
			changes = append(changes, *change)
		}
	}

	return changes, nil
}

func matchesFilter(filter delegation.ChangeFilter, change delegation.Change) bool {
	okOffered := len(filter.OfferedByPartyIDs) == 0
	for _, id := range filter.OfferedByPartyIDs {
		if id == change.OfferedByPartyID {
			okOffered = true
		}
	}

	okCovered := len(filter.CoveredBy) == 0
	for _, covered := range filter.CoveredBy {
		if covered == change.CoveredBy {
			okCovered = true
		}
	}

	return okOffered && okCovered
}

// Sink is a fake implementation of the event sink.
//
// - implements delegation.EventSink
type Sink struct {
	Pushed []delegation.Change
	Err    error
}

// Push implements delegation.EventSink.
func (s *Sink) Push(ctx context.Context, change delegation.Change) error {
	if s.Err != nil {
		return s.Err
	}

	s.Pushed = append(s.Pushed, change)

	return nil
}

// PolicySource is a fake implementation of the policy source.
//
// - implements storage.PolicySource
type PolicySource struct {
	// Base indexes base policies by the resource identifier.
	Base map[string]policy.Policy

	// Versions indexes stored documents by "<path>@<version>".
	Versions map[string]policy.Policy

	ErrGet        error
	ErrGetVersion error
}

// NewPolicySource creates a new empty fake policy source.
func NewPolicySource() *PolicySource {
	return &PolicySource{
		Base:     make(map[string]policy.Policy),
		Versions: make(map[string]policy.Policy),
	}
}

// GetPolicy implements storage.PolicySource.
func (s *PolicySource) GetPolicy(ctx context.Context, ref policy.ResourceRef) (policy.Policy, error) {
	if s.ErrGet != nil {
		return policy.Policy{}, s.ErrGet
	}

	doc, ok := s.Base[ref.ResourceID()]
	if !ok {
		return policy.Policy{}, storage.ErrNotFound
	}

	return doc, nil
}

// GetPolicyVersion implements storage.PolicySource.
func (s *PolicySource) GetPolicyVersion(ctx context.Context, path, version string) (policy.Policy, error) {
	if s.ErrGetVersion != nil {
		return policy.Policy{}, s.ErrGetVersion
	}

	doc, ok := s.Versions[path+"@"+version]
	if !ok {
		return policy.Policy{}, storage.ErrVersionNotFound
	}

	return doc, nil
}
