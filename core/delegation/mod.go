// Package delegation implements the administration of delegation policies:
// granting rules, revoking them, and keeping the object store and the change
// log consistent while doing so.
//
// Each delegation policy lives at a deterministic path in the object store
// and is mutated under a per-path write lease. The change log is append-only;
// its current record for a key always references the content version that is
// authoritative for the path, and writes commit object store first, log
// second.
package delegation

import (
	"context"
	"strconv"
	"time"

	"go.govkit.dev/mandate/core/policy"
	"golang.org/x/xerrors"
)

// UUIDType identifies the kind of universally unique identifier a delegation
// can be received on.
type UUIDType string

const (
	// PersonUUID covers a natural person.
	PersonUUID UUIDType = "person"

	// OrganizationUUID covers an organization.
	OrganizationUUID UUIDType = "organization"

	// SystemUserUUID covers a system user acting on behalf of an
	// organization.
	SystemUserUUID UUIDType = "systemuser"

	// EnterpriseUserUUID covers an enterprise user.
	EnterpriseUserUUID UUIDType = "enterpriseuser"
)

var uuidAttrs = map[UUIDType]string{
	PersonUUID:         policy.AttrPersonUUID,
	OrganizationUUID:   policy.AttrOrganizationUUID,
	SystemUserUUID:     policy.AttrSystemUserUUID,
	EnterpriseUserUUID: policy.AttrEnterpriseUserUUID,
}

// CoveredBy identifies the receiving end of a delegation. Exactly one of the
// party identifier, the user identifier or the uuid must be set.
type CoveredBy struct {
	PartyID  int
	UserID   int
	UUID     string
	UUIDType UUIDType
}

// Validate returns an error unless exactly one of the covered-by shapes is
// populated.
func (c CoveredBy) Validate() error {
	count := 0

	if c.PartyID != 0 {
		count++
	}

	if c.UserID != 0 {
		count++
	}

	if c.UUID != "" {
		if _, ok := uuidAttrs[c.UUIDType]; !ok {
			return xerrors.Errorf("unknown uuid type '%s'", c.UUIDType)
		}

		count++
	}

	if count != 1 {
		return xerrors.New("covered by must be exactly one of party, user or uuid")
	}

	return nil
}

// Key returns the covered-by segment of the delegation-policy path. External
// systems and the change log depend on it as a join key, so the prefix table
// must never change: "p" for a party, "u" for a user, otherwise the uuid-type
// name.
func (c CoveredBy) Key() string {
	switch {
	case c.PartyID != 0:
		return "p" + strconv.Itoa(c.PartyID)
	case c.UserID != 0:
		return "u" + strconv.Itoa(c.UserID)
	case c.UUID != "":
		return string(c.UUIDType) + c.UUID
	default:
		return ""
	}
}

// Matches returns the subject attribute matches of the covered-by.
func (c CoveredBy) Matches() []policy.AttributeMatch {
	switch {
	case c.PartyID != 0:
		return []policy.AttributeMatch{{ID: policy.AttrPartyID, Value: strconv.Itoa(c.PartyID)}}
	case c.UserID != 0:
		return []policy.AttributeMatch{{ID: policy.AttrUserID, Value: strconv.Itoa(c.UserID)}}
	case c.UUID != "":
		return []policy.AttributeMatch{{ID: uuidAttrs[c.UUIDType], Value: c.UUID}}
	default:
		return nil
	}
}

// CoveredByParty returns a covered-by for a party.
func CoveredByParty(partyID int) CoveredBy {
	return CoveredBy{PartyID: partyID}
}

// CoveredByUser returns a covered-by for a user.
func CoveredByUser(userID int) CoveredBy {
	return CoveredBy{UserID: userID}
}

// CoveredByUUID returns a covered-by for a uuid of the given type.
func CoveredByUUID(typ UUIDType, uuid string) CoveredBy {
	return CoveredBy{UUIDType: typ, UUID: uuid}
}

// ChangeType qualifies a change-log record.
type ChangeType string

const (
	// ChangeGrant records that rules were added to the policy.
	ChangeGrant ChangeType = "Grant"

	// ChangeRevoke records that some rules were removed but at least one
	// remains.
	ChangeRevoke ChangeType = "Revoke"

	// ChangeRevokeLast records that no rules remain: the policy blob is
	// logically empty and the delegation is terminated.
	ChangeRevokeLast ChangeType = "RevokeLast"
)

// ChangeKey identifies the sequence of change records of one delegation
// policy.
type ChangeKey struct {
	ResourceMatchType string
	ResourceID        string
	OfferedByPartyID  int
	CoveredBy         string
}

// Change is one append-only change-log record. Records are never mutated,
// only superseded by a newer record with the same key.
type Change struct {
	ID                string
	Type              ChangeType
	ResourceMatchType string
	ResourceID        string
	OfferedByPartyID  int
	CoveredBy         string
	PerformedByUserID int
	BlobPath          string
	BlobVersion       string
	Created           time.Time
}

// Key returns the change key of the record.
func (c Change) Key() ChangeKey {
	return ChangeKey{
		ResourceMatchType: c.ResourceMatchType,
		ResourceID:        c.ResourceID,
		OfferedByPartyID:  c.OfferedByPartyID,
		CoveredBy:         c.CoveredBy,
	}
}

// ChangeFilter selects current change records. Empty slices match
// everything for their field.
type ChangeFilter struct {
	OfferedByPartyIDs []int
	CoveredBy         []string
}

// ChangeLog is the metadata log repository. The current record of a key must,
// at all times a reader observes it, reference a blob content version that is
// authoritative for the path.
type ChangeLog interface {
	// GetCurrent returns the latest record of the key, or nil when the key
	// has never been written.
	GetCurrent(ctx context.Context, key ChangeKey) (*Change, error)

	// Insert appends a record and returns it with its generated identifier
	// and creation time.
	Insert(ctx context.Context, change Change) (Change, error)

	// GetAllActive returns the current record of every key matching the
	// filter whose type is not RevokeLast.
	GetAllActive(ctx context.Context, filter ChangeFilter) ([]Change, error)
}

// EventSink receives a best-effort notification of every committed change.
// A push failure is logged and never affects the outcome of the write.
type EventSink interface {
	Push(ctx context.Context, change Change) error
}

// Rule is one requested or reported delegation rule. The administration
// operations return one entry per input rule with the success flag set
// individually, so partial success is a first-class outcome.
type Rule struct {
	ID                  string
	OfferedByPartyID    int
	CoveredBy           CoveredBy
	DelegatedByUserID   int
	Resource            []policy.AttributeMatch
	Action              string
	CreatedSuccessfully bool
}

// RequestToDelete identifies a deletion scope: a whole delegation policy, or
// a subset of its rules when rule identifiers are listed.
type RequestToDelete struct {
	OfferedByPartyID int
	CoveredBy        CoveredBy
	DeletedByUserID  int
	Resource         []policy.AttributeMatch
	RuleIDs          []string
}
