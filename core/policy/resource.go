package policy

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Attribute identifiers recognized by the engine. They are resolved into the
// closed AttributeKind enumeration once at the boundary so that the rest of
// the code never compares identifier strings.
const (
	AttrResourceRegistry   = "urn:govkit:resource"
	AttrOrg                = "urn:govkit:org"
	AttrApp                = "urn:govkit:app"
	AttrPartyID            = "urn:govkit:partyid"
	AttrUserID             = "urn:govkit:userid"
	AttrRoleCode           = "urn:govkit:rolecode"
	AttrOrgNumber          = "urn:govkit:organizationnumber"
	AttrServiceCode        = "urn:govkit:servicecode"
	AttrServiceEdition     = "urn:govkit:serviceedition"
	AttrPersonUUID         = "urn:govkit:person:uuid"
	AttrOrganizationUUID   = "urn:govkit:organization:uuid"
	AttrSystemUserUUID     = "urn:govkit:systemuser:uuid"
	AttrEnterpriseUserUUID = "urn:govkit:enterpriseuser:uuid"
	AttrInstanceID         = "urn:govkit:instanceid"
	AttrActionID           = "urn:govkit:actionid"
)

// AttributeKind is the closed enumeration of the recognized attribute
// identifiers.
type AttributeKind int

// The supported attribute kinds.
const (
	KindUnknown AttributeKind = iota
	KindResourceRegistry
	KindOrg
	KindApp
	KindPartyID
	KindUserID
	KindRoleCode
	KindOrgNumber
	KindServiceCode
	KindServiceEdition
	KindPersonUUID
	KindOrganizationUUID
	KindSystemUserUUID
	KindEnterpriseUserUUID
	KindInstanceID
	KindActionID
)

var kinds = map[string]AttributeKind{
	AttrResourceRegistry:   KindResourceRegistry,
	AttrOrg:                KindOrg,
	AttrApp:                KindApp,
	AttrPartyID:            KindPartyID,
	AttrUserID:             KindUserID,
	AttrRoleCode:           KindRoleCode,
	AttrOrgNumber:          KindOrgNumber,
	AttrServiceCode:        KindServiceCode,
	AttrServiceEdition:     KindServiceEdition,
	AttrPersonUUID:         KindPersonUUID,
	AttrOrganizationUUID:   KindOrganizationUUID,
	AttrSystemUserUUID:     KindSystemUserUUID,
	AttrEnterpriseUserUUID: KindEnterpriseUserUUID,
	AttrInstanceID:         KindInstanceID,
	AttrActionID:           KindActionID,
}

// KindOf returns the attribute kind of an identifier, or KindUnknown.
func KindOf(id string) AttributeKind {
	return kinds[id]
}

// Kind returns the attribute kind of the match identifier.
func (m AttributeMatch) Kind() AttributeKind {
	return KindOf(m.ID)
}

// ResourceKind is the shape a resource attribute set resolved to.
type ResourceKind int

const (
	// ResourceNone means the attribute set did not cleanly fit exactly one
	// recognized shape.
	ResourceNone ResourceKind = iota

	// ResourceRegistryKind is a single resource-registry identifier.
	ResourceRegistryKind

	// ResourceAppKind is an org/app pair.
	ResourceAppKind

	// ResourceServiceKind is a legacy service-code/edition pair.
	ResourceServiceKind
)

// String returns the stable name of the resource kind. The name is part of
// the delegation-policy path grammar and of the change-log key, so it must
// never change for existing kinds.
func (k ResourceKind) String() string {
	switch k {
	case ResourceRegistryKind:
		return "resource"
	case ResourceAppKind:
		return "app"
	case ResourceServiceKind:
		return "service"
	default:
		return "none"
	}
}

// ResourceRef is the resolved identification of a resource. Exactly one of
// the three shapes is populated according to the kind. The instance
// identifier is optional and may accompany any shape.
type ResourceRef struct {
	Kind           ResourceKind
	RegistryID     string
	Org            string
	App            string
	ServiceCode    string
	ServiceEdition string
	InstanceID     string
}

// ResourceID returns the identifier of the resource used as join key in the
// change log and in the delegation-policy path.
func (ref ResourceRef) ResourceID() string {
	switch ref.Kind {
	case ResourceRegistryKind:
		return ref.RegistryID
	case ResourceAppKind:
		return fmt.Sprintf("%s/%s", ref.Org, ref.App)
	case ResourceServiceKind:
		return fmt.Sprintf("%s/%s", ref.ServiceCode, ref.ServiceEdition)
	default:
		return ""
	}
}

// Matches returns the attribute matches identifying the resource, including
// the instance identifier when set.
func (ref ResourceRef) Matches() []AttributeMatch {
	var matches []AttributeMatch

	switch ref.Kind {
	case ResourceRegistryKind:
		matches = []AttributeMatch{{ID: AttrResourceRegistry, Value: ref.RegistryID}}
	case ResourceAppKind:
		matches = []AttributeMatch{
			{ID: AttrOrg, Value: ref.Org},
			{ID: AttrApp, Value: ref.App},
		}
	case ResourceServiceKind:
		matches = []AttributeMatch{
			{ID: AttrServiceCode, Value: ref.ServiceCode},
			{ID: AttrServiceEdition, Value: ref.ServiceEdition},
		}
	}

	if ref.InstanceID != "" {
		matches = append(matches, AttributeMatch{ID: AttrInstanceID, Value: ref.InstanceID})
	}

	return matches
}

// ResolveResource resolves a resource attribute set into exactly one of the
// three recognized shapes: a resource-registry identifier, an org/app pair,
// or a service-code/edition pair. Ambiguous or mixed input is rejected, never
// guessed.
func ResolveResource(matches []AttributeMatch) (ResourceRef, error) {
	ref := ResourceRef{}

	for _, m := range matches {
		var slot *string

		switch m.Kind() {
		case KindResourceRegistry:
			slot = &ref.RegistryID
		case KindOrg:
			slot = &ref.Org
		case KindApp:
			slot = &ref.App
		case KindServiceCode:
			slot = &ref.ServiceCode
		case KindServiceEdition:
			slot = &ref.ServiceEdition
		case KindInstanceID:
			slot = &ref.InstanceID
		default:
			return ResourceRef{}, xerrors.Errorf(
				"unrecognized resource attribute '%s'", m.ID)
		}

		if *slot != "" {
			return ResourceRef{}, xerrors.Errorf(
				"duplicate resource attribute '%s'", m.ID)
		}

		*slot = m.Value
	}

	hasRegistry := ref.RegistryID != ""
	hasApp := ref.Org != "" || ref.App != ""
	hasService := ref.ServiceCode != "" || ref.ServiceEdition != ""

	switch {
	case hasRegistry && !hasApp && !hasService:
		ref.Kind = ResourceRegistryKind
	case hasApp && !hasRegistry && !hasService:
		if ref.Org == "" || ref.App == "" {
			return ResourceRef{}, xerrors.New("org/app pair is incomplete")
		}

		ref.Kind = ResourceAppKind
	case hasService && !hasRegistry && !hasApp:
		if ref.ServiceCode == "" || ref.ServiceEdition == "" {
			return ResourceRef{}, xerrors.New("service-code/edition pair is incomplete")
		}

		ref.Kind = ResourceServiceKind
	default:
		return ResourceRef{}, xerrors.New(
			"resource attributes do not identify exactly one resource shape")
	}

	return ref, nil
}
