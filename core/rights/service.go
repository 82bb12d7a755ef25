package rights

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"go.govkit.dev/mandate"
	"go.govkit.dev/mandate/core/delegation"
	"go.govkit.dev/mandate/core/pdp"
	"go.govkit.dev/mandate/core/policy"
	"go.govkit.dev/mandate/core/storage"
	"go.govkit.dev/mandate/directory"
	"golang.org/x/xerrors"
)

// Service resolves rights queries.
//
// The computation is a pure function of its inputs: the base policy version,
// the subject's role set and the active delegation set. Nothing is cached
// across requests, so external caching can be added or removed without
// changing observable behavior.
type Service struct {
	policies  storage.PolicySource
	roles     directory.RoleSource
	resources directory.ResourceDirectory
	log       delegation.ChangeLog
	logger    zerolog.Logger
}

// NewService creates a new rights-resolution service.
func NewService(policies storage.PolicySource, roles directory.RoleSource,
	resources directory.ResourceDirectory, log delegation.ChangeLog) *Service {

	return &Service{
		policies:  policies,
		roles:     roles,
		resources: resources,
		log:       log,
		logger:    mandate.Logger.With().Str("component", "rights").Logger(),
	}
}

// GetRights returns the rights the query's user holds when acting for the
// query's party on the resource. With ReturnAll set it also returns the
// rights of the policies involved that the user does not hold.
func (s *Service) GetRights(ctx context.Context, query Query) ([]Right, error) {
	ref, err := policy.ResolveResource(query.Resource)
	if err != nil {
		return nil, xerrors.Errorf("invalid resource: %w", err)
	}

	if ref.Kind == policy.ResourceRegistryKind {
		res, err := s.resources.GetResource(ctx, ref.RegistryID)
		if err != nil {
			return nil, xerrors.Errorf("failed to look up resource: %w", err)
		}

		if !res.Active {
			return nil, xerrors.Errorf("resource '%s' is not active", ref.RegistryID)
		}
	}

	base, err := s.policies.GetPolicy(ctx, ref)
	if err != nil {
		return nil, xerrors.Errorf("failed to get base policy: %w", err)
	}

	subjects, err := s.roles.GetRoleAttributes(ctx, query.ToUserID, query.FromPartyID)
	if err != nil {
		return nil, xerrors.Errorf("failed to get roles: %w", err)
	}

	acc := newAccumulator()

	baseType := AppPolicy
	if ref.Kind == policy.ResourceRegistryKind {
		baseType = ResourceRegistryPolicy
	}

	acc.addPolicy(base, baseType, query.FromPartyID, subjects, query.ReturnAll)

	err = s.addDelegatedRights(ctx, query, ref, acc)
	if err != nil {
		return nil, err
	}

	rights := acc.list()

	if !query.ReturnAll {
		permitted := make([]Right, 0, len(rights))

		for _, right := range rights {
			if right.HasPermit {
				permitted = append(permitted, right)
			}
		}

		rights = permitted
	}

	return rights, nil
}

// addDelegatedRights loads every delegation policy still active that the
// queried party offered to the user, and evaluates its rules with the user
// identity as subject. Only delegations offered directly by the queried party
// are considered, so rights follow a single delegation hop.
func (s *Service) addDelegatedRights(ctx context.Context, query Query, ref policy.ResourceRef, acc *accumulator) error {
	covered := delegation.CoveredByUser(query.ToUserID)

	changes, err := s.log.GetAllActive(ctx, delegation.ChangeFilter{
		OfferedByPartyIDs: []int{query.FromPartyID},
		CoveredBy:         []string{covered.Key()},
	})
	if err != nil {
		return xerrors.Errorf("failed to get active delegations: %w", err)
	}

	subjects := []policy.AttributeMatch{
		{ID: policy.AttrUserID, Value: strconv.Itoa(query.ToUserID)},
	}

	for _, change := range changes {
		if change.ResourceID != ref.ResourceID() {
			continue
		}

		doc, err := s.policies.GetPolicyVersion(ctx, change.BlobPath, change.BlobVersion)
		if err != nil {
			return xerrors.Errorf("failed to load delegation policy: %w", err)
		}

		acc.addPolicy(doc, DelegationPolicy, change.OfferedByPartyID, subjects, query.ReturnAll)
	}

	return nil
}

// accumulator deduplicates rights by their key while preserving insertion
// order.
type accumulator struct {
	index map[string]*Right
	order []string
}

func newAccumulator() *accumulator {
	return &accumulator{
		index: make(map[string]*Right),
	}
}

// addPolicy decomposes the policy and merges one right per atomic rule into
// the accumulator, evaluating each rule with the subjects as context.
func (acc *accumulator) addPolicy(doc policy.Policy, srcType RightSourceType,
	offeredBy int, subjects []policy.AttributeMatch, returnAll bool) {

	for _, rule := range doc.Decompose().Rules {
		resource := firstAllOf(rule, policy.Resource)
		action := firstAllOf(rule, policy.Action)

		if len(action) == 0 {
			continue
		}

		right := Right{
			Resource: resource,
			Action:   action[0],
		}

		decision := pdp.Evaluate(rule, pdp.Request{
			Subjects: subjects,
			Resource: resource,
			Action:   action,
		})

		if decision != pdp.Permit && !returnAll {
			continue
		}

		src := RightSource{
			PolicyID:         doc.ID,
			PolicyVersion:    doc.Version,
			RuleID:           rule.ID,
			Type:             srcType,
			HasPermit:        decision == pdp.Permit,
			OfferedByPartyID: offeredBy,
			UserSubjects:     subjects,
			PolicySubjects:   rule.Category(policy.Subject),
		}

		acc.add(right, src)
	}
}

// add merges the source into the right of the same key, creating it first
// when needed.
func (acc *accumulator) add(right Right, src RightSource) {
	key := right.Key()

	existing, ok := acc.index[key]
	if !ok {
		existing = &right
		acc.index[key] = existing
		acc.order = append(acc.order, key)
	}

	existing.Sources = append(existing.Sources, src)

	if src.HasPermit {
		existing.HasPermit = true

		// Policy-level rights are always re-delegable when permitted;
		// delegation-sourced rights stop at one hop.
		if src.Type != DelegationPolicy {
			existing.CanDelegate = true
		}
	}
}

func (acc *accumulator) list() []Right {
	rights := make([]Right, 0, len(acc.order))

	for _, key := range acc.order {
		rights = append(rights, *acc.index[key])
	}

	return rights
}

func firstAllOf(rule policy.Rule, cat policy.CategoryType) policy.AllOf {
	sets := rule.Category(cat)
	if len(sets) == 0 {
		return nil
	}

	return sets[0]
}
