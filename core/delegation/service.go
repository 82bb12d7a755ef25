package delegation

import (
	"context"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.govkit.dev/mandate"
	"go.govkit.dev/mandate/core/policy"
	"go.govkit.dev/mandate/core/storage"
	"go.govkit.dev/mandate/serde"
	"golang.org/x/xerrors"
)

// Service administrates delegation policies. Grants and deletions are grouped
// per delegation-policy path; each group is atomic, failures are isolated to
// their group and reported per input entry.
//
// The write protocol per path is: acquire the write lease, resolve the
// current change record, load the exact blob version it references, mutate,
// write conditionally under the lease, append the change record, push the
// notification. The lease is released on every exit path.
type Service struct {
	blobs    storage.ObjectStore
	policies storage.PolicySource
	log      ChangeLog
	sink     EventSink
	sctx     serde.Context
	fac      policy.PolicyFactory
	newID    func() string
	logger   zerolog.Logger
}

// NewService creates a new delegation administration service.
func NewService(blobs storage.ObjectStore, policies storage.PolicySource,
	log ChangeLog, sink EventSink, sctx serde.Context) *Service {

	return &Service{
		blobs:    blobs,
		policies: policies,
		log:      log,
		sink:     sink,
		sctx:     sctx,
		fac:      policy.NewPolicyFactory(),
		newID:    func() string { return xid.New().String() },
		logger:   mandate.Logger.With().Str("component", "delegation").Logger(),
	}
}

type grantGroup struct {
	path    string
	ref     policy.ResourceRef
	indices []int
}

// Grant writes the requested delegation rules. It returns one entry per input
// rule, in input order, with the success flag and the assigned rule
// identifier set individually. It returns an error only when every rule
// failed.
func (s *Service) Grant(ctx context.Context, rules []Rule) ([]Rule, error) {
	results := make([]Rule, len(rules))
	copy(results, rules)

	groups, order := s.sortRules(results)

	for _, path := range order {
		group := groups[path]

		assigned, err := s.writeGroup(ctx, group, results)
		if err != nil {
			s.logger.Error().Err(err).Str("path", group.path).
				Msg("delegation group failed")

			promGrants.WithLabelValues(outcomeFailed).Add(float64(len(group.indices)))

			continue
		}

		for _, a := range assigned {
			results[a.index].ID = a.ruleID
			results[a.index].CreatedSuccessfully = true
		}

		promGrants.WithLabelValues(outcomeOK).Add(float64(len(group.indices)))
	}

	if len(rules) > 0 && countSuccessful(results) == 0 {
		return results, xerrors.New("no delegation rule could be written")
	}

	return results, nil
}

// sortRules groups the sortable rules by delegation-policy path. Unsortable
// rules, meaning rules missing the resource, the offered-by, the covered-by
// or the delegating user, are rejected individually and never block the rest.
func (s *Service) sortRules(results []Rule) (map[string]*grantGroup, []string) {
	groups := make(map[string]*grantGroup)
	order := []string{}

	for i := range results {
		rule := &results[i]
		rule.CreatedSuccessfully = false

		ref, err := policy.ResolveResource(rule.Resource)
		if err != nil {
			s.logger.Warn().Err(err).Msg("rule is not sortable")
			continue
		}

		if rule.DelegatedByUserID == 0 || rule.Action == "" {
			s.logger.Warn().Msg("rule is missing the delegator or the action")
			continue
		}

		path, err := BuildPath(ref, rule.OfferedByPartyID, rule.CoveredBy)
		if err != nil {
			s.logger.Warn().Err(err).Msg("rule is not sortable")
			continue
		}

		group, ok := groups[path]
		if !ok {
			group = &grantGroup{path: path, ref: ref}
			groups[path] = group
			order = append(order, path)
		}

		group.indices = append(group.indices, i)
	}

	return groups, order
}

type assignment struct {
	index  int
	ruleID string
}

// writeGroup performs the atomic write of one delegation-policy path. No rule
// of the group is reported successful unless the blob write and the log
// insert both succeeded.
func (s *Service) writeGroup(ctx context.Context, group *grantGroup, rules []Rule) ([]assignment, error) {
	base, err := s.policies.GetPolicy(ctx, withoutInstance(group.ref))
	if err != nil {
		return nil, xerrors.Errorf("failed to get base policy: %w", err)
	}

	for _, idx := range group.indices {
		// The base policy grants actions on the resource itself, so an
		// instance-scoped rule validates without its instance attribute.
		candidate := rules[idx]
		candidate.Resource = stripInstance(candidate.Resource)

		_, ok := base.ContainsMatchingRule(delegableRule("", candidate))
		if !ok {
			return nil, xerrors.Errorf(
				"rule '%s' on '%s' is not granted by policy '%s'",
				rules[idx].Action, group.ref.ResourceID(), base.ID)
		}
	}

	first := rules[group.indices[0]]

	key := ChangeKey{
		ResourceMatchType: group.ref.Kind.String(),
		ResourceID:        group.ref.ResourceID(),
		OfferedByPartyID:  first.OfferedByPartyID,
		CoveredBy:         first.CoveredBy.Key(),
	}

	var assigned []assignment

	err = s.withLease(ctx, group.path, func(lease string) error {
		doc, err := s.currentDocument(ctx, group.path, key)
		if err != nil {
			return err
		}

		added := false

		for _, idx := range group.indices {
			rule := rules[idx]

			existing, ok := doc.ContainsMatchingRule(delegableRule("", rule))
			if ok {
				// Already delegated: report the existing rule instead of
				// writing a duplicate.
				assigned = append(assigned, assignment{index: idx, ruleID: existing})
				continue
			}

			id := s.newID()
			doc.Rules = append(doc.Rules, delegableRule(id, rule))
			assigned = append(assigned, assignment{index: idx, ruleID: id})
			added = true
		}

		if !added {
			s.logger.Info().Str("path", group.path).
				Msg("every rule already delegated, nothing to write")

			return nil
		}

		return s.commit(ctx, group.path, lease, doc, Change{
			Type:              ChangeGrant,
			ResourceMatchType: key.ResourceMatchType,
			ResourceID:        key.ResourceID,
			OfferedByPartyID:  key.OfferedByPartyID,
			CoveredBy:         key.CoveredBy,
			PerformedByUserID: first.DelegatedByUserID,
		})
	})
	if err != nil {
		return nil, err
	}

	return assigned, nil
}

// withLease acquires the write lease of the path, runs the critical section
// and guarantees the release on every exit path, including cancellation.
func (s *Service) withLease(ctx context.Context, path string, fn func(lease string) error) error {
	exists, err := s.blobs.Exists(ctx, path)
	if err != nil {
		return xerrors.Errorf("failed to check path: %w", err)
	}

	if !exists {
		// A lease needs an object to attach to, so an empty placeholder is
		// materialized first.
		_, err = s.blobs.Write(ctx, path, []byte{})
		if err != nil {
			return xerrors.Errorf("failed to write placeholder: %w", err)
		}
	}

	lease, err := s.blobs.AcquireLease(ctx, path)
	if err != nil {
		return xerrors.Errorf("failed to acquire lease: %w", err)
	}

	defer func() {
		// The release must go through even when the request context has been
		// cancelled, otherwise the path stays locked until the lease expires.
		err := s.blobs.ReleaseLease(context.Background(), path, lease)
		if err != nil {
			s.logger.Error().Err(err).Str("path", path).Msg("failed to release lease")
		}
	}()

	return fn(lease)
}

// currentDocument resolves the policy document the change log currently
// points to, or starts a fresh one when the key has no record or its latest
// record is a terminal revocation.
func (s *Service) currentDocument(ctx context.Context, path string, key ChangeKey) (policy.Policy, error) {
	current, err := s.log.GetCurrent(ctx, key)
	if err != nil {
		return policy.Policy{}, xerrors.Errorf("failed to get current change: %w", err)
	}

	if current == nil || current.Type == ChangeRevokeLast {
		return policy.Policy{
			ID:        path,
			Algorithm: policy.DenyOverrides,
		}, nil
	}

	doc, err := s.policies.GetPolicyVersion(ctx, current.BlobPath, current.BlobVersion)
	if err != nil {
		return policy.Policy{}, xerrors.Errorf("failed to load policy version: %w", err)
	}

	return doc, nil
}

// commit serializes the document, writes it under the lease and then appends
// the change record. The order matters: if the log insert fails after the
// blob write succeeded, the new blob version is orphaned and ignored by
// future reads, which always resolve through the log. No rollback of the
// object store is attempted; the inconsistency is logged for out-of-band
// repair.
func (s *Service) commit(ctx context.Context, path, lease string, doc policy.Policy, change Change) error {
	data, err := doc.Serialize(s.sctx)
	if err != nil {
		return xerrors.Errorf("failed to serialize policy: %v", err)
	}

	version, err := s.blobs.WriteConditional(ctx, path, data, lease)
	if err != nil {
		return xerrors.Errorf("failed to write policy: %w", err)
	}

	change.BlobPath = path
	change.BlobVersion = version

	inserted, err := s.log.Insert(ctx, change)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Str("version", version).
			Msg("change log insert failed, blob version is orphaned")

		return xerrors.Errorf("failed to insert change: %w", err)
	}

	err = s.sink.Push(ctx, inserted)
	if err != nil {
		// The write already committed; the notification is at-least-once
		// retried elsewhere.
		s.logger.Error().Err(err).Str("change", inserted.ID).
			Msg("failed to push delegation change event")
	}

	return nil
}

// delegableRule builds the atomic permit rule of a delegation request. The
// subject is the covered-by of the rule.
func delegableRule(id string, rule Rule) policy.Rule {
	return policy.NewPermitRule(
		id,
		rule.CoveredBy.Matches(),
		rule.Resource,
		policy.AllOf{{ID: policy.AttrActionID, Value: rule.Action}},
	)
}

// withoutInstance strips the instance identifier so an instance-scoped rule
// validates against the base policy of its resource.
func withoutInstance(ref policy.ResourceRef) policy.ResourceRef {
	ref.InstanceID = ""
	return ref
}

func stripInstance(matches []policy.AttributeMatch) []policy.AttributeMatch {
	stripped := make([]policy.AttributeMatch, 0, len(matches))

	for _, m := range matches {
		if m.Kind() == policy.KindInstanceID {
			continue
		}

		stripped = append(stripped, m)
	}

	return stripped
}

func countSuccessful(rules []Rule) int {
	count := 0

	for _, rule := range rules {
		if rule.CreatedSuccessfully {
			count++
		}
	}

	return count
}
