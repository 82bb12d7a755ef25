package delegation

import (
	"context"

	"go.govkit.dev/mandate/core/policy"
	"golang.org/x/xerrors"
)

// DeletionResult reports the outcome of one deletion request. A request that
// resolves to an already revoked policy is a successful no-op with no deleted
// rules.
type DeletionResult struct {
	Request        RequestToDelete
	DeletedRuleIDs []string
	Deleted        bool
}

// Delete removes delegation rules. A request listing rule identifiers removes
// that subset; a request without identifiers clears the whole policy. It
// returns one result per request and an error only when every request failed.
func (s *Service) Delete(ctx context.Context, requests []RequestToDelete) ([]DeletionResult, error) {
	results := make([]DeletionResult, len(requests))

	failed := 0

	for i, req := range requests {
		results[i].Request = req

		deleted, err := s.deleteOne(ctx, req)
		if err != nil {
			s.logger.Error().Err(err).Msg("deletion request failed")

			promRevocations.WithLabelValues(outcomeFailed).Inc()
			failed++

			continue
		}

		results[i].DeletedRuleIDs = deleted
		results[i].Deleted = true

		promRevocations.WithLabelValues(outcomeOK).Inc()
	}

	if len(requests) > 0 && failed == len(requests) {
		return results, xerrors.New("no deletion request could be processed")
	}

	return results, nil
}

// deleteOne processes a single deletion request and returns the identifiers
// of the rules actually removed.
func (s *Service) deleteOne(ctx context.Context, req RequestToDelete) ([]string, error) {
	ref, err := policy.ResolveResource(req.Resource)
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve resource: %w", err)
	}

	path, err := BuildPath(ref, req.OfferedByPartyID, req.CoveredBy)
	if err != nil {
		return nil, xerrors.Errorf("failed to build path: %w", err)
	}

	key := ChangeKey{
		ResourceMatchType: ref.Kind.String(),
		ResourceID:        ref.ResourceID(),
		OfferedByPartyID:  req.OfferedByPartyID,
		CoveredBy:         req.CoveredBy.Key(),
	}

	var deleted []string

	err = s.withLease(ctx, path, func(lease string) error {
		current, err := s.log.GetCurrent(ctx, key)
		if err != nil {
			return xerrors.Errorf("failed to get current change: %w", err)
		}

		if current == nil || current.Type == ChangeRevokeLast {
			s.logger.Info().Str("path", path).
				Msg("delegation policy already deleted")

			return nil
		}

		doc, err := s.policies.GetPolicyVersion(ctx, current.BlobPath, current.BlobVersion)
		if err != nil {
			return xerrors.Errorf("failed to load policy version: %w", err)
		}

		remaining, removed := splitRules(doc.Rules, req.RuleIDs)

		for _, id := range unknownIDs(doc.Rules, req.RuleIDs) {
			s.logger.Warn().Str("rule", id).Str("path", path).
				Msg("rule to delete does not exist")
		}

		if len(removed) == 0 {
			s.logger.Info().Str("path", path).Msg("no rule removed, nothing to write")
			return nil
		}

		doc.Rules = remaining

		changeType := ChangeRevoke
		if len(remaining) == 0 {
			changeType = ChangeRevokeLast
		}

		err = s.commit(ctx, path, lease, doc, Change{
			Type:              changeType,
			ResourceMatchType: key.ResourceMatchType,
			ResourceID:        key.ResourceID,
			OfferedByPartyID:  key.OfferedByPartyID,
			CoveredBy:         key.CoveredBy,
			PerformedByUserID: req.DeletedByUserID,
		})
		if err != nil {
			return err
		}

		deleted = removed

		return nil
	})
	if err != nil {
		return nil, err
	}

	return deleted, nil
}

// splitRules partitions the rules of a document into the ones to keep and the
// identifiers of the ones to remove. An empty selection removes everything.
func splitRules(rules []policy.Rule, ruleIDs []string) ([]policy.Rule, []string) {
	if len(ruleIDs) == 0 {
		removed := make([]string, len(rules))
		for i, rule := range rules {
			removed[i] = rule.ID
		}

		return nil, removed
	}

	selection := make(map[string]struct{}, len(ruleIDs))
	for _, id := range ruleIDs {
		selection[id] = struct{}{}
	}

	var remaining []policy.Rule
	var removed []string

	for _, rule := range rules {
		_, ok := selection[rule.ID]
		if ok {
			removed = append(removed, rule.ID)
		} else {
			remaining = append(remaining, rule)
		}
	}

	return remaining, removed
}

// unknownIDs returns the requested identifiers that do not exist in the
// document.
func unknownIDs(rules []policy.Rule, ruleIDs []string) []string {
	var unknown []string

	for _, id := range ruleIDs {
		found := false

		for _, rule := range rules {
			if rule.ID == id {
				found = true
				break
			}
		}

		if !found {
			unknown = append(unknown, id)
		}
	}

	return unknown
}
