package party

import (
	"context"

	"github.com/rs/zerolog"
	"go.govkit.dev/mandate"
	"go.govkit.dev/mandate/core/delegation"
	"go.govkit.dev/mandate/directory"
	"golang.org/x/xerrors"
)

// Resolver builds the authorized-party forest of a user.
type Resolver struct {
	legacy  LegacySource
	roles   directory.RoleSource
	parties directory.PartyDirectory
	log     delegation.ChangeLog
	logger  zerolog.Logger
}

// NewResolver creates a new authorized-party resolver.
func NewResolver(legacy LegacySource, roles directory.RoleSource,
	parties directory.PartyDirectory, log delegation.ChangeLog) *Resolver {

	return &Resolver{
		legacy:  legacy,
		roles:   roles,
		parties: parties,
		log:     log,
		logger:  mandate.Logger.With().Str("component", "party").Logger(),
	}
}

// GetAuthorizedParties returns the forest of parties the user may act for. It
// merges the legacy role-derived trees with the parties reachable through
// active delegations, directly or via the user's key-role memberships,
// deduplicating nodes and surfacing sub-unit access under the main unit.
func (r *Resolver) GetAuthorizedParties(ctx context.Context, userID int) ([]*AuthorizedParty, error) {
	roots, err := r.legacy.GetAuthorizedParties(ctx, userID)
	if err != nil {
		return nil, xerrors.Errorf("failed to get legacy parties: %w", err)
	}

	index := make(map[int]*AuthorizedParty)
	for _, root := range roots {
		indexTree(index, root)
	}

	coveredKeys, err := r.coveredKeys(ctx, userID)
	if err != nil {
		return nil, err
	}

	changes, err := r.log.GetAllActive(ctx, delegation.ChangeFilter{
		CoveredBy: coveredKeys,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to get active delegations: %w", err)
	}

	for _, change := range changes {
		node, ok := index[change.OfferedByPartyID]
		if !ok {
			node, roots, err = r.materialize(ctx, change.OfferedByPartyID, index, roots)
			if err != nil {
				return nil, err
			}
		}

		node.EnrichWithResourceAccess(change.ResourceID)
	}

	return roots, nil
}

// coveredKeys returns the covered-by keys a delegation can reach the user
// through: the user directly, and every party the user holds a key role for.
func (r *Resolver) coveredKeys(ctx context.Context, userID int) ([]string, error) {
	keys := []string{delegation.CoveredByUser(userID).Key()}

	keyParties, err := r.roles.GetKeyRoleParties(ctx, userID)
	if err != nil {
		return nil, xerrors.Errorf("failed to get key roles: %w", err)
	}

	for _, partyID := range keyParties {
		keys = append(keys, delegation.CoveredByParty(partyID).Key())
	}

	return keys, nil
}

// materialize creates the node of an offering party that is not in the forest
// yet. A sub-unit is attached under its main unit, materializing the main
// unit as a pass-through node when it is not present either.
//
// A missing directory entry for a party with an active delegation violates
// the referential integrity with the party directory; it is reported as an
// internal-consistency failure, not as an empty result.
func (r *Resolver) materialize(ctx context.Context, partyID int,
	index map[int]*AuthorizedParty, roots []*AuthorizedParty) (*AuthorizedParty, []*AuthorizedParty, error) {

	entry, err := r.parties.GetParty(ctx, partyID)
	if err != nil {
		r.logger.Error().Err(err).Int("party", partyID).
			Msg("active delegation references a party the directory does not know")

		return nil, nil, xerrors.Errorf(
			"internal consistency: party '%d' has an active delegation but no directory entry: %v",
			partyID, err)
	}

	node := newNode(entry)
	index[partyID] = node

	if entry.MainUnitID == 0 {
		return node, append(roots, node), nil
	}

	main, ok := index[entry.MainUnitID]
	if !ok {
		mainEntry, err := r.parties.GetParty(ctx, entry.MainUnitID)
		if err != nil {
			return nil, nil, xerrors.Errorf(
				"internal consistency: main unit '%d' of party '%d' is unknown: %v",
				entry.MainUnitID, partyID, err)
		}

		main = newNode(mainEntry)
		main.OnlyHierarchyElementWithNoAccess = true
		index[main.PartyID] = main
		roots = append(roots, main)
	}

	main.ChildParties = append(main.ChildParties, node)

	return node, roots, nil
}

func indexTree(index map[int]*AuthorizedParty, node *AuthorizedParty) {
	index[node.PartyID] = node

	for _, child := range node.ChildParties {
		indexTree(index, child)
	}
}
