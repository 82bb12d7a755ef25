package delegation

import (
	"fmt"

	"go.govkit.dev/mandate/core/policy"
	"golang.org/x/xerrors"
)

// PolicyFileName is the file name of a delegation policy document inside its
// path.
const PolicyFileName = "delegationpolicy.json"

// BuildPath returns the deterministic storage path of the delegation policy
// for the resource, the offering party and the covered-by. The grammar is
// `<resource-scope>/<offeredBy>/<coveredByKey>/delegationpolicy.json` where
// the resource scope is `resource/<id>`, `app/<org>/<app>` or
// `service/<code>/<edition>`. The path doubles as a join key for external
// systems, so it must be stable bit-for-bit.
func BuildPath(ref policy.ResourceRef, offeredByPartyID int, coveredBy CoveredBy) (string, error) {
	if offeredByPartyID == 0 {
		return "", xerrors.New("missing offered-by party")
	}

	err := coveredBy.Validate()
	if err != nil {
		return "", xerrors.Errorf("invalid covered by: %v", err)
	}

	var scope string

	switch ref.Kind {
	case policy.ResourceRegistryKind:
		scope = fmt.Sprintf("resource/%s", ref.RegistryID)
	case policy.ResourceAppKind:
		scope = fmt.Sprintf("app/%s/%s", ref.Org, ref.App)
	case policy.ResourceServiceKind:
		scope = fmt.Sprintf("service/%s/%s", ref.ServiceCode, ref.ServiceEdition)
	default:
		return "", xerrors.New("resource is not resolved")
	}

	return fmt.Sprintf("%s/%d/%s/%s", scope, offeredByPartyID, coveredBy.Key(), PolicyFileName), nil
}
