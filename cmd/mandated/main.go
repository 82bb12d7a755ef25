// Package main implements mandated, the administration command of the
// delegation policy engine. It operates on a local store, which makes it
// suitable for provisioning, inspection and integration testing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	urfave "github.com/urfave/cli/v2"
	"go.govkit.dev/mandate"
	"go.govkit.dev/mandate/core/delegation"
	"go.govkit.dev/mandate/core/events"
	"go.govkit.dev/mandate/core/party"
	"go.govkit.dev/mandate/core/policy"
	_ "go.govkit.dev/mandate/core/policy/json"
	"go.govkit.dev/mandate/core/rights"
	"go.govkit.dev/mandate/core/storage/blobkv"
	"go.govkit.dev/mandate/core/storage/changelog"
	"go.govkit.dev/mandate/core/storage/policystore"
	"go.govkit.dev/mandate/core/store/kv"
	sjson "go.govkit.dev/mandate/serde/json"
	"golang.org/x/xerrors"
)

func main() {
	err := run(os.Args, os.Stdout)
	if err != nil {
		mandate.Logger.Fatal().Err(err).Msg("command failed")
	}
}

func run(args []string, out io.Writer) error {
	app := &urfave.App{
		Name:   "mandated",
		Usage:  "administrate delegation policies",
		Writer: out,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:     "config",
				Usage:    "path of the YAML configuration",
				Required: true,
			},
		},
		Commands: []*urfave.Command{
			{
				Name:  "grant",
				Usage: "delegate an action on a resource",
				Flags: []urfave.Flag{
					&urfave.IntFlag{Name: "from", Usage: "offering party", Required: true},
					&urfave.IntFlag{Name: "to-user", Usage: "receiving user"},
					&urfave.IntFlag{Name: "to-party", Usage: "receiving party"},
					&urfave.IntFlag{Name: "by", Usage: "delegating user", Required: true},
					&urfave.StringFlag{Name: "resource", Usage: "resource registry id"},
					&urfave.StringFlag{Name: "org", Usage: "app owner"},
					&urfave.StringFlag{Name: "app", Usage: "app name"},
					&urfave.StringFlag{Name: "action", Usage: "action to delegate", Required: true},
				},
				Action: grantAction,
			},
			{
				Name:  "revoke",
				Usage: "revoke delegated rules, or the whole policy",
				Flags: []urfave.Flag{
					&urfave.IntFlag{Name: "from", Usage: "offering party", Required: true},
					&urfave.IntFlag{Name: "to-user", Usage: "receiving user"},
					&urfave.IntFlag{Name: "to-party", Usage: "receiving party"},
					&urfave.IntFlag{Name: "by", Usage: "revoking user", Required: true},
					&urfave.StringFlag{Name: "resource", Usage: "resource registry id"},
					&urfave.StringFlag{Name: "org", Usage: "app owner"},
					&urfave.StringFlag{Name: "app", Usage: "app name"},
					&urfave.StringSliceFlag{Name: "rule", Usage: "rule ids to revoke"},
				},
				Action: revokeAction,
			},
			{
				Name:  "rights",
				Usage: "resolve the rights of a user acting for a party",
				Flags: []urfave.Flag{
					&urfave.IntFlag{Name: "from", Usage: "offering party", Required: true},
					&urfave.IntFlag{Name: "to", Usage: "acting user", Required: true},
					&urfave.StringFlag{Name: "resource", Usage: "resource registry id"},
					&urfave.StringFlag{Name: "org", Usage: "app owner"},
					&urfave.StringFlag{Name: "app", Usage: "app name"},
					&urfave.BoolFlag{Name: "all", Usage: "include rights without a permit"},
				},
				Action: rightsAction,
			},
			{
				Name:  "parties",
				Usage: "resolve the authorized parties of a user",
				Flags: []urfave.Flag{
					&urfave.IntFlag{Name: "user", Usage: "acting user", Required: true},
				},
				Action: partiesAction,
			},
		},
	}

	return app.Run(args)
}

// env bundles the stores and services built from the configuration.
type env struct {
	db         kv.DB
	delegation *delegation.Service
	rights     *rights.Service
	parties    *party.Resolver
}

func (e env) close() {
	err := e.db.Close()
	if err != nil {
		mandate.Logger.Warn().Err(err).Msg("failed to close database")
	}
}

// setup opens the stores, seeds the base policies of the configured resources
// and builds the services.
func setup(c *urfave.Context) (env, error) {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return env{}, err
	}

	err = os.MkdirAll(cfg.DataDir, 0755)
	if err != nil {
		return env{}, xerrors.Errorf("failed to create data dir: %v", err)
	}

	db, err := kv.New(filepath.Join(cfg.DataDir, "mandate.db"))
	if err != nil {
		return env{}, xerrors.Errorf("failed to open db: %v", err)
	}

	sctx := sjson.NewContext()

	blobs, err := blobkv.NewStore(db)
	if err != nil {
		db.Close()
		return env{}, xerrors.Errorf("failed to create object store: %v", err)
	}

	log, err := changelog.NewRepository(db)
	if err != nil {
		db.Close()
		return env{}, xerrors.Errorf("failed to create change log: %v", err)
	}

	policies := policystore.NewStore(blobs, sctx)

	ctx := context.Background()

	for _, res := range cfg.Resources {
		ref, err := res.Ref()
		if err != nil {
			db.Close()
			return env{}, xerrors.Errorf("invalid resource: %v", err)
		}

		path, err := policystore.BasePath(ref)
		if err != nil {
			db.Close()
			return env{}, err
		}

		exists, err := blobs.Exists(ctx, path)
		if err != nil {
			db.Close()
			return env{}, err
		}

		if !exists {
			_, err = policies.PutPolicy(ctx, ref, res.BasePolicy(ref))
			if err != nil {
				db.Close()
				return env{}, xerrors.Errorf("failed to seed policy: %v", err)
			}
		}
	}

	resources, parties, roles := cfg.Directories()

	registry := prometheus.NewRegistry()
	for _, collector := range mandate.PromCollectors {
		err := registry.Register(collector)
		if err != nil {
			mandate.Logger.Warn().Err(err).Msg("failed to register collector")
		}
	}

	sink := events.NewLogSink()

	return env{
		db:         db,
		delegation: delegation.NewService(blobs, policies, log, sink, sctx),
		rights:     rights.NewService(policies, roles, resources, log),
		parties:    party.NewResolver(party.StaticSource{}, roles, parties, log),
	}, nil
}

func resourceMatches(c *urfave.Context) ([]policy.AttributeMatch, error) {
	switch {
	case c.String("resource") != "":
		return []policy.AttributeMatch{
			{ID: policy.AttrResourceRegistry, Value: c.String("resource")},
		}, nil
	case c.String("org") != "" && c.String("app") != "":
		return []policy.AttributeMatch{
			{ID: policy.AttrOrg, Value: c.String("org")},
			{ID: policy.AttrApp, Value: c.String("app")},
		}, nil
	default:
		return nil, xerrors.New("either --resource or --org/--app is required")
	}
}

func coveredBy(c *urfave.Context) (delegation.CoveredBy, error) {
	switch {
	case c.Int("to-user") != 0:
		return delegation.CoveredByUser(c.Int("to-user")), nil
	case c.Int("to-party") != 0:
		return delegation.CoveredByParty(c.Int("to-party")), nil
	default:
		return delegation.CoveredBy{}, xerrors.New("either --to-user or --to-party is required")
	}
}

func grantAction(c *urfave.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	defer e.close()

	resource, err := resourceMatches(c)
	if err != nil {
		return err
	}

	covered, err := coveredBy(c)
	if err != nil {
		return err
	}

	results, err := e.delegation.Grant(c.Context, []delegation.Rule{{
		OfferedByPartyID:  c.Int("from"),
		CoveredBy:         covered,
		DelegatedByUserID: c.Int("by"),
		Resource:          resource,
		Action:            c.String("action"),
	}})
	if err != nil {
		return xerrors.Errorf("grant failed: %v", err)
	}

	return printJSON(c.App.Writer, results)
}

func revokeAction(c *urfave.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	defer e.close()

	resource, err := resourceMatches(c)
	if err != nil {
		return err
	}

	covered, err := coveredBy(c)
	if err != nil {
		return err
	}

	results, err := e.delegation.Delete(c.Context, []delegation.RequestToDelete{{
		OfferedByPartyID: c.Int("from"),
		CoveredBy:        covered,
		DeletedByUserID:  c.Int("by"),
		Resource:         resource,
		RuleIDs:          c.StringSlice("rule"),
	}})
	if err != nil {
		return xerrors.Errorf("revoke failed: %v", err)
	}

	return printJSON(c.App.Writer, results)
}

func rightsAction(c *urfave.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	defer e.close()

	resource, err := resourceMatches(c)
	if err != nil {
		return err
	}

	results, err := e.rights.GetRights(c.Context, rights.Query{
		FromPartyID: c.Int("from"),
		ToUserID:    c.Int("to"),
		Resource:    resource,
		ReturnAll:   c.Bool("all"),
	})
	if err != nil {
		return xerrors.Errorf("rights query failed: %v", err)
	}

	return printJSON(c.App.Writer, results)
}

func partiesAction(c *urfave.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	defer e.close()

	results, err := e.parties.GetAuthorizedParties(c.Context, c.Int("user"))
	if err != nil {
		return xerrors.Errorf("party query failed: %v", err)
	}

	return printJSON(c.App.Writer, results)
}

func printJSON(out io.Writer, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal output: %v", err)
	}

	fmt.Fprintln(out, string(data))

	return nil
}
