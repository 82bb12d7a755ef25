package main

import (
	"os"

	"go.govkit.dev/mandate/core/policy"
	"go.govkit.dev/mandate/directory"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// Config is the YAML configuration of the daemon: where the stores live and
// the directory data the engine resolves against.
type Config struct {
	DataDir string `yaml:"datadir"`

	Resources []ResourceConfig `yaml:"resources"`
	Parties   []PartyConfig    `yaml:"parties"`
	Roles     []RoleConfig     `yaml:"roles"`
	KeyRoles  []KeyRoleConfig  `yaml:"keyroles"`
}

// ResourceConfig declares a resource and its base policy: which roles may
// perform which actions.
type ResourceConfig struct {
	ID       string   `yaml:"id"`
	Org      string   `yaml:"org"`
	App      string   `yaml:"app"`
	Actions  []string `yaml:"actions"`
	Roles    []string `yaml:"roles"`
	Inactive bool     `yaml:"inactive"`
}

// Ref returns the resolved resource reference of the entry.
func (c ResourceConfig) Ref() (policy.ResourceRef, error) {
	switch {
	case c.ID != "" && c.Org == "" && c.App == "":
		return policy.ResourceRef{Kind: policy.ResourceRegistryKind, RegistryID: c.ID}, nil
	case c.ID == "" && c.Org != "" && c.App != "":
		return policy.ResourceRef{Kind: policy.ResourceAppKind, Org: c.Org, App: c.App}, nil
	default:
		return policy.ResourceRef{}, xerrors.New("resource must be either an id or an org/app pair")
	}
}

// PartyConfig declares a party directory entry.
type PartyConfig struct {
	ID        int    `yaml:"id"`
	UUID      string `yaml:"uuid"`
	Name      string `yaml:"name"`
	OrgNumber string `yaml:"orgnumber"`
	MainUnit  int    `yaml:"mainunit"`
}

// RoleConfig declares the role codes a user holds for a party.
type RoleConfig struct {
	User  int      `yaml:"user"`
	Party int      `yaml:"party"`
	Codes []string `yaml:"codes"`
}

// KeyRoleConfig declares the parties a user holds a key role for.
type KeyRoleConfig struct {
	User    int   `yaml:"user"`
	Parties []int `yaml:"parties"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to read config: %v", err)
	}

	cfg := Config{}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to parse config: %v", err)
	}

	if cfg.DataDir == "" {
		return Config{}, xerrors.New("datadir is required")
	}

	return cfg, nil
}

// Directories builds the in-memory directories from the configuration.
func (c Config) Directories() (directory.InMemoryResources, directory.InMemoryParties, directory.InMemoryRoles) {
	resources := directory.InMemoryResources{}
	for _, res := range c.Resources {
		if res.ID != "" {
			resources[res.ID] = directory.Resource{
				ID:        res.ID,
				Active:    !res.Inactive,
				Delegable: true,
			}
		}
	}

	parties := directory.InMemoryParties{}
	for _, p := range c.Parties {
		parties[p.ID] = directory.Party{
			ID:         p.ID,
			UUID:       p.UUID,
			Name:       p.Name,
			OrgNumber:  p.OrgNumber,
			MainUnitID: p.MainUnit,
		}
	}

	roles := directory.InMemoryRoles{
		Roles:    map[int]map[int][]string{},
		KeyRoles: map[int][]int{},
	}
	for _, r := range c.Roles {
		if roles.Roles[r.User] == nil {
			roles.Roles[r.User] = map[int][]string{}
		}

		roles.Roles[r.User][r.Party] = r.Codes
	}
	for _, k := range c.KeyRoles {
		roles.KeyRoles[k.User] = k.Parties
	}

	return resources, parties, roles
}

// BasePolicy builds the base policy document of a resource entry: one permit
// rule per action, allowing every configured role.
func (c ResourceConfig) BasePolicy(ref policy.ResourceRef) policy.Policy {
	subjects := make([]policy.AllOf, len(c.Roles))
	for i, role := range c.Roles {
		subjects[i] = policy.AllOf{{ID: policy.AttrRoleCode, Value: role}}
	}

	doc := policy.Policy{
		ID:        ref.ResourceID(),
		Algorithm: policy.DenyOverrides,
	}

	for _, action := range c.Actions {
		doc.Rules = append(doc.Rules, policy.Rule{
			ID:     ref.ResourceID() + ":" + action,
			Effect: policy.EffectPermit,
			Targets: []policy.Target{
				{Category: policy.Subject, AnyOf: subjects},
				{Category: policy.Resource, AnyOf: []policy.AllOf{ref.Matches()}},
				{Category: policy.Action, AnyOf: []policy.AllOf{
					{{ID: policy.AttrActionID, Value: action}},
				}},
			},
		})
	}

	return doc
}
