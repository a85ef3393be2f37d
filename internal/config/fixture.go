package config

import (
	"encoding/json"
	"os"

	"github.com/gravitational/trace"
)

// Fixture is the on-disk shape of an InMemoryProvider's contents. The admin
// REST CRUD and SQL-backed Provider implementation are out of scope (spec
// §1); Fixture is the minimal persistence this repo needs so `warpgate
// setup`'s bootstrapped entities survive a `warpgate run` restart without
// pretending to be that SQL layer.
type Fixture struct {
	Users   []*User     `json:"users"`
	Targets []*Target   `json:"targets"`
	Roles   []*Role     `json:"roles"`
	Grants  []RoleGrant `json:"grants"`
}

// ToFixture snapshots p's contents.
func (p *InMemoryProvider) ToFixture() *Fixture {
	f := &Fixture{Grants: append([]RoleGrant(nil), p.Grants...)}
	for _, u := range p.Users {
		f.Users = append(f.Users, u)
	}
	for _, t := range p.Targets {
		f.Targets = append(f.Targets, t)
	}
	for _, r := range p.Roles {
		f.Roles = append(f.Roles, r)
	}
	return f
}

// SaveFixture writes p's contents to path as JSON.
func SaveFixture(path string, p *InMemoryProvider) error {
	data, err := json.MarshalIndent(p.ToFixture(), "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return trace.Wrap(err, "writing fixture %q", path)
	}
	return nil
}

// LoadFixture reads path and builds an InMemoryProvider from it. A missing
// file yields an empty provider rather than an error, matching a fresh
// `warpgate run` before `setup` has bootstrapped anything.
func LoadFixture(path string) (*InMemoryProvider, error) {
	p := NewInMemoryProvider()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, trace.Wrap(err, "reading fixture %q", path)
	}

	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, trace.Wrap(err, "parsing fixture %q", path)
	}
	for _, u := range f.Users {
		p.PutUser(u)
	}
	for _, t := range f.Targets {
		p.PutTarget(t)
	}
	for _, r := range f.Roles {
		p.PutRole(r)
	}
	for _, g := range f.Grants {
		p.PutGrant(g)
	}
	return p, nil
}
