package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
)

func universe() types.ScopeSet {
	return types.ScopeSet{
		types.ScopeReadMetadata:  struct{}{},
		types.ScopeReadData:      struct{}{},
		types.ScopeWriteMetadata: struct{}{},
		types.ScopeWriteData:     struct{}{},
		types.ScopeCreate:        struct{}{},
		types.ScopeDelete:        struct{}{},
		types.ScopeAdmin:         struct{}{},
	}
}

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func principal(id string, admin bool) *types.Principal {
	scopes := []types.Scope{types.ScopeReadMetadata}
	if admin {
		scopes = append(scopes, types.ScopeAdmin)
	}
	set := make(types.ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &types.Principal{
		Identities: []types.Identity{{Provider: "local", ID: strings.TrimPrefix(id, "local:")}},
		Roles:      []types.Role{{Name: "r", Scopes: set}},
	}
}

func TestCompileSimpleTagGrantsScopes(t *testing.T) {
	doc := &Document{
		Tags: map[string]TagDoc{
			"proj-a": {
				Users: map[string]TagUserEntry{
					"local:alice": {Scopes: []string{"read:metadata", "read:data"}},
				},
			},
		},
		TagOwners: map[string]TagOwnerDoc{
			"proj-a": {Users: []string{"local:alice"}},
		},
	}

	c := NewCompiler(universe(), nil)
	state, err := c.Compile(doc)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !state.Tags["proj-a"]["local:alice"].Has(types.ScopeReadData) {
		t.Error("expected alice to hold read:data via proj-a")
	}
}

func TestCompileDetectsCycle(t *testing.T) {
	doc := &Document{
		Tags: map[string]TagDoc{
			"a": {AutoTags: []string{"b"}},
			"b": {AutoTags: []string{"a"}},
		},
	}
	c := NewCompiler(universe(), nil)
	if _, err := c.Compile(doc); err == nil {
		t.Fatal("expected a cycle-detection error")
	}
}

func TestCompilePublicTagPropagatesUpward(t *testing.T) {
	doc := &Document{
		Tags: map[string]TagDoc{
			"base":   {AutoTags: []string{"public"}},
			"parent": {AutoTags: []string{"base"}},
		},
	}
	c := NewCompiler(universe(), nil)
	state, err := c.Compile(doc)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := state.Public["parent"]; !ok {
		t.Error("expected parent to inherit public through base")
	}
}

func TestCompileRoleReference(t *testing.T) {
	doc := &Document{
		Roles: map[string]RoleDoc{
			"viewer": {Scopes: []string{"read:metadata"}},
		},
		Tags: map[string]TagDoc{
			"proj-a": {
				Users: map[string]TagUserEntry{
					"local:bob": {Role: "viewer"},
				},
			},
		},
	}
	c := NewCompiler(universe(), nil)
	state, err := c.Compile(doc)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Tags["proj-a"]["local:bob"].Has(types.ScopeReadMetadata) {
		t.Error("expected bob to inherit read:metadata via the viewer role")
	}
}

func TestCompileRejectsOutOfUniverseScope(t *testing.T) {
	small := types.ScopeSet{types.ScopeReadMetadata: struct{}{}}
	doc := &Document{
		Tags: map[string]TagDoc{
			"proj-a": {
				Users: map[string]TagUserEntry{
					"local:alice": {Scopes: []string{"admin"}},
				},
			},
		},
	}
	c := NewCompiler(small, nil)
	if _, err := c.Compile(doc); err == nil {
		t.Fatal("expected rejection of a scope outside the universe")
	}
}

func newTestPolicy(t *testing.T, yamlContent string) *Policy {
	t.Helper()
	path := writePolicyFile(t, yamlContent)
	p := New(path, NewCompiler(universe(), nil))
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return p
}

func TestInitNodeDerivesUserOwnershipWhenAbsent(t *testing.T) {
	p := newTestPolicy(t, "tags: {}\n")
	alice := principal("local:alice", false)

	modified, blob, err := p.InitNode(alice, nil, nil)
	if err != nil {
		t.Fatalf("InitNode() error = %v", err)
	}
	if !modified || blob.User != "local:alice" {
		t.Errorf("InitNode = (%v, %+v), want derived user ownership", modified, blob)
	}
}

func TestInitNodeRejectsUnownedTag(t *testing.T) {
	p := newTestPolicy(t, `
tags:
  proj-a:
    users:
      local:alice:
        scopes: ["read:metadata"]
tag_owners:
  proj-a:
    users: ["local:alice"]
`)
	bob := principal("local:bob", false)
	_, _, err := p.InitNode(bob, nil, &types.AccessBlob{Tags: []string{"proj-a"}})
	if err == nil {
		t.Fatal("expected rejection: bob does not own proj-a")
	}
}

func TestInitNodePreventsSelfLockout(t *testing.T) {
	p := newTestPolicy(t, `
tags:
  proj-a:
    users:
      local:alice:
        scopes: ["read:data"]
tag_owners:
  proj-a:
    users: ["local:alice"]
`)
	alice := principal("local:alice", false)
	_, _, err := p.InitNode(alice, nil, &types.AccessBlob{Tags: []string{"proj-a"}})
	if err == nil {
		t.Fatal("expected rejection: proj-a does not grant write:metadata, a required unremovable scope")
	}
}

func TestInitNodeAdminBypassesOwnership(t *testing.T) {
	p := newTestPolicy(t, `
tags:
  proj-a:
    users:
      local:alice:
        scopes: ["read:metadata"]
tag_owners:
  proj-a:
    users: ["local:alice"]
`)
	admin := principal("local:root", true)
	_, blob, err := p.InitNode(admin, nil, &types.AccessBlob{Tags: []string{"proj-a"}})
	if err != nil {
		t.Fatalf("InitNode() error = %v", err)
	}
	if len(blob.Tags) != 1 || blob.Tags[0] != "proj-a" {
		t.Errorf("blob = %+v, want tags=[proj-a]", blob)
	}
}

func TestAllowedScopesUserOwnedNode(t *testing.T) {
	p := newTestPolicy(t, "tags: {}\n")
	alice := principal("local:alice", false)
	bob := principal("local:bob", false)
	node := &types.Node{AccessBlob: &types.AccessBlob{User: "local:alice"}}

	if got := p.AllowedScopes(node, alice, universe()); len(got) != len(universe()) {
		t.Errorf("owner should receive full scopes, got %v", got)
	}
	if got := p.AllowedScopes(node, bob, universe()); len(got) != 0 {
		t.Errorf("non-owner should receive no scopes, got %v", got)
	}
}

func TestAllowedScopesPublicTagGrantsRead(t *testing.T) {
	p := newTestPolicy(t, `
tags:
  open:
    auto_tags: ["public"]
`)
	stranger := principal("local:stranger", false)
	node := &types.Node{AccessBlob: &types.AccessBlob{Tags: []string{"open"}}}

	got := p.AllowedScopes(node, stranger, universe())
	if !got.Has(types.ScopeReadMetadata) || !got.Has(types.ScopeReadData) {
		t.Errorf("expected public-tag read scopes, got %v", got)
	}
	if got.Has(types.ScopeWriteMetadata) {
		t.Error("public tag must not grant write scopes")
	}
}

func TestFiltersReturnsAccessBlobFilterForNonAdmin(t *testing.T) {
	p := newTestPolicy(t, `
tags:
  proj-a:
    users:
      local:alice:
        scopes: ["read:metadata", "read:data"]
`)
	alice := principal("local:alice", false)
	filters, err := p.Filters(alice, universe(), types.ScopeSet{types.ScopeReadMetadata: struct{}{}})
	if err != nil {
		t.Fatalf("Filters() error = %v", err)
	}
	if len(filters) != 1 {
		t.Fatalf("expected exactly one filter, got %d", len(filters))
	}
}

func TestFiltersEmptyForAdmin(t *testing.T) {
	p := newTestPolicy(t, "tags: {}\n")
	admin := principal("local:root", true)
	filters, err := p.Filters(admin, universe(), types.ScopeSet{types.ScopeReadMetadata: struct{}{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(filters) != 0 {
		t.Errorf("expected no filters for admin, got %v", filters)
	}
}

func TestFiltersNoAccessOutsideUniverse(t *testing.T) {
	p := newTestPolicy(t, "tags: {}\n")
	alice := principal("local:alice", false)
	outside := types.ScopeSet{"not-a-real-scope": struct{}{}}
	if _, err := p.Filters(alice, universe(), outside); err != ErrNoAccess {
		t.Errorf("Filters() error = %v, want ErrNoAccess", err)
	}
}

// TestPartialUpdateAddsWithoutRemoving: the partial-update cycle
// folds newly-seen tags into the published State but never removes
// anything already loaded; only a full reload replaces the State
// wholesale.
func TestPartialUpdateAddsWithoutRemoving(t *testing.T) {
	ctx := context.Background()
	path := writePolicyFile(t, `
tags:
  proj-a:
    users:
      local:alice:
        scopes: ["read:metadata"]
`)
	p := New(path, NewCompiler(universe(), nil))
	if err := p.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// The document now drops proj-a and introduces proj-b.
	if err := os.WriteFile(path, []byte(`
tags:
  proj-b:
    users:
      local:bob:
        scopes: ["read:data"]
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.PartialUpdate(ctx); err != nil {
		t.Fatalf("PartialUpdate() error = %v", err)
	}
	state := p.Current()
	if _, ok := state.Tags["proj-a"]; !ok {
		t.Error("partial update removed proj-a; it must only add")
	}
	if !state.Tags["proj-b"]["local:bob"].Has(types.ScopeReadData) {
		t.Error("partial update did not add proj-b")
	}
	if _, ok := state.ReverseScopes[types.ScopeReadMetadata]["local:alice"]["proj-a"]; !ok {
		t.Error("partial update dropped the retained tag's reverse-index entry")
	}

	// A full reload replaces the State: proj-a is gone.
	if err := p.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := p.Current().Tags["proj-a"]; ok {
		t.Error("full reload kept proj-a; it must replace wholesale")
	}
}
