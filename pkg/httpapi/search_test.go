package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	ad "github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/catalog"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/types"
)

func newSearchTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := catalog.Open(context.Background(), "sqlite:"+filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSearchTestPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
tags:
  team-a:
    users:
      local:alice:
        scopes: ["read:metadata", "read:data"]
tag_owners:
  team-a:
    users: ["local:alice"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	universe := types.ScopeSet{
		types.ScopeReadMetadata: struct{}{},
		types.ScopeReadData:     struct{}{},
		types.ScopeAdmin:        struct{}{},
	}
	p := policy.New(path, policy.NewCompiler(universe, nil))
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return p
}

// aliceScopeUniverse is the scope universe shared by the test Deps and
// the test policy above.
func aliceScopeUniverse() types.ScopeSet {
	return types.ScopeSet{
		types.ScopeReadMetadata: struct{}{},
		types.ScopeReadData:     struct{}{},
		types.ScopeAdmin:        struct{}{},
	}
}

// TestHandleSearchAppliesAccessPolicyFilter is the end-to-end
// regression this review asked for: a non-admin principal searching
// the root container must see exactly the nodes her access policy
// grants her, through the real HTTP handler, not just the in-memory
// query evaluator in isolation. Before the AccessBlobFilter fix this
// returned zero results for every non-admin principal.
func TestHandleSearchAppliesAccessPolicyFilter(t *testing.T) {
	store := newSearchTestStore(t)
	pol := newSearchTestPolicy(t)
	ctx := context.Background()

	type seed struct {
		key  string
		blob *types.AccessBlob
	}
	for _, n := range []seed{
		{"open", nil},
		{"mine", &types.AccessBlob{User: "local:alice"}},
		{"theirs", &types.AccessBlob{User: "local:bob"}},
		{"tagged-a", &types.AccessBlob{Tags: []string{"team-a"}}},
		{"tagged-b", &types.AccessBlob{Tags: []string{"team-b"}}},
	} {
		if _, err := store.CreateNode(ctx, &types.Node{
			Key:             n.key,
			StructureFamily: types.StructureFamilyContainer,
			Metadata:        map[string]any{},
			AccessBlob:      n.blob,
		}); err != nil {
			t.Fatalf("CreateNode(%s) error = %v", n.key, err)
		}
	}

	deps := &Deps{
		Catalog:       store,
		Policy:        pol,
		Registry:      ad.NewRegistry(),
		ScopeUniverse: aliceScopeUniverse(),
	}

	alice := &types.Principal{
		UUID:       "alice-uuid",
		Identities: []types.Identity{{Provider: "local", ID: "alice"}},
		Roles:      []types.Role{{Name: "user", Scopes: types.NewScopeSet(types.ScopeReadMetadata, types.ScopeReadData)}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/", nil)
	req = req.WithContext(withPrincipal(req.Context(), alice, alice.EffectiveScopes(), nil))
	w := httptest.NewRecorder()

	deps.handleSearch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("handleSearch status = %d, body = %s", w.Code, w.Body.String())
	}
	var doc searchDocument
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	got := make(map[string]bool, len(doc.Data))
	for _, item := range doc.Data {
		got[item.Key] = true
	}
	want := map[string]bool{"open": true, "mine": true, "tagged-a": true}
	if len(got) != len(want) {
		t.Fatalf("handleSearch returned keys %v, want exactly %v", got, want)
	}
	for k := range want {
		if !got[k] {
			t.Errorf("handleSearch missing expected key %q, got %v", k, got)
		}
	}
}

// TestHandleSearchCombinesUserFilterWithAccessPolicy verifies that a
// user-supplied filter[...] query parameter is parsed and conjoined
// with the access-policy filter rather than replacing it: alice can
// only ever see "tagged-a" out of the two structure_family-matching
// nodes, even though her query param alone would match both.
func TestHandleSearchCombinesUserFilterWithAccessPolicy(t *testing.T) {
	store := newSearchTestStore(t)
	pol := newSearchTestPolicy(t)
	ctx := context.Background()

	if _, err := store.CreateNode(ctx, &types.Node{
		Key: "tagged-a", StructureFamily: types.StructureFamilyContainer,
		Metadata: map[string]any{}, AccessBlob: &types.AccessBlob{Tags: []string{"team-a"}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateNode(ctx, &types.Node{
		Key: "tagged-b", StructureFamily: types.StructureFamilyContainer,
		Metadata: map[string]any{}, AccessBlob: &types.AccessBlob{Tags: []string{"team-b"}},
	}); err != nil {
		t.Fatal(err)
	}

	deps := &Deps{
		Catalog:       store,
		Policy:        pol,
		Registry:      ad.NewRegistry(),
		ScopeUniverse: aliceScopeUniverse(),
	}
	alice := &types.Principal{
		UUID:       "alice-uuid",
		Identities: []types.Identity{{Provider: "local", ID: "alice"}},
		Roles:      []types.Role{{Name: "user", Scopes: types.NewScopeSet(types.ScopeReadMetadata, types.ScopeReadData)}},
	}

	target := "/api/v1/search/?" + url.Values{
		"filter[structure_family][condition][value]": {"container"},
	}.Encode()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(withPrincipal(req.Context(), alice, alice.EffectiveScopes(), nil))
	w := httptest.NewRecorder()

	deps.handleSearch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("handleSearch status = %d, body = %s", w.Code, w.Body.String())
	}
	var doc searchDocument
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(doc.Data) != 1 || doc.Data[0].Key != "tagged-a" {
		t.Errorf("handleSearch = %+v, want exactly [tagged-a]", doc.Data)
	}
}
