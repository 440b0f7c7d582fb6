package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	ad "github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/adapter/builtin"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

func fullScopeUniverse() types.ScopeSet {
	return types.NewScopeSet(types.ScopeReadMetadata, types.ScopeReadData,
		types.ScopeWriteMetadata, types.ScopeWriteData,
		types.ScopeCreate, types.ScopeDelete, types.ScopeAdmin)
}

// newNodeTestDeps builds a Deps wired against a real SQLite catalog,
// the builtin adapters, and a temp writable storage root.
func newNodeTestDeps(t *testing.T) *Deps {
	t.Helper()
	store := newSearchTestStore(t)
	registry := ad.NewRegistry()
	builtin.Register(registry)

	cfg := config.DefaultConfig()
	cfg.WritableStorage = t.TempDir()
	cfg.ReadableStorage = []string{t.TempDir()}

	return &Deps{
		Catalog:       store,
		Policy:        newSearchTestPolicy(t),
		Registry:      registry,
		Pool:          ad.NewPool(4),
		Config:        cfg,
		ScopeUniverse: fullScopeUniverse(),
		logger:        log.WithComponent("httpapi"),
	}
}

func writerPrincipal() *types.Principal {
	return &types.Principal{
		InternalID: 1,
		UUID:       "alice-uuid",
		Type:       types.PrincipalTypeUser,
		Identities: []types.Identity{{Provider: "local", ID: "alice"}},
		Roles: []types.Role{{Name: "user", Scopes: types.NewScopeSet(types.ScopeReadMetadata, types.ScopeReadData,
			types.ScopeWriteMetadata, types.ScopeWriteData,
			types.ScopeCreate, types.ScopeDelete)}},
	}
}

func adminPrincipal() *types.Principal {
	return &types.Principal{
		InternalID: 2,
		UUID:       "root-uuid",
		Type:       types.PrincipalTypeUser,
		Identities: []types.Identity{{Provider: "local", ID: "root"}},
		Roles:      []types.Role{{Name: "admin", Scopes: fullScopeUniverse()}},
	}
}

// authedRequest builds a request with principal resolved, the way the
// authentication middleware would leave it, with {path} set as a mux
// route variable.
func authedRequest(method, target, path string, body []byte, principal *types.Principal) *http.Request {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = mux.SetURLVars(req, map[string]string{"path": path})
	return req.WithContext(withPrincipal(req.Context(), principal, principal.EffectiveScopes(), nil))
}

func TestHandleCreateNodeAndCollision(t *testing.T) {
	deps := newNodeTestDeps(t)
	alice := writerPrincipal()

	body, _ := json.Marshal(createNodeRequest{
		Key:             "a",
		StructureFamily: "container",
		Metadata:        map[string]any{"color": "red"},
	})

	w := httptest.NewRecorder()
	deps.handleCreateNode(w, authedRequest(http.MethodPost, "/api/v1/metadata/", "", body, alice))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp createNodeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// No access_blob requested: init_node derives single-user ownership.
	if resp.AccessBlob == nil || resp.AccessBlob.User != "local:alice" {
		t.Errorf("access_blob = %+v, want user local:alice", resp.AccessBlob)
	}

	// Same (ancestors, key) again: 409, and no partial state.
	w = httptest.NewRecorder()
	deps.handleCreateNode(w, authedRequest(http.MethodPost, "/api/v1/metadata/", "", body, alice))
	if w.Code != http.StatusConflict {
		t.Fatalf("collision status = %d, want 409", w.Code)
	}
	count, err := deps.Catalog.Len(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("root child count after collision = %d, want 1", count)
	}
}

func TestHandleCreateWritableArrayNodeEndToEnd(t *testing.T) {
	deps := newNodeTestDeps(t)
	alice := writerPrincipal()

	body, _ := json.Marshal(createNodeRequest{
		Key:             "x",
		StructureFamily: "array",
		Metadata:        map[string]any{},
		DataSources: []dataSourceRequest{{
			MimeType: builtin.BlocksMimeType,
			Structure: map[string]any{
				"shape":     []any{float64(4)},
				"chunks":    []any{[]any{float64(2), float64(2)}},
				"data_type": map[string]any{"kind": "u", "itemsize": float64(1)},
			},
			Management: "writable",
		}},
	})

	w := httptest.NewRecorder()
	deps.handleCreateNode(w, authedRequest(http.MethodPost, "/api/v1/metadata/", "", body, alice))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	// The initializer laid down a block directory under writable_storage.
	if _, err := os.Stat(filepath.Join(deps.Config.WritableStorage, "x")); err != nil {
		t.Fatalf("expected storage directory: %v", err)
	}

	// Write block 1, read it back through the HTTP handlers.
	w = httptest.NewRecorder()
	deps.handleWriteArrayBlock(w, authedRequest(http.MethodPut, "/api/v1/array/block/x?block=1", "x", []byte{9, 8}, alice))
	if w.Code != http.StatusNoContent {
		t.Fatalf("write block status = %d, body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	deps.handleArrayBlock(w, authedRequest(http.MethodGet, "/api/v1/array/block/x?block=1", "x", nil, alice))
	if w.Code != http.StatusOK {
		t.Fatalf("read block status = %d, body = %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(w.Body.Bytes(), []byte{9, 8}) {
		t.Errorf("read block = %v, want [9 8]", w.Body.Bytes())
	}

	// Out-of-range block: 422.
	w = httptest.NewRecorder()
	deps.handleArrayBlock(w, authedRequest(http.MethodGet, "/api/v1/array/block/x?block=999", "x", nil, alice))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("out-of-range block status = %d, want 422", w.Code)
	}
}

func TestHandleCreateNodeRejectsUnregisteredWritableMimetype(t *testing.T) {
	deps := newNodeTestDeps(t)
	alice := writerPrincipal()

	body, _ := json.Marshal(createNodeRequest{
		Key:             "x",
		StructureFamily: "array",
		DataSources: []dataSourceRequest{{
			MimeType:   "application/x-nope",
			Structure:  map[string]any{},
			Management: "writable",
		}},
	})
	w := httptest.NewRecorder()
	deps.handleCreateNode(w, authedRequest(http.MethodPost, "/api/v1/metadata/", "", body, alice))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	// The node row was rolled back.
	count, err := deps.Catalog.Len(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("root child count after failed create = %d, want 0", count)
	}
}

func TestHandleUpdateNodeMetadataWritesRevision(t *testing.T) {
	deps := newNodeTestDeps(t)
	alice := writerPrincipal()
	ctx := context.Background()

	nodeID, err := deps.Catalog.CreateNode(ctx, &types.Node{
		Key: "n", StructureFamily: types.StructureFamilyContainer,
		Metadata: map[string]any{"v": "old"},
	})
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(updateNodeRequest{Metadata: map[string]any{"v": "new"}})
	w := httptest.NewRecorder()
	deps.handleUpdateNode(w, authedRequest(http.MethodPatch, "/api/v1/metadata/n", "n", body, alice))
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp updateNodeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Revision != 1 {
		t.Errorf("revision = %d, want 1", resp.Revision)
	}

	revisions, err := deps.Catalog.Revisions(ctx, nodeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(revisions) != 1 || revisions[0].Metadata["v"] != "old" {
		t.Errorf("revisions = %+v, want one mirroring the pre-update metadata", revisions)
	}
	node, err := deps.Catalog.GetNode(ctx, nodeID)
	if err != nil {
		t.Fatal(err)
	}
	if node.Metadata["v"] != "new" {
		t.Errorf("node metadata = %v, want updated value", node.Metadata)
	}
}

func TestHandleUpdateNodeAccessBlobAsAdmin(t *testing.T) {
	deps := newNodeTestDeps(t)
	root := adminPrincipal()
	ctx := context.Background()

	if _, err := deps.Catalog.CreateNode(ctx, &types.Node{
		Key: "n", StructureFamily: types.StructureFamilyContainer,
		Metadata:   map[string]any{},
		AccessBlob: &types.AccessBlob{User: "local:root"},
	}); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(updateNodeRequest{AccessBlob: &types.AccessBlob{Tags: []string{"team-a"}}})
	w := httptest.NewRecorder()
	deps.handleUpdateNode(w, authedRequest(http.MethodPatch, "/api/v1/metadata/n", "n", body, root))
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}

	node, err := deps.Catalog.GetNodeByPath(ctx, []string{"n"})
	if err != nil {
		t.Fatal(err)
	}
	if node.AccessBlob == nil || len(node.AccessBlob.Tags) != 1 || node.AccessBlob.Tags[0] != "team-a" {
		t.Errorf("access_blob = %+v, want tags [team-a]", node.AccessBlob)
	}
}

// TestHandleDeleteTreeInternalAssets: a subtree
// holding internally-managed data refuses the default delete and is
// removed, files included, with external_only=false.
func TestHandleDeleteTreeInternalAssets(t *testing.T) {
	deps := newNodeTestDeps(t)
	alice := writerPrincipal()
	ctx := context.Background()

	// Container c with writable array child x, created through the
	// handlers so storage initialization runs for real.
	body, _ := json.Marshal(createNodeRequest{Key: "c", StructureFamily: "container"})
	w := httptest.NewRecorder()
	deps.handleCreateNode(w, authedRequest(http.MethodPost, "/api/v1/metadata/", "", body, alice))
	if w.Code != http.StatusCreated {
		t.Fatalf("create c status = %d", w.Code)
	}

	body, _ = json.Marshal(createNodeRequest{
		Key:             "x",
		StructureFamily: "array",
		DataSources: []dataSourceRequest{{
			MimeType: builtin.BlocksMimeType,
			Structure: map[string]any{
				"shape":     []any{float64(2)},
				"chunks":    []any{[]any{float64(2)}},
				"data_type": map[string]any{"kind": "u", "itemsize": float64(1)},
			},
			Management: "writable",
		}},
	})
	w = httptest.NewRecorder()
	deps.handleCreateNode(w, authedRequest(http.MethodPost, "/api/v1/metadata/c", "c", body, alice))
	if w.Code != http.StatusCreated {
		t.Fatalf("create c/x status = %d, body = %s", w.Code, w.Body.String())
	}
	storageDir := filepath.Join(deps.Config.WritableStorage, "c", "x")
	if _, err := os.Stat(storageDir); err != nil {
		t.Fatalf("expected storage directory: %v", err)
	}

	// Default external_only=true: refused, nothing changes.
	w = httptest.NewRecorder()
	deps.handleDeleteTree(w, authedRequest(http.MethodDelete, "/api/v1/nodes/c", "c", nil, alice))
	if w.Code != http.StatusConflict {
		t.Fatalf("guarded delete status = %d, want 409", w.Code)
	}
	if _, err := deps.Catalog.GetNodeByPath(ctx, []string{"c", "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(storageDir); err != nil {
		t.Errorf("guarded delete touched files: %v", err)
	}

	// external_only=false: rows and files both go.
	w = httptest.NewRecorder()
	deps.handleDeleteTree(w, authedRequest(http.MethodDelete, "/api/v1/nodes/c?external_only=false", "c", nil, alice))
	if w.Code != http.StatusNoContent {
		t.Fatalf("forced delete status = %d, body = %s", w.Code, w.Body.String())
	}
	node, err := deps.Catalog.GetNodeByPath(ctx, []string{"c"})
	if err != nil {
		t.Fatal(err)
	}
	if node != nil {
		t.Error("node c still present after forced delete")
	}
	if _, err := os.Stat(storageDir); !os.IsNotExist(err) {
		t.Errorf("storage directory still present after forced delete: %v", err)
	}
}

func TestHandleDeleteNodeRefusesWithChildren(t *testing.T) {
	deps := newNodeTestDeps(t)
	alice := writerPrincipal()
	ctx := context.Background()

	if _, err := deps.Catalog.CreateNode(ctx, &types.Node{
		Key: "c", StructureFamily: types.StructureFamilyContainer, Metadata: map[string]any{},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := deps.Catalog.CreateNode(ctx, &types.Node{
		Key: "k", Ancestors: []string{"c"}, StructureFamily: types.StructureFamilyContainer, Metadata: map[string]any{},
	}); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	deps.handleDeleteNode(w, authedRequest(http.MethodDelete, "/api/v1/metadata/c", "c", nil, alice))
	if w.Code != http.StatusConflict {
		t.Fatalf("delete-with-children status = %d, want 409", w.Code)
	}

	w = httptest.NewRecorder()
	deps.handleDeleteNode(w, authedRequest(http.MethodDelete, "/api/v1/metadata/c/k", "c/k", nil, alice))
	if w.Code != http.StatusNoContent {
		t.Fatalf("leaf delete status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleDistinctFacets(t *testing.T) {
	deps := newNodeTestDeps(t)
	alice := writerPrincipal()
	ctx := context.Background()

	for _, seed := range []struct {
		key    string
		color  string
		family types.StructureFamily
	}{
		{"n1", "red", types.StructureFamilyContainer},
		{"n2", "red", types.StructureFamilyContainer},
		{"n3", "blue", types.StructureFamilyComposite},
	} {
		if _, err := deps.Catalog.CreateNode(ctx, &types.Node{
			Key: seed.key, StructureFamily: seed.family,
			Metadata: map[string]any{"color": seed.color},
		}); err != nil {
			t.Fatal(err)
		}
	}

	target := "/api/v1/distinct/?metadata=color&structure_families=true&counts=true"
	w := httptest.NewRecorder()
	deps.handleDistinct(w, authedRequest(http.MethodGet, target, "", nil, alice))
	if w.Code != http.StatusOK {
		t.Fatalf("distinct status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp distinctResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	colors := map[string]int{}
	for _, e := range resp.Metadata["color"] {
		colors[e.Value] = e.Count
	}
	if colors["red"] != 2 || colors["blue"] != 1 {
		t.Errorf("color facets = %v, want red:2 blue:1", colors)
	}
	families := map[string]int{}
	for _, e := range resp.StructureFamilies {
		families[e.Value] = e.Count
	}
	if families["container"] != 2 || families["composite"] != 1 {
		t.Errorf("family facets = %v, want container:2 composite:1", families)
	}
}
