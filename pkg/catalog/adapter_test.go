package catalog

import (
	"context"
	"testing"

	ad "github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/query"
	"github.com/cuemby/burrow/pkg/types"
)

type stubArrayAdapter struct {
	ad.Base
}

func newTestRegistry() *ad.Registry {
	r := ad.NewRegistry()
	r.Register("application/x-stub-array", func(paths []string, structureData, metadata map[string]any, specs []string, access ad.AccessChecker) (ad.Adapter, error) {
		return &stubArrayAdapter{ad.Base{Family: types.StructureFamilyArray, MetadataMap: metadata, SpecsList: specs}}, nil
	})
	return r
}

func TestRootAdapterItemsRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		_, err := s.CreateNode(ctx, &types.Node{Key: name, StructureFamily: types.StructureFamilyContainer, Metadata: map[string]any{}})
		if err != nil {
			t.Fatal(err)
		}
	}

	root := NewRootAdapter(s, newTestRegistry())
	items, err := root.ItemsRange(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ItemsRange() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestRootAdapterLookupAdapterLeaf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	nodeID, err := s.CreateNode(ctx, &types.Node{Key: "arr", StructureFamily: types.StructureFamilyArray, Metadata: map[string]any{"k": "v"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateDataSource(ctx, nodeID, &types.DataSource{
		MimeType:   "application/x-stub-array",
		Structure:  map[string]any{},
		Parameters: map[string]any{},
		Management: types.ManagementExternal,
	}); err != nil {
		t.Fatal(err)
	}

	root := NewRootAdapter(s, newTestRegistry())
	a, err := root.LookupAdapter(ctx, []string{"arr"})
	if err != nil {
		t.Fatalf("LookupAdapter() error = %v", err)
	}
	if a == nil {
		t.Fatal("expected to resolve the array adapter")
	}
	if a.StructureFamily() != types.StructureFamilyArray {
		t.Errorf("StructureFamily = %v, want Array", a.StructureFamily())
	}
}

func TestRootAdapterSearchFiltersChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, pair := range []struct{ key, label string }{{"a", "x"}, {"b", "y"}} {
		_, err := s.CreateNode(ctx, &types.Node{Key: pair.key, StructureFamily: types.StructureFamilyContainer, Metadata: map[string]any{"label": pair.label}})
		if err != nil {
			t.Fatal(err)
		}
	}

	root := NewRootAdapter(s, newTestRegistry())
	filtered, err := root.Search(ctx, query.Eq{Path: []string{"label"}, Value: "y"})
	if err != nil {
		t.Fatal(err)
	}
	keys, err := filtered.KeysRange(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "b" {
		t.Errorf("KeysRange after Search = %v, want [b]", keys)
	}
}
