package httpapi

import (
	"net/http"
	"strings"

	ad "github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/catalog"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/types"
)

// searchItem is one row in a search/listing response.
type searchItem struct {
	Key             string         `json:"key"`
	StructureFamily string         `json:"structure_family"`
	Metadata        map[string]any `json:"metadata"`
	Specs           []string       `json:"specs"`
}

type searchDocument struct {
	Data  []searchItem `json:"data"`
	Links pageLinks    `json:"links"`
	Meta  pageMeta     `json:"meta"`
}

// handleSearch serves both container listing (no query filters beyond
// access control) and filtered search under the same route, per
// : "container listing (/api/v1/search/{path} without filters)".
func (d *Deps) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}

	principal, _, err := d.authorize(r, node, types.ScopeReadMetadata)
	if err != nil {
		writeError(w, err)
		return
	}

	requested := types.NewScopeSet(types.ScopeReadMetadata)
	filters, err := d.Policy.Filters(principal, d.ScopeUniverse, requested)
	if err != nil {
		if err == policy.ErrNoAccess {
			writeError(w, apierr.Forbidden("httpapi: principal has no matching access to search this path"))
			return
		}
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: compute search filters", err))
		return
	}

	var container ad.ContainerAdapter = catalog.NewRootAdapter(d.Catalog, d.Registry)
	if len(segments) > 0 {
		a, err := d.lookupAdapter(ctx, segments)
		if err != nil {
			writeError(w, err)
			return
		}
		c, ok := a.(ad.ContainerAdapter)
		if !ok {
			writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: path does not resolve to a container"))
			return
		}
		container = c
	}

	for _, q := range filters {
		container, err = container.Search(ctx, q)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: apply search filter", err))
			return
		}
	}

	// User-supplied composable metadata filters (filter[name][condition][field]
	// query parameters) conjoin with the access-policy filters already
	// applied above: the composition law guarantees this is
	// equivalent to evaluating a single And of everything at once.
	userQuery, err := parseSearchFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if userQuery != nil {
		container, err = container.Search(ctx, userQuery)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: apply search filter", err))
			return
		}
	}

	if ordering := parseSortParam(r.URL.Query().Get("sort")); len(ordering) > 0 {
		container, err = container.Sort(ctx, ordering)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: apply sort", err))
			return
		}
	}

	offset, limit := parsePage(r)
	count, err := container.Len(ctx)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: count search results", err))
		return
	}
	items, err := container.ItemsRange(ctx, offset, limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: list search results", err))
		return
	}

	data := make([]searchItem, len(items))
	for i, it := range items {
		data[i] = searchItem{
			Key:             it.Key,
			StructureFamily: string(it.Adapter.StructureFamily()),
			Metadata:        it.Adapter.Metadata(),
			Specs:           it.Adapter.Specs(),
		}
	}

	writeJSON(w, http.StatusOK, searchDocument{
		Data:  data,
		Links: buildPageLinks(r.URL.Path, offset, limit, count),
		Meta:  pageMeta{Count: count},
	})
}

// parseSortParam reads a comma-separated sort list ("color,-id" means
// ascending on the metadata path color, then descending by key) into
// the adapter's SortKey ordering. A bare "-" entry sets the
// tiebreaker direction.
func parseSortParam(raw string) []ad.SortKey {
	if raw == "" {
		return nil
	}
	var out []ad.SortKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		direction := 1
		if strings.HasPrefix(part, "-") {
			direction = -1
			part = part[1:]
		}
		out = append(out, ad.SortKey{Path: part, Direction: direction})
	}
	return out
}
