package httpapi

import (
	"net/http"

	ad "github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/types"
)

// metadataResponse mirrors the node-plus-structure document // describes: enough for a client to decide what family-specific
// endpoint to call next.
type metadataResponse struct {
	Path            []string       `json:"path"`
	StructureFamily string         `json:"structure_family"`
	Metadata        map[string]any `json:"metadata"`
	Specs           []string       `json:"specs"`
	Structure       any            `json:"structure,omitempty"`
	Scopes          []string       `json:"scopes"`
}

func (d *Deps) handleMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}

	_, scopes, err := d.authorize(r, node, types.ScopeReadMetadata)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := metadataResponse{
		Path:            segments,
		StructureFamily: string(node.StructureFamily),
		Metadata:        node.Metadata,
		Specs:           node.Specs,
		Scopes:          scopeNames(scopes),
	}

	a, err := d.lookupAdapter(ctx, segments)
	if err == nil {
		switch typed := a.(type) {
		case ad.ArrayAdapter:
			resp.Structure = typed.Structure()
		case ad.TableAdapter:
			resp.Structure = typed.Structure()
		}
	}

	body, etag := marshalWithETag(resp)
	if ifNoneMatchHit(r, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSONBytes(w, http.StatusOK, body)
}

func scopeNames(s types.ScopeSet) []string {
	out := make([]string, 0, len(s))
	for sc := range s {
		out = append(out, string(sc))
	}
	return out
}
