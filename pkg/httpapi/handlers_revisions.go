package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/types"
)

type revisionItem struct {
	Number    int            `json:"number"`
	Metadata  map[string]any `json:"metadata"`
	Specs     []string       `json:"specs"`
	CreatedAt string         `json:"created_at"`
}

func (d *Deps) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, _, err := d.authorize(r, node, types.ScopeReadMetadata); err != nil {
		writeError(w, err)
		return
	}

	revisions, err := d.Catalog.Revisions(ctx, node.ID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: list revisions", err))
		return
	}

	out := make([]revisionItem, len(revisions))
	for i, rv := range revisions {
		out[i] = revisionItem{
			Number:    rv.Number,
			Metadata:  rv.Metadata,
			Specs:     rv.Specs,
			CreatedAt: rv.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Data []revisionItem `json:"data"`
	}{Data: out})
}

func (d *Deps) handleDeleteRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, _, err := d.authorize(r, node, types.ScopeWriteMetadata); err != nil {
		writeError(w, err)
		return
	}

	number, err := strconv.Atoi(mux.Vars(r)["number"])
	if err != nil {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: invalid revision number"))
		return
	}

	if err := d.Catalog.DeleteRevision(ctx, node.ID, number); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
