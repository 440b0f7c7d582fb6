package httpapi

import (
	"context"
	"strings"

	"github.com/gorilla/mux"
	"net/http"

	"github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/catalog"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// pathSegments splits the {path:.*} route variable into its
// component keys, dropping empty segments so both "/a/b" and "a/b/"
// resolve the same way.
func pathSegments(r *http.Request) []string {
	raw := mux.Vars(r)["path"]
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveNode loads the Node at segments, synthesizing the virtual
// root node (the root need not have a materialized row) when
// segments is empty and no row exists.
func (d *Deps) resolveNode(ctx context.Context, segments []string) (*types.Node, error) {
	node, err := d.Catalog.GetNodeByPath(ctx, segments)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "httpapi: load node", err)
	}
	if node == nil {
		if len(segments) == 0 {
			return &types.Node{StructureFamily: types.StructureFamilyContainer}, nil
		}
		return nil, apierr.NotFound("httpapi: no such node")
	}
	return node, nil
}

// lookupAdapter resolves segments to their Adapter via the catalog's
// root container adapter (lookup_adapter).
func (d *Deps) lookupAdapter(ctx context.Context, segments []string) (adapter.Adapter, error) {
	root := catalog.NewRootAdapter(d.Catalog, d.Registry)
	a, err := root.LookupAdapter(ctx, segments)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "httpapi: resolve adapter", err)
	}
	if a == nil {
		return nil, apierr.NotFound("httpapi: no such node")
	}
	return a, nil
}

// authorize resolves the request's principal and requires that it
// hold scope over node, per the policy engine. Returns the
// principal's full allowed scope set for
// the node so handlers can report it or narrow further.
func (d *Deps) authorize(r *http.Request, node *types.Node, scope types.Scope) (*types.Principal, types.ScopeSet, error) {
	principal, authnScopes, err := requirePrincipal(r.Context())
	if err != nil {
		return nil, nil, err
	}
	allowed := d.Policy.AllowedScopes(node, principal, d.ScopeUniverse)
	effective := allowed.Intersect(authnScopes)
	if !effective.Has(scope) {
		denyLog := log.WithNode(log.WithPrincipal(d.logger, principal.Identifier()), node.Key)
		denyLog.Warn().Str("scope", string(scope)).Msg("access denied")
		return nil, nil, apierr.Forbidden("httpapi: principal lacks required scope " + string(scope))
	}
	return principal, effective, nil
}
