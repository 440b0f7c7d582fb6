package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	ad "github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/catalog"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/query"
	"github.com/cuemby/burrow/pkg/types"
)

// assetRequest mirrors types.Asset on the wire.
type assetRequest struct {
	DataURI     string `json:"data_uri"`
	IsDirectory bool   `json:"is_directory"`
}

// dataSourceRequest is the client's description of the storage
// backing a new node. For management=writable the server computes the
// data_uri itself and Assets must be empty; for management=external
// every asset must lie under a configured readable_storage root.
type dataSourceRequest struct {
	MimeType   string         `json:"mimetype"`
	Structure  map[string]any `json:"structure"`
	Parameters map[string]any `json:"parameters"`
	Management string         `json:"management"`
	Assets     []assetRequest `json:"assets"`
}

type createNodeRequest struct {
	Key             string              `json:"key"`
	StructureFamily string              `json:"structure_family"`
	Metadata        map[string]any      `json:"metadata"`
	Specs           []string            `json:"specs"`
	AccessBlob      *types.AccessBlob   `json:"access_blob"`
	DataSources     []dataSourceRequest `json:"data_sources"`
}

type createNodeResponse struct {
	Path       []string          `json:"path"`
	AccessBlob *types.AccessBlob `json:"access_blob"`
}

var knownFamilies = map[types.StructureFamily]bool{
	types.StructureFamilyContainer: true,
	types.StructureFamilyArray:     true,
	types.StructureFamilyTable:     true,
	types.StructureFamilyAwkward:   true,
	types.StructureFamilySparse:    true,
	types.StructureFamilyComposite: true,
}

// handleCreateNode creates a child of the container at {path}
// (create node). The access policy's init_node guard decides
// the access_blob the node is actually stored with; a key collision
// surfaces as 409.
func (d *Deps) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	parent, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	if parent.StructureFamily != types.StructureFamilyContainer && parent.StructureFamily != types.StructureFamilyComposite {
		writeError(w, apierr.Unprocessable("httpapi: parent is not a container"))
		return
	}

	principal, scopes, err := d.authorize(r, parent, types.ScopeCreate)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Unprocessable("httpapi: malformed request body"))
		return
	}
	if req.Key == "" || strings.Contains(req.Key, "/") {
		writeError(w, apierr.Unprocessable("httpapi: key must be a single non-empty path segment"))
		return
	}
	family := types.StructureFamily(req.StructureFamily)
	if !knownFamilies[family] {
		writeError(w, apierr.Unprocessable("httpapi: unknown structure_family "+req.StructureFamily))
		return
	}
	isContainer := family == types.StructureFamilyContainer || family == types.StructureFamilyComposite
	if isContainer && len(req.DataSources) != 0 {
		writeError(w, apierr.Unprocessable("httpapi: container nodes carry no data source"))
		return
	}
	if !isContainer && len(req.DataSources) != 1 {
		writeError(w, apierr.Unprocessable("httpapi: non-container nodes require exactly one data source"))
		return
	}

	_, blob, err := d.Policy.InitNode(principal, scopes, req.AccessBlob)
	if err != nil {
		writeError(w, err)
		return
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	childPath := append(append([]string(nil), segments...), req.Key)
	node := &types.Node{
		Key:             req.Key,
		Ancestors:       segments,
		StructureFamily: family,
		Metadata:        metadata,
		Specs:           req.Specs,
		AccessBlob:      blob,
	}
	nodeID, err := d.Catalog.CreateNode(ctx, node)
	if err != nil {
		writeError(w, err)
		return
	}

	if !isContainer {
		if err := d.attachDataSource(r, nodeID, childPath, req.DataSources[0]); err != nil {
			// Roll the node row back so a failed storage init leaves no
			// partial state.
			if delErr := d.Catalog.Delete(ctx, nodeID); delErr != nil {
				d.logger.Error().Err(delErr).Int64("node_id", nodeID).Msg("rollback of failed create left an orphan node")
			}
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, createNodeResponse{
		Path:       childPath,
		AccessBlob: blob,
	})
}

// attachDataSource validates and persists the DataSource for a new
// non-container node, initializing on-disk layout for
// management=writable via the MIME registry's storage initializer.
func (d *Deps) attachDataSource(r *http.Request, nodeID int64, segments []string, req dataSourceRequest) error {
	ctx := r.Context()

	ds := &types.DataSource{
		MimeType:   req.MimeType,
		Structure:  req.Structure,
		Parameters: req.Parameters,
		Management: types.DataManagement(req.Management),
	}

	switch ds.Management {
	case types.ManagementWritable:
		if len(req.Assets) != 0 {
			return apierr.Unprocessable("httpapi: writable data sources do not accept client-supplied assets")
		}
		dataURI := catalog.WritableDataURI(d.Config.WritableStorage, segments)
		if !ad.PathSafe(d.Config.WritableStorage, dataURI) {
			return apierr.Unprocessable("httpapi: computed storage path escapes writable_storage")
		}
		created, err := d.Registry.InitStorage(ds.MimeType, dataURI, ds.Structure)
		if err != nil {
			return apierr.Wrap(apierr.KindUnprocessableContent, "httpapi: initialize writable storage", err)
		}
		for _, a := range created {
			ds.Assets = append(ds.Assets, types.Asset{DataURI: a.DataURI, IsDirectory: a.IsDirectory})
		}
	case types.ManagementExternal:
		if len(req.Assets) == 0 {
			return apierr.Unprocessable("httpapi: external data sources require at least one asset")
		}
		for _, a := range req.Assets {
			if !d.underReadableStorage(a.DataURI) {
				return apierr.Unprocessable("httpapi: asset " + a.DataURI + " is outside every configured readable_storage root")
			}
			ds.Assets = append(ds.Assets, types.Asset{DataURI: a.DataURI, IsDirectory: a.IsDirectory})
		}
	default:
		return apierr.Unprocessable("httpapi: management must be \"external\" or \"writable\"")
	}

	if _, err := d.Catalog.CreateDataSource(ctx, nodeID, ds); err != nil {
		return apierr.Wrap(apierr.KindInternal, "httpapi: record data source", err)
	}
	return nil
}

// underReadableStorage reports whether uri (a file path or file://
// URI) lies under some configured readable_storage root (Asset
// path-traversal prevention).
func (d *Deps) underReadableStorage(uri string) bool {
	path := strings.TrimPrefix(uri, "file://")
	for _, root := range d.Config.ReadableStorage {
		if ad.PathSafe(root, path) {
			return true
		}
	}
	return false
}

type updateNodeRequest struct {
	Metadata   map[string]any    `json:"metadata"`
	Specs      []string          `json:"specs"`
	AccessBlob *types.AccessBlob `json:"access_blob"`
}

type updateNodeResponse struct {
	Revision   int               `json:"revision,omitempty"`
	AccessBlob *types.AccessBlob `json:"access_blob"`
}

// handleUpdateNode mutates a node's metadata/specs (writing a
// Revision, update metadata) and/or its access_blob (guarded
// by the policy's modify_node rules).
func (d *Deps) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	if node.ID == 0 {
		writeError(w, apierr.NotFound("httpapi: no such node"))
		return
	}
	principal, scopes, err := d.authorize(r, node, types.ScopeWriteMetadata)
	if err != nil {
		writeError(w, err)
		return
	}

	var req updateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Unprocessable("httpapi: malformed request body"))
		return
	}

	resp := updateNodeResponse{AccessBlob: node.AccessBlob}

	if req.AccessBlob != nil {
		final, err := d.Policy.ModifyNode(principal, scopes, node.AccessBlob, req.AccessBlob)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := d.Catalog.UpdateAccessBlob(ctx, node.ID, final); err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: update access_blob", err))
			return
		}
		resp.AccessBlob = final
	}

	if req.Metadata != nil || req.Specs != nil {
		metadata := req.Metadata
		if metadata == nil {
			metadata = node.Metadata
		}
		specs := req.Specs
		if specs == nil {
			specs = node.Specs
		}
		revision, err := d.Catalog.UpdateMetadata(ctx, node.ID, metadata, specs)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: update metadata", err))
			return
		}
		resp.Revision = revision
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteNode removes a single childless node. Internally
// managed assets come off disk in the same logical operation as the
// row deletion (delete).
func (d *Deps) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	if node.ID == 0 {
		writeError(w, apierr.NotFound("httpapi: no such node"))
		return
	}
	if _, _, err := d.authorize(r, node, types.ScopeDelete); err != nil {
		writeError(w, err)
		return
	}

	dataSources, err := d.Catalog.DataSourcesForNode(ctx, node.ID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: load data sources", err))
		return
	}

	if err := d.Catalog.Delete(ctx, node.ID); err != nil {
		writeError(w, err)
		return
	}
	for _, ds := range dataSources {
		if ds.Management != types.ManagementWritable {
			continue
		}
		d.removeAssets(ds.Assets)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteTree removes a subtree. With external_only=true (the
// default) the operation refuses if any internally-managed asset
// would be removed; with external_only=false the files come down too
// (delete_tree).
func (d *Deps) handleDeleteTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	if node.ID == 0 {
		writeError(w, apierr.NotFound("httpapi: no such node"))
		return
	}
	if _, _, err := d.authorize(r, node, types.ScopeDelete); err != nil {
		writeError(w, err)
		return
	}

	externalOnly := true
	if v := r.URL.Query().Get("external_only"); v != "" {
		externalOnly = v != "false" && v != "0"
	}

	var doomed []types.Asset
	if !externalOnly {
		doomed, err = d.Catalog.WritableAssetsInTree(ctx, node.ID)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: collect writable assets", err))
			return
		}
	}

	if err := d.Catalog.DeleteTree(ctx, node.ID, externalOnly); err != nil {
		writeError(w, err)
		return
	}
	d.removeAssets(doomed)
	w.WriteHeader(http.StatusNoContent)
}

// removeAssets takes internally-managed files off disk after their
// rows are gone, logging rather than failing the request on a
// straggler: the catalog is already consistent and a leaked file is
// recoverable operator-side, a 500 after commit is not.
func (d *Deps) removeAssets(assets []types.Asset) {
	for _, a := range assets {
		path := strings.TrimPrefix(a.DataURI, "file://")
		var err error
		if a.IsDirectory {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
		if err != nil && !os.IsNotExist(err) {
			d.logger.Error().Err(err).Str("data_uri", a.DataURI).Msg("failed to remove asset from disk")
		}
	}
}

// distinctEntry is one facet value on the wire.
type distinctEntry struct {
	Value string `json:"value"`
	Count int    `json:"count,omitempty"`
}

type distinctResponse struct {
	Metadata          map[string][]distinctEntry `json:"metadata,omitempty"`
	StructureFamilies []distinctEntry            `json:"structure_families,omitempty"`
	Specs             []distinctEntry            `json:"specs,omitempty"`
}

// handleDistinct aggregates distinct metadata values, structure
// families, and spec names among the children of {path}, under the
// same access-policy filters as search (distinct, faceted
// search).
func (d *Deps) handleDistinct(w http.ResponseWriter, r *http.Request) {
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

	filters, err := d.Policy.Filters(principal, d.ScopeUniverse, types.NewScopeSet(types.ScopeReadMetadata))
	if err != nil {
		if err == policy.ErrNoAccess {
			writeError(w, apierr.Forbidden("httpapi: principal has no matching access to this path"))
			return
		}
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: compute search filters", err))
		return
	}
	var q query.Query
	for _, f := range filters {
		q = query.Conjoin(q, f)
	}
	userQuery, err := parseSearchFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if userQuery != nil {
		q = query.Conjoin(q, userQuery)
	}

	params := r.URL.Query()
	withCounts := params.Get("counts") == "true"
	resp := distinctResponse{}

	if metadataPaths := params["metadata"]; len(metadataPaths) > 0 {
		paths := make([][]string, len(metadataPaths))
		for i, p := range metadataPaths {
			paths[i] = strings.Split(p, ".")
		}
		values, err := d.Catalog.Distinct(ctx, segments, q, paths, withCounts)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: aggregate metadata facets", err))
			return
		}
		resp.Metadata = make(map[string][]distinctEntry, len(values))
		for label, vals := range values {
			resp.Metadata[label] = toDistinctEntries(vals)
		}
	}
	if params.Get("structure_families") == "true" {
		vals, err := d.Catalog.DistinctStructureFamilies(ctx, segments, q, withCounts)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: aggregate structure families", err))
			return
		}
		resp.StructureFamilies = toDistinctEntries(vals)
	}
	if params.Get("specs") == "true" {
		vals, err := d.Catalog.DistinctSpecs(ctx, segments, q, withCounts)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: aggregate specs", err))
			return
		}
		resp.Specs = toDistinctEntries(vals)
	}

	writeJSON(w, http.StatusOK, resp)
}

func toDistinctEntries(vals []catalog.DistinctValue) []distinctEntry {
	out := make([]distinctEntry, len(vals))
	for i, v := range vals {
		out[i] = distinctEntry{Value: v.Value, Count: v.Count}
	}
	return out
}
