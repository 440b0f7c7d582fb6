package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	ad "github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/types"
)

// handleTablePartition serves one row-partition of a table, addressed
// by its integer index (the table analogue of an array block).
func (d *Deps) handleTablePartition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, _, err := d.authorize(r, node, types.ScopeReadData); err != nil {
		writeError(w, err)
		return
	}

	a, err := d.lookupAdapter(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	tbl, ok := a.(ad.TableAdapter)
	if !ok {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: path is not a table"))
		return
	}

	partitionRaw := r.URL.Query().Get("partition")
	partition, err := strconv.Atoi(partitionRaw)
	if err != nil {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: invalid partition parameter"))
		return
	}
	if !tbl.Structure().InRange(partition) {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "Partition index out of range"))
		return
	}

	columns := requestedColumns(r, tbl.Structure().ColumnNames())

	mediaType, err := negotiateMediaType(r.Header.Get("Accept"), "table")
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := d.Pool.Offload(ctx, func() ([]byte, error) {
		return tbl.ReadPartition(ctx, partition, columns)
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: read table partition", err))
		return
	}

	serveBinary(w, r, data, mediaType)
}

// handleTableFull serves the entire table in one response.
func (d *Deps) handleTableFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, _, err := d.authorize(r, node, types.ScopeReadData); err != nil {
		writeError(w, err)
		return
	}

	a, err := d.lookupAdapter(ctx, segments)
	if err != nil {
		writeError(w, err)
		return
	}
	tbl, ok := a.(ad.TableAdapter)
	if !ok {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: path is not a table"))
		return
	}

	columns := requestedColumns(r, tbl.Structure().ColumnNames())

	mediaType, err := negotiateMediaType(r.Header.Get("Accept"), "table")
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := d.Pool.Offload(ctx, func() ([]byte, error) {
		return tbl.Read(ctx, columns)
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: read table", err))
		return
	}

	serveBinary(w, r, data, mediaType)
}

// writableTable resolves {path} to a writable table adapter, checking
// the write:data scope on the node.
func (d *Deps) writableTable(w http.ResponseWriter, r *http.Request) (ad.TableAdapter, bool) {
	ctx := r.Context()
	segments := pathSegments(r)

	node, err := d.resolveNode(ctx, segments)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if _, _, err := d.authorize(r, node, types.ScopeWriteData); err != nil {
		writeError(w, err)
		return nil, false
	}

	a, err := d.lookupAdapter(ctx, segments)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	tbl, ok := a.(ad.TableAdapter)
	if !ok {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: path is not a table"))
		return nil, false
	}
	if !tbl.Writable() {
		writeError(w, apierr.Forbidden("httpapi: table is not writable"))
		return nil, false
	}
	return tbl, true
}

// handleWriteTablePartition replaces one row-partition with the
// request body (writable counterpart of read_partition).
func (d *Deps) handleWriteTablePartition(w http.ResponseWriter, r *http.Request) {
	tbl, ok := d.writableTable(w, r)
	if !ok {
		return
	}

	partition, err := strconv.Atoi(r.URL.Query().Get("partition"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: invalid partition parameter"))
		return
	}
	if !tbl.Structure().InRange(partition) {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "Partition index out of range"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: read request body", err))
		return
	}
	_, err = d.Pool.Offload(r.Context(), func() ([]byte, error) {
		return nil, tbl.WritePartition(r.Context(), partition, body)
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindUnprocessableContent, "httpapi: write table partition", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWriteTableFull replaces the table's contents with the request
// body.
func (d *Deps) handleWriteTableFull(w http.ResponseWriter, r *http.Request) {
	tbl, ok := d.writableTable(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: read request body", err))
		return
	}
	_, err = d.Pool.Offload(r.Context(), func() ([]byte, error) {
		return nil, tbl.Write(r.Context(), body)
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindUnprocessableContent, "httpapi: write table", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestedColumns reads the comma-separated "field" query parameter,
// defaulting to every column the table defines.
func requestedColumns(r *http.Request, all []string) []string {
	raw := r.URL.Query().Get("field")
	if raw == "" {
		return all
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
