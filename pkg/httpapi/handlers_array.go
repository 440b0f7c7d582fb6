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

// handleArrayBlock serves one chunk of an array, addressed by its
// block index per dimension; out-of-range block indices yield 422.
func (d *Deps) handleArrayBlock(w http.ResponseWriter, r *http.Request) {
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
	arr, ok := a.(ad.ArrayAdapter)
	if !ok {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: path is not an array"))
		return
	}

	block, err := parseBlock(r.URL.Query().Get("block"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: invalid block parameter"))
		return
	}
	if !arr.Structure().InRange(block) {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "Block index out of range"))
		return
	}

	mediaType, err := negotiateMediaType(r.Header.Get("Accept"), "array")
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := d.Pool.Offload(ctx, func() ([]byte, error) {
		return arr.ReadBlock(ctx, block, nil)
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: read array block", err))
		return
	}

	serveBinary(w, r, data, mediaType)
}

// handleArrayFull serves the entire array in one response.
func (d *Deps) handleArrayFull(w http.ResponseWriter, r *http.Request) {
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
	arr, ok := a.(ad.ArrayAdapter)
	if !ok {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: path is not an array"))
		return
	}

	mediaType, err := negotiateMediaType(r.Header.Get("Accept"), "array")
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := d.Pool.Offload(ctx, func() ([]byte, error) {
		return arr.Read(ctx, nil)
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: read array", err))
		return
	}

	serveBinary(w, r, data, mediaType)
}

// writableArray resolves {path} to a writable array adapter, checking
// the write:data scope on the node.
func (d *Deps) writableArray(w http.ResponseWriter, r *http.Request) (ad.ArrayAdapter, bool) {
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
	arr, ok := a.(ad.ArrayAdapter)
	if !ok {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: path is not an array"))
		return nil, false
	}
	if !arr.Writable() {
		writeError(w, apierr.Forbidden("httpapi: array is not writable"))
		return nil, false
	}
	return arr, true
}

// handleWriteArrayBlock replaces one chunk with the raw bytes of the
// request body (write_block).
func (d *Deps) handleWriteArrayBlock(w http.ResponseWriter, r *http.Request) {
	arr, ok := d.writableArray(w, r)
	if !ok {
		return
	}

	block, err := parseBlock(r.URL.Query().Get("block"))
	if err != nil {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "httpapi: invalid block parameter"))
		return
	}
	if !arr.Structure().InRange(block) {
		writeError(w, apierr.New(apierr.KindUnprocessableContent, "Block index out of range"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: read request body", err))
		return
	}
	_, err = d.Pool.Offload(r.Context(), func() ([]byte, error) {
		return nil, arr.WriteBlock(r.Context(), block, body)
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindUnprocessableContent, "httpapi: write array block", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWriteArrayFull replaces the entire array (write).
func (d *Deps) handleWriteArrayFull(w http.ResponseWriter, r *http.Request) {
	arr, ok := d.writableArray(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "httpapi: read request body", err))
		return
	}
	_, err = d.Pool.Offload(r.Context(), func() ([]byte, error) {
		return nil, arr.Write(r.Context(), body)
	})
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindUnprocessableContent, "httpapi: write array", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseBlock parses a "1,2,3" query value into its integer indices.
func parseBlock(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// serveBinary writes a content-addressed-ETag'd binary body, honoring
// If-None-Match (ETag/304).
func serveBinary(w http.ResponseWriter, r *http.Request, data []byte, contentType string) {
	etag := contentETag(data)
	if ifNoneMatchHit(r, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
