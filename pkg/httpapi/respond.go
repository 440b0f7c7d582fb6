package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/burrow/pkg/apierr"
)

// errorBody is the JSON shape returned for every non-2xx response
// : a machine-readable kind plus a human-readable message.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps err's apierr.Kind to its HTTP status and writes the
// JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.HTTPStatus(err)
	var body errorBody
	body.Error.Kind = apierr.KindOf(err).String()
	body.Error.Message = err.Error()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSON writes v as a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONBytes writes an already-serialized JSON body.
func writeJSONBytes(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// marshalWithETag serializes v and computes its content ETag in one
// step, so handlers that need both never serialize twice.
func marshalWithETag(v any) ([]byte, string) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, ""
	}
	return body, contentETag(body)
}

// pageLinks is the JSON:API "links" object.
type pageLinks struct {
	Self  string  `json:"self"`
	First string  `json:"first"`
	Last  string  `json:"last,omitempty"`
	Next  *string `json:"next"`
	Prev  *string `json:"prev"`
}

// pageMeta is the JSON:API "meta" object carrying the total count
// after filtering.
type pageMeta struct {
	Count int64 `json:"count"`
}

// buildPageLinks computes the links object for a page of size limit
// starting at offset, out of a total of count, against basePath (the
// request path without its page[] query parameters).
func buildPageLinks(basePath string, offset, limit int, count int64) pageLinks {
	mk := func(o int) string {
		return basePath + "?page[offset]=" + strconv.Itoa(o) + "&page[limit]=" + strconv.Itoa(limit)
	}

	links := pageLinks{
		Self:  mk(offset),
		First: mk(0),
	}
	if limit > 0 && count > 0 {
		lastOffset := (int(count) - 1) / limit * limit
		links.Last = mk(lastOffset)
	}
	if limit > 0 && int64(offset+limit) < count {
		next := mk(offset + limit)
		links.Next = &next
	}
	if offset > 0 {
		prevOffset := offset - limit
		if prevOffset < 0 {
			prevOffset = 0
		}
		prev := mk(prevOffset)
		links.Prev = &prev
	}
	return links
}

// parsePage reads page[offset]/page[limit] query parameters, applying
// default values (offset 0, limit 100) and a sane upper bound.
func parsePage(r *http.Request) (offset, limit int) {
	offset = 0
	limit = 100
	q := r.URL.Query()
	if v := q.Get("page[offset]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := q.Get("page[limit]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}
	return offset, limit
}

// contentETag computes the content-addressed ETag for a response body
// (a hash of the serialized bytes).
func contentETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// ifNoneMatchHit reports whether the request's If-None-Match header
// already names etag, allowing the handler to short-circuit with 304.
func ifNoneMatchHit(r *http.Request, etag string) bool {
	inm := r.Header.Get("If-None-Match")
	return inm != "" && (inm == etag || inm == "*")
}
