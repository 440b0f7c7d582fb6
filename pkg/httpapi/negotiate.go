package httpapi

import (
	"strings"

	"github.com/cuemby/burrow/pkg/apierr"
)

// mediaTypeRegistry maps a structure family to the media types its
// handlers can encode, in the order a fresh client should prefer
// them. The first entry is also the family's
// DEFAULT_MEDIA_TYPE, served when a request carries no Accept header
// at all.
var mediaTypeRegistry = map[string][]string{
	"array": {"application/octet-stream"},
	"table": {"text/csv"},
}

// negotiateMediaType parses the Accept header's comma-separated list
// in client preference order and returns the first entry registered
// for family. A missing or "*/*" Accept defaults to family's first
// registered type. Returns apierr.UnsupportedMediaType (406) listing
// the supported types when nothing in Accept matches.
func negotiateMediaType(acceptHeader, family string) (string, error) {
	supported := mediaTypeRegistry[family]
	if len(supported) == 0 {
		return "", apierr.Wrap(apierr.KindInternal, "httpapi: no media types registered for "+family, nil)
	}
	if acceptHeader == "" {
		return supported[0], nil
	}

	for _, want := range splitAccept(acceptHeader) {
		if want == "*/*" {
			return supported[0], nil
		}
		for _, have := range supported {
			if mediaTypeMatches(want, have) {
				return have, nil
			}
		}
	}
	return "", apierr.UnsupportedMediaType("httpapi: none of the requested media types are supported; supported: " + strings.Join(supported, ", "))
}

// splitAccept splits an Accept header on commas, trims whitespace and
// any ";q=..." parameter suffix, and drops empty entries. Quality
// weighting itself is not modeled: entries are tried strictly in the
// order the client listed them.
func splitAccept(header string) []string {
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if i := strings.Index(p, ";"); i >= 0 {
			p = strings.TrimSpace(p[:i])
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mediaTypeMatches(want, have string) bool {
	if want == have {
		return true
	}
	// "type/*" matches any subtype of type.
	if strings.HasSuffix(want, "/*") {
		return strings.HasPrefix(have, strings.TrimSuffix(want, "*"))
	}
	return false
}
