package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/apierr"
	"github.com/cuemby/burrow/pkg/query"
)

// parseSearchFilters builds a query.Query from a request's
// filter[<name>][condition][<field>]=<value> parameters, the
// same addressing scheme the catalog's JSON:API-flavored router uses
// for page[offset]/page[limit]: each recognized query type is keyed
// by name, with its fields nested one level under "condition" so a
// request can carry several filters of different names at once, each
// conjoined with And. Unknown query names or malformed values are
// reported as apierr.UnprocessableContent, not silently ignored.
func parseSearchFilters(r *http.Request) (query.Query, error) {
	type condition struct {
		name   string
		fields map[string]string
	}
	byName := make(map[string]*condition)

	for key, values := range r.URL.Query() {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		name, field, ok := parseFilterKey(key)
		if !ok {
			continue
		}
		c, ok := byName[name]
		if !ok {
			c = &condition{name: name, fields: make(map[string]string)}
			byName[name] = c
		}
		c.fields[field] = values[0]
	}
	if len(byName) == 0 {
		return nil, nil
	}

	var combined query.Query
	for _, c := range byName {
		q, err := buildFilterQuery(c.name, c.fields)
		if err != nil {
			return nil, err
		}
		combined = query.Conjoin(combined, q)
	}
	return combined, nil
}

// parseFilterKey splits "filter[name][condition][field]" into its
// name and field parts, reporting ok=false for anything that doesn't
// match the shape.
func parseFilterKey(key string) (name, field string, ok bool) {
	if !strings.HasPrefix(key, "filter[") {
		return "", "", false
	}
	rest := strings.TrimPrefix(key, "filter[")
	i := strings.Index(rest, "]")
	if i < 0 {
		return "", "", false
	}
	name = rest[:i]
	rest = rest[i+1:]
	if !strings.HasPrefix(rest, "[condition][") {
		return "", "", false
	}
	rest = strings.TrimPrefix(rest, "[condition][")
	j := strings.Index(rest, "]")
	if j < 0 {
		return "", "", false
	}
	field = rest[:j]
	return name, field, true
}

func splitPath(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildFilterQuery(name string, fields map[string]string) (query.Query, error) {
	switch name {
	case "eq":
		return query.Eq{Path: splitPath(fields["key"]), Value: fields["value"]}, nil
	case "noteq":
		return query.NotEq{Path: splitPath(fields["key"]), Value: fields["value"]}, nil
	case "comparison":
		op := query.ComparisonOp(fields["op"])
		switch op {
		case query.OpLT, query.OpLE, query.OpGT, query.OpGE:
		default:
			return nil, apierr.New(apierr.KindUnprocessableContent, "httpapi: unknown comparison operator "+fields["op"])
		}
		return query.Comparison{Path: splitPath(fields["key"]), Op: op, Value: fields["value"]}, nil
	case "contains":
		return query.Contains{Path: splitPath(fields["key"]), Value: fields["value"]}, nil
	case "in":
		values := splitList(fields["value"])
		anyValues := make([]any, len(values))
		for i, v := range values {
			anyValues[i] = v
		}
		return query.In{Path: splitPath(fields["key"]), Values: anyValues}, nil
	case "notin":
		values := splitList(fields["value"])
		anyValues := make([]any, len(values))
		for i, v := range values {
			anyValues[i] = v
		}
		return query.NotIn{Path: splitPath(fields["key"]), Values: anyValues}, nil
	case "keys":
		negate, _ := strconv.ParseBool(fields["negate"])
		return query.KeysFilter{Keys: splitList(fields["value"]), Negate: negate}, nil
	case "structure_family":
		return query.StructureFamilyQuery{Family: fields["value"]}, nil
	case "fulltext":
		return query.FullText{Text: fields["text"]}, nil
	case "regex":
		return query.Regex{Path: splitPath(fields["key"]), Pattern: fields["pattern"]}, nil
	default:
		return nil, apierr.New(apierr.KindUnprocessableContent, "httpapi: unknown filter type "+name)
	}
}
