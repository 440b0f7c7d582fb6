package query

import (
	"regexp"
	"strconv"
	"strings"
)

// SQLBuilder accumulates a WHERE-clause predicate and its bound
// arguments as a dialect translates a Query. It is deliberately
// narrow: translators only ever append one AND-ed clause fragment at
// a time, never rewrite earlier fragments.
type SQLBuilder struct {
	Clauses []string
	Args    []any
}

// And appends a clause fragment with its positional arguments. The
// fragment must use "?" placeholders; dialect-specific translators
// are responsible for rewriting "?" to "$N" at execution time if
// their driver requires it (lib/pq accepts "?" rewritten by the
// catalog package's statement builder).
func (b *SQLBuilder) And(clause string, args ...any) {
	b.Clauses = append(b.Clauses, clause)
	b.Args = append(b.Args, args...)
}

// AlwaysFalse appends a constant-false clause, for a translator that
// can prove a query can never match. Neither catalog dialect calls
// it: their AccessBlobFilter clauses always admit unrestricted nodes.
func (b *SQLBuilder) AlwaysFalse() {
	b.And("1 = 0")
}

// Translator lowers a Query into the accumulating SQLBuilder for one
// SQL dialect. One implementation exists per backend (pkg/catalog's
// sqliteDialect and postgresDialect); Translate returns
// Unhandled, true if this dialect has no pushdown for q and the
// catalog must fall back to an in-memory predicate.
type Translator interface {
	Translate(q Query, b *SQLBuilder) (unhandled bool, err error)
}

// NodeAccessBlob mirrors the subset of a node's access_blob that
// AccessBlobFilter evaluates against: at most one of User or Tags is
// populated, matching types.AccessBlob.
type NodeAccessBlob struct {
	User string
	Tags []string
}

// InMemory evaluates a Query directly against a node's metadata map,
// key, and access_blob, for the fallback path and for non-catalog
// (file-backed) adapters that implement their own search. blob may be
// nil for an unrestricted node.
func InMemory(q Query, key string, metadata map[string]any, blob *NodeAccessBlob) bool {
	switch v := q.(type) {
	case Eq:
		return equalAt(metadata, v.Path) == v.Value
	case NotEq:
		return equalAt(metadata, v.Path) != v.Value
	case Contains:
		return containsAt(metadata, v.Path, v.Value)
	case In:
		val := equalAt(metadata, v.Path)
		for _, want := range v.Values {
			if val == want {
				return true
			}
		}
		return false
	case NotIn:
		val := equalAt(metadata, v.Path)
		for _, want := range v.Values {
			if val == want {
				return false
			}
		}
		return true
	case KeysFilter:
		member := false
		for _, k := range v.Keys {
			if k == key {
				member = true
				break
			}
		}
		if v.Negate {
			return !member
		}
		return member
	case And:
		for _, op := range v.Operands {
			if !InMemory(op, key, metadata, blob) {
				return false
			}
		}
		return true
	case AccessBlobFilter:
		return matchesAccessBlob(v, blob)
	case Comparison:
		return compareAt(metadata, v.Path, v.Op, v.Value)
	case FullText:
		return textAppears(metadata, strings.ToLower(v.Text))
	case Regex:
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return false
		}
		s, ok := equalAt(metadata, v.Path).(string)
		return ok && re.MatchString(s)
	default:
		// StructureFamilyQuery is resolved by SQL pushdown in every
		// dialect; an unrecognized variant here is treated as
		// non-matching rather than panicking.
		return false
	}
}

// compareAt orders the metadata value at path against want under op.
// JSON numbers arrive as float64; string values compare
// lexicographically; anything else (or a missing path) never matches.
func compareAt(metadata map[string]any, path []string, op ComparisonOp, want any) bool {
	got := equalAt(metadata, path)
	var c int
	switch gv := got.(type) {
	case float64:
		wv, ok := toFloat(want)
		if !ok {
			return false
		}
		switch {
		case gv < wv:
			c = -1
		case gv > wv:
			c = 1
		}
	case string:
		wv, ok := want.(string)
		if !ok {
			return false
		}
		c = strings.Compare(gv, wv)
	default:
		return false
	}
	switch op {
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	case OpGT:
		return c > 0
	case OpGE:
		return c >= 0
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// textAppears walks every string leaf of metadata looking for a
// case-insensitive substring match.
func textAppears(v any, lowered string) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), lowered)
	case map[string]any:
		for _, child := range t {
			if textAppears(child, lowered) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if textAppears(child, lowered) {
				return true
			}
		}
	}
	return false
}

// matchesAccessBlob reports whether blob is covered by filter. A nil
// or empty blob is an unrestricted node: per the "no access_blob
// grants all scopes" invariant, it is visible under any filter. A
// restricted blob matches when its User equals filter.Identifier or
// its Tags intersects filter.TagList.
func matchesAccessBlob(filter AccessBlobFilter, blob *NodeAccessBlob) bool {
	if blob == nil || (blob.User == "" && len(blob.Tags) == 0) {
		return true
	}
	if filter.Identifier != "" && blob.User == filter.Identifier {
		return true
	}
	for _, tag := range blob.Tags {
		for _, want := range filter.TagList {
			if tag == want {
				return true
			}
		}
	}
	return false
}

func equalAt(metadata map[string]any, path []string) any {
	var cur any = metadata
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

func containsAt(metadata map[string]any, path []string, want any) bool {
	val := equalAt(metadata, path)
	arr, ok := val.([]any)
	if !ok {
		return false
	}
	for _, v := range arr {
		if v == want {
			return true
		}
	}
	return false
}
