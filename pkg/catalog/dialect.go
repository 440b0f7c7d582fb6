package catalog

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/cuemby/burrow/pkg/query"
)

// Dialect isolates the handful of places SQLite and PostgreSQL differ:
// placeholder syntax, schema DDL, and query pushdown translation.
type Dialect interface {
	Name() string
	Schema() string
	// Rebind rewrites a query string using "?" placeholders into the
	// dialect's native placeholder syntax ("?" for SQLite, "$1", "$2",
	// ... for PostgreSQL).
	Rebind(q string) string
	query.Translator
}

// rebindPositional rewrites every "?" in q to "$N" in order, for
// PostgreSQL's positional placeholder syntax.
func rebindPositional(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) Schema() string         { return sqliteSchema }
func (sqliteDialect) Rebind(q string) string { return q }

// Translate lowers Query variants into SQLite's json_extract-based
// WHERE clause fragments. The json_extract result is compared
// directly with the bound literal; no CAST to the literal's type is
// applied.
func (sqliteDialect) Translate(q query.Query, b *query.SQLBuilder) (bool, error) {
	switch v := q.(type) {
	case query.Eq:
		path := jsonPath(v.Path)
		b.And(fmt.Sprintf("json_extract(metadata, '%s') = ?", path), v.Value)
		return false, nil
	case query.NotEq:
		path := jsonPath(v.Path)
		b.And(fmt.Sprintf("json_extract(metadata, '%s') != ?", path), v.Value)
		return false, nil
	case query.Comparison:
		path := jsonPath(v.Path)
		op, err := sqlComparisonOp(v.Op)
		if err != nil {
			return false, err
		}
		b.And(fmt.Sprintf("json_extract(metadata, '%s') %s ?", path, op), v.Value)
		return false, nil
	case query.In:
		path := jsonPath(v.Path)
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(v.Values)), ",")
		b.And(fmt.Sprintf("json_extract(metadata, '%s') IN (%s)", path, placeholders), v.Values...)
		return false, nil
	case query.NotIn:
		path := jsonPath(v.Path)
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(v.Values)), ",")
		b.And(fmt.Sprintf("json_extract(metadata, '%s') NOT IN (%s)", path, placeholders), v.Values...)
		return false, nil
	case query.KeysFilter:
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(v.Keys)), ",")
		args := make([]any, len(v.Keys))
		for i, k := range v.Keys {
			args[i] = k
		}
		not := ""
		if v.Negate {
			not = "NOT "
		}
		b.And(fmt.Sprintf("key %sIN (%s)", not, placeholders), args...)
		return false, nil
	case query.StructureFamilyQuery:
		b.And("structure_family = ?", v.Family)
		return false, nil
	case query.Contains:
		// Delegated to in-memory evaluation: SQLite's JSON1 has no
		// simple "array contains" operator without a join.
		return true, nil
	case query.AccessBlobFilter:
		sqliteAccessBlobFilter(v, b)
		return false, nil
	case query.FullText, query.Regex:
		return true, nil
	default:
		return true, nil
	}
}

// sqliteAccessBlobFilter lowers an AccessBlobFilter to a clause
// matching an unrestricted node (NULL or "{}" access_blob, visible to
// every principal per the "no access_blob grants all scopes"
// invariant) OR a node whose stored user matches v.Identifier OR
// whose stored tags intersect v.TagList, via a json_each subquery
// over the tags array.
func sqliteAccessBlobFilter(v query.AccessBlobFilter, b *query.SQLBuilder) {
	clauses := []string{"access_blob IS NULL", "access_blob = '{}'"}
	var args []any
	if v.Identifier != "" {
		clauses = append(clauses, "json_extract(access_blob, '$.user') = ?")
		args = append(args, v.Identifier)
	}
	if len(v.TagList) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(v.TagList)), ",")
		clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(access_blob, '$.tags') WHERE json_each.value IN (%s))",
			placeholders))
		for _, t := range v.TagList {
			args = append(args, t)
		}
	}
	b.And("("+strings.Join(clauses, " OR ")+")", args...)
}

type postgresDialect struct{}

func (postgresDialect) Name() string           { return "postgres" }
func (postgresDialect) Schema() string         { return postgresSchema }
func (postgresDialect) Rebind(q string) string { return rebindPositional(q) }

// Translate lowers Query variants for PostgreSQL. Eq prefers the
// GIN-indexed JSONB containment operator (@>) over generic equality
// by materializing the key path as a nested JSON object, which
// permits index use.
func (postgresDialect) Translate(q query.Query, b *query.SQLBuilder) (bool, error) {
	switch v := q.(type) {
	case query.Eq:
		nested := nestJSON(v.Path, v.Value)
		b.And("metadata @> ?::jsonb", nested)
		return false, nil
	case query.NotEq:
		nested := nestJSON(v.Path, v.Value)
		b.And("NOT (metadata @> ?::jsonb)", nested)
		return false, nil
	case query.Comparison:
		path := jsonBPath(v.Path)
		op, err := sqlComparisonOp(v.Op)
		if err != nil {
			return false, err
		}
		b.And(fmt.Sprintf("(metadata #>> '%s') %s ?", path, op), fmt.Sprintf("%v", v.Value))
		return false, nil
	case query.Contains:
		nested := nestJSON(v.Path, []any{v.Value})
		b.And("metadata @> ?::jsonb", nested)
		return false, nil
	case query.In:
		path := jsonBPath(v.Path)
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(v.Values)), ",")
		b.And(fmt.Sprintf("(metadata #>> '%s') IN (%s)", path, placeholders), v.Values...)
		return false, nil
	case query.NotIn:
		path := jsonBPath(v.Path)
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(v.Values)), ",")
		b.And(fmt.Sprintf("(metadata #>> '%s') NOT IN (%s)", path, placeholders), v.Values...)
		return false, nil
	case query.KeysFilter:
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(v.Keys)), ",")
		args := make([]any, len(v.Keys))
		for i, k := range v.Keys {
			args[i] = k
		}
		not := ""
		if v.Negate {
			not = "NOT "
		}
		b.And(fmt.Sprintf("key %sIN (%s)", not, placeholders), args...)
		return false, nil
	case query.StructureFamilyQuery:
		b.And("structure_family = ?", v.Family)
		return false, nil
	case query.AccessBlobFilter:
		postgresAccessBlobFilter(v, b)
		return false, nil
	case query.FullText, query.Regex:
		return true, nil
	default:
		return true, nil
	}
}

// postgresAccessBlobFilter mirrors sqliteAccessBlobFilter using JSONB
// functions. The `?`/`?|` JSONB existence operators are deliberately
// avoided here: SQLBuilder clauses are rebound from "?" placeholders
// to "$N" positional parameters (rebindPositional), so a literal "?"
// used as a JSONB operator would be mistaken for a bind parameter and
// shift every argument after it. jsonb_exists and an EXISTS/ANY
// membership test express the same predicates without that
// character. An unrestricted node (NULL access_blob, or one with
// neither "user" nor "tags" populated) matches unconditionally;
// otherwise the stored user must equal v.Identifier or the tags array
// must intersect v.TagList.
func postgresAccessBlobFilter(v query.AccessBlobFilter, b *query.SQLBuilder) {
	clauses := []string{
		"access_blob IS NULL",
		"(NOT jsonb_exists(access_blob, 'user') AND NOT jsonb_exists(access_blob, 'tags'))",
	}
	var args []any
	if v.Identifier != "" {
		clauses = append(clauses, "access_blob->>'user' = ?")
		args = append(args, v.Identifier)
	}
	if len(v.TagList) > 0 {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM jsonb_array_elements_text(access_blob->'tags') AS tag WHERE tag = ANY(?))")
		args = append(args, pq.Array(v.TagList))
	}
	b.And("("+strings.Join(clauses, " OR ")+")", args...)
}

func sqlComparisonOp(op query.ComparisonOp) (string, error) {
	switch op {
	case query.OpLT:
		return "<", nil
	case query.OpLE:
		return "<=", nil
	case query.OpGT:
		return ">", nil
	case query.OpGE:
		return ">=", nil
	default:
		return "", fmt.Errorf("catalog: unknown comparison operator %q", op)
	}
}

// jsonPath renders a dotted metadata path as a SQLite json_extract
// path expression, e.g. ["sample","id"] -> "$.sample.id".
func jsonPath(path []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range path {
		b.WriteString(".")
		b.WriteString(seg)
	}
	return b.String()
}

// jsonBPath renders a dotted metadata path as a PostgreSQL #>> path
// array literal, e.g. ["sample","id"] -> "{sample,id}".
func jsonBPath(path []string) string {
	return "{" + strings.Join(path, ",") + "}"
}

// nestJSON builds the nested-object JSON literal used for a JSONB
// containment match on a dotted path, e.g. path=["sample","id"],
// value="abc" -> `{"sample":{"id":"abc"}}`.
func nestJSON(path []string, value any) string {
	var b strings.Builder
	for _, seg := range path {
		b.WriteString(`{"`)
		b.WriteString(seg)
		b.WriteString(`":`)
	}
	writeJSONScalar(&b, value)
	for range path {
		b.WriteString("}")
	}
	return b.String()
}

func writeJSONScalar(b *strings.Builder, value any) {
	switch v := value.(type) {
	case string:
		b.WriteString(`"`)
		b.WriteString(strings.ReplaceAll(v, `"`, `\"`))
		b.WriteString(`"`)
	case []any:
		b.WriteString("[")
		for i, item := range v {
			if i > 0 {
				b.WriteString(",")
			}
			writeJSONScalar(b, item)
		}
		b.WriteString("]")
	default:
		fmt.Fprintf(b, "%v", v)
	}
}
