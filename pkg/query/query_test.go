package query

import "testing"

func TestConjoinFlattens(t *testing.T) {
	q1 := Eq{Path: []string{"a"}, Value: 1}
	q2 := Eq{Path: []string{"b"}, Value: 2}
	q3 := Eq{Path: []string{"c"}, Value: 3}

	combined := Conjoin(Conjoin(q1, q2), q3)

	and, ok := combined.(And)
	if !ok {
		t.Fatalf("Conjoin = %T, want And", combined)
	}
	if len(and.Operands) != 3 {
		t.Fatalf("expected 3 flattened operands, got %d", len(and.Operands))
	}
}

func TestInMemoryEq(t *testing.T) {
	metadata := map[string]any{"sample": map[string]any{"id": "abc"}}
	q := Eq{Path: []string{"sample", "id"}, Value: "abc"}

	if !InMemory(q, "node1", metadata, nil) {
		t.Error("expected Eq to match nested metadata path")
	}

	q2 := Eq{Path: []string{"sample", "id"}, Value: "xyz"}
	if InMemory(q2, "node1", metadata, nil) {
		t.Error("expected Eq not to match a different value")
	}
}

func TestInMemoryAndConjunctionLaw(t *testing.T) {
	metadata := map[string]any{"a": 1.0, "b": 2.0}
	q1 := Eq{Path: []string{"a"}, Value: 1.0}
	q2 := Eq{Path: []string{"b"}, Value: 2.0}

	combined := Conjoin(q1, q2)
	if !InMemory(combined, "n", metadata, nil) {
		t.Error("expected conjunction of two true predicates to match")
	}

	q3 := Eq{Path: []string{"b"}, Value: 99.0}
	combinedFalse := Conjoin(q1, q3)
	if InMemory(combinedFalse, "n", metadata, nil) {
		t.Error("expected conjunction with one false predicate not to match")
	}
}

func TestInMemoryKeysFilter(t *testing.T) {
	q := KeysFilter{Keys: []string{"x", "y"}}
	if !InMemory(q, "x", nil, nil) {
		t.Error("expected key x to be a member")
	}
	if InMemory(q, "z", nil, nil) {
		t.Error("expected key z not to be a member")
	}

	negated := KeysFilter{Keys: []string{"x"}, Negate: true}
	if InMemory(negated, "x", nil, nil) {
		t.Error("expected negated filter to exclude x")
	}
}

func TestInMemoryAccessBlobFilter(t *testing.T) {
	filter := AccessBlobFilter{Identifier: "local:alice", TagList: []string{"proj-a"}}

	if !InMemory(filter, "n", nil, nil) {
		t.Error("expected an unrestricted (nil access_blob) node to match any filter")
	}
	if !InMemory(filter, "n", nil, &NodeAccessBlob{}) {
		t.Error("expected an unrestricted (empty access_blob) node to match any filter")
	}
	if !InMemory(filter, "n", nil, &NodeAccessBlob{User: "local:alice"}) {
		t.Error("expected matching user to satisfy filter")
	}
	if !InMemory(filter, "n", nil, &NodeAccessBlob{Tags: []string{"proj-a"}}) {
		t.Error("expected overlapping tag to satisfy filter")
	}
	if InMemory(filter, "n", nil, &NodeAccessBlob{User: "local:bob"}) {
		t.Error("expected non-matching user not to satisfy filter")
	}
	if InMemory(filter, "n", nil, &NodeAccessBlob{Tags: []string{"proj-b"}}) {
		t.Error("expected non-overlapping tag not to satisfy filter")
	}
}

func TestInMemoryComparison(t *testing.T) {
	metadata := map[string]any{"temp": 21.5}

	if !InMemory(Comparison{Path: []string{"temp"}, Op: OpGT, Value: 20.0}, "n", metadata, nil) {
		t.Error("expected 21.5 > 20 to match")
	}
	if InMemory(Comparison{Path: []string{"temp"}, Op: OpLE, Value: 20.0}, "n", metadata, nil) {
		t.Error("expected 21.5 <= 20 not to match")
	}
	// The HTTP layer hands numeric bounds through as strings.
	if !InMemory(Comparison{Path: []string{"temp"}, Op: OpLT, Value: "30"}, "n", metadata, nil) {
		t.Error("expected 21.5 < 30 with a string bound to match")
	}
	if InMemory(Comparison{Path: []string{"missing"}, Op: OpGT, Value: 0.0}, "n", metadata, nil) {
		t.Error("expected a missing path never to match")
	}
}

func TestInMemoryFullTextAndRegex(t *testing.T) {
	metadata := map[string]any{
		"sample":  map[string]any{"name": "Copper Sheet"},
		"keyword": []any{"xrd", "powder"},
	}

	if !InMemory(FullText{Text: "copper"}, "n", metadata, nil) {
		t.Error("expected case-insensitive full-text match on a nested string")
	}
	if !InMemory(FullText{Text: "powder"}, "n", metadata, nil) {
		t.Error("expected full-text match inside an array")
	}
	if InMemory(FullText{Text: "iron"}, "n", metadata, nil) {
		t.Error("expected no full-text match for absent text")
	}

	if !InMemory(Regex{Path: []string{"sample", "name"}, Pattern: "^Copper"}, "n", metadata, nil) {
		t.Error("expected regex to match the nested name")
	}
	if InMemory(Regex{Path: []string{"sample", "name"}, Pattern: "["}, "n", metadata, nil) {
		t.Error("expected an invalid pattern not to match")
	}
}
