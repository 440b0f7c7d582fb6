package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/cuemby/burrow/pkg/query"
)

func TestParseSearchFiltersEq(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/search/?filter[eq][condition][key]=sample.id&filter[eq][condition][value]=42", nil)
	q, err := parseSearchFilters(r)
	if err != nil {
		t.Fatalf("parseSearchFilters() error = %v", err)
	}
	eq, ok := q.(query.Eq)
	if !ok {
		t.Fatalf("got %#v, want query.Eq", q)
	}
	if len(eq.Path) != 2 || eq.Path[0] != "sample" || eq.Path[1] != "id" {
		t.Errorf("Path = %v, want [sample id]", eq.Path)
	}
	if eq.Value != "42" {
		t.Errorf("Value = %v, want 42", eq.Value)
	}
}

func TestParseSearchFiltersNoFilters(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/search/", nil)
	q, err := parseSearchFilters(r)
	if err != nil {
		t.Fatal(err)
	}
	if q != nil {
		t.Errorf("expected nil query for a request with no filter params, got %#v", q)
	}
}

func TestParseSearchFiltersUnknownNameErrors(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/search/?filter[bogus][condition][key]=x", nil)
	if _, err := parseSearchFilters(r); err == nil {
		t.Error("expected an error for an unrecognized filter name")
	}
}

func TestParseSearchFiltersCombinesMultiple(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/search/?"+
		"filter[eq][condition][key]=label&filter[eq][condition][value]=target&"+
		"filter[structure_family][condition][value]=array", nil)
	q, err := parseSearchFilters(r)
	if err != nil {
		t.Fatal(err)
	}
	and, ok := q.(query.And)
	if !ok {
		t.Fatalf("got %#v, want query.And combining both filters", q)
	}
	if len(and.Operands) != 2 {
		t.Errorf("Operands = %v, want 2 entries", and.Operands)
	}
}

func TestParseSearchFiltersIn(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/search/?filter[in][condition][key]=tag&filter[in][condition][value]=a,b,c", nil)
	q, err := parseSearchFilters(r)
	if err != nil {
		t.Fatal(err)
	}
	in, ok := q.(query.In)
	if !ok {
		t.Fatalf("got %#v, want query.In", q)
	}
	if len(in.Values) != 3 {
		t.Errorf("Values = %v, want 3 entries", in.Values)
	}
}
