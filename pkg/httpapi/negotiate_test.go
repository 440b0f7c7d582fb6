package httpapi

import (
	"testing"

	"github.com/cuemby/burrow/pkg/apierr"
)

func TestNegotiateMediaTypeDefaultsWithNoAcceptHeader(t *testing.T) {
	got, err := negotiateMediaType("", "array")
	if err != nil {
		t.Fatal(err)
	}
	if got != "application/octet-stream" {
		t.Errorf("got %q, want application/octet-stream", got)
	}
}

func TestNegotiateMediaTypeHonorsWildcard(t *testing.T) {
	got, err := negotiateMediaType("*/*", "table")
	if err != nil {
		t.Fatal(err)
	}
	if got != "text/csv" {
		t.Errorf("got %q, want text/csv", got)
	}
}

func TestNegotiateMediaTypeMatchesExact(t *testing.T) {
	got, err := negotiateMediaType("application/json, application/octet-stream", "array")
	if err != nil {
		t.Fatal(err)
	}
	if got != "application/octet-stream" {
		t.Errorf("got %q, want application/octet-stream", got)
	}
}

func TestNegotiateMediaTypeRejectsUnsupported(t *testing.T) {
	_, err := negotiateMediaType("application/json", "table")
	if err == nil {
		t.Fatal("expected an error when nothing requested is supported")
	}
	if apierr.KindOf(err) != apierr.KindUnsupportedMediaType {
		t.Errorf("KindOf(err) = %v, want KindUnsupportedMediaType", apierr.KindOf(err))
	}
}

func TestNegotiateMediaTypeIgnoresQualityParameter(t *testing.T) {
	got, err := negotiateMediaType("text/plain;q=0.9, text/csv;q=0.5", "table")
	if err != nil {
		t.Fatal(err)
	}
	if got != "text/csv" {
		t.Errorf("got %q, want text/csv", got)
	}
}
