package expand

import (
	"slices"
	"testing"

	"expandable/pkg/domain"
)

func TestClassifyRemovesSchemaAssociationsAndRestricted(t *testing.T) {
	attrs := domain.NewAttributes(
		domain.Attribute{Key: "name", Value: "Ada"},
		domain.Attribute{Key: "bio", Value: "hi"},
		domain.Attribute{Key: "Profile", Value: map[string]any{"id": 1}},
		domain.Attribute{Key: "password", Value: "secret"},
		domain.Attribute{Key: "states", Value: []any{"CA"}},
	)
	extra := Classify(attrs,
		domain.NewKeySet("id", "name"),
		domain.NewKeySet("Profile"),
		domain.NewKeySet("password"))
	if got := extra.Keys(); !slices.Equal(got, []string{"bio", "states"}) {
		t.Fatalf("unexpected extra keys %v", got)
	}

	states, _ := extra.Get("states")
	states.([]any)[0] = "NY"
	orig, _ := attrs.Get("states")
	if orig.([]any)[0] != "CA" {
		t.Fatalf("expected classification to copy values")
	}
}

func TestClassifyWithoutSchemaIsEmpty(t *testing.T) {
	attrs := domain.NewAttributes(domain.Attribute{Key: "bio", Value: "hi"})
	if got := Classify(attrs, nil, nil, nil); got.Len() != 0 {
		t.Fatalf("expected no extra attributes without schema, got %v", got.Keys())
	}
	if got := Classify(nil, domain.NewKeySet(), nil, nil); got.Len() != 0 {
		t.Fatalf("expected empty result for nil attributes")
	}
	if got := Classify(attrs, domain.NewKeySet(), nil, nil); got.Len() != 1 {
		t.Fatalf("expected an empty schema to keep every attribute")
	}
}
