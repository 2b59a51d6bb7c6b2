package validation

import (
	"testing"
)

func TestParseManifest_Valid(t *testing.T) {
	v := New()

	m, err := ParseManifest(`[{"id":"prod-1","qty":2,"price":10.5},{"id":"prod-2","variantId":"var-1","qty":1,"price":5}]`, v)
	if err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
	if len(m.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(m.Lines))
	}
	if m.Lines[1].VariantID != "var-1" {
		t.Fatalf("variant id lost: %+v", m.Lines[1])
	}
	ids := m.ProductIDs()
	if len(ids) != 2 || ids[0] != "prod-1" || ids[1] != "prod-2" {
		t.Fatalf("unexpected product ids: %v", ids)
	}
}

func TestParseManifest_FailsClosed(t *testing.T) {
	v := New()

	cases := map[string]string{
		"missing":        "",
		"malformed":      `{"id":"prod-1"`,
		"wrong shape":    `{"id":"prod-1","qty":1,"price":1}`,
		"empty list":     `[]`,
		"missing id":     `[{"qty":1,"price":1}]`,
		"zero quantity":  `[{"id":"prod-1","qty":0,"price":1}]`,
		"zero price":     `[{"id":"prod-1","qty":1,"price":0}]`,
		"negative price": `[{"id":"prod-1","qty":1,"price":-2}]`,
	}
	for name, raw := range cases {
		if _, err := ParseManifest(raw, v); err == nil {
			t.Fatalf("%s: expected error, got nil", name)
		}
	}
}

func TestParseManifest_RejectsDuplicateProducts(t *testing.T) {
	v := New()

	// two lines for one product cannot both satisfy the per-order product
	// uniqueness constraint
	_, err := ParseManifest(`[{"id":"prod-1","qty":1,"price":1},{"id":"prod-1","qty":2,"price":1}]`, v)
	if err == nil {
		t.Fatal("expected duplicate product ids to be rejected")
	}
}
