package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/kinloop/backend/internal/storage/models"
)

func TestBuildStrictNoAnchors(t *testing.T) {
	_, err := Build(Identity{Name: "Jane Doe"}, true)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestBuildLenientNoAnchors(t *testing.T) {
	queries, err := Build(Identity{Name: "Jane Doe"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 1 || queries[0] != `"Jane Doe"` {
		t.Fatalf("expected single quoted-name query, got %v", queries)
	}
}

func TestBuildMissingName(t *testing.T) {
	if _, err := Build(Identity{Company: "Acme"}, false); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestBuildQuotedNameEverywhere(t *testing.T) {
	queries, err := Build(Identity{
		Name:     "Jane Doe",
		Company:  "Acme Corp",
		Job:      "Product Manager",
		Location: "Austin, TX",
	}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) == 0 {
		t.Fatal("expected queries")
	}
	for _, q := range queries {
		if !strings.Contains(q, `"Jane Doe"`) {
			t.Errorf("query missing quoted name: %q", q)
		}
		if strings.TrimSpace(q) == "" {
			t.Error("empty query emitted")
		}
	}
}

func TestConfirmationVariants(t *testing.T) {
	variants := ConfirmationVariants(Identity{
		Name:     "Jane Doe",
		Company:  "Acme Corp",
		Job:      "Product Manager",
		Location: "Austin, TX",
	})

	want := []string{
		`"Jane Doe" "Acme Corp"`,
		`"Jane Doe" "Acme Corp" "Product Manager"`,
		`"Jane Doe" "Acme Corp" "Austin"`,
	}
	if len(variants) != len(want) {
		t.Fatalf("got %d variants, want %d: %v", len(variants), len(want), variants)
	}
	for i := range want {
		if variants[i] != want[i] {
			t.Errorf("variant %d = %q, want %q", i, variants[i], want[i])
		}
	}
}

func TestConfirmationVariantsCompanyOnly(t *testing.T) {
	variants := ConfirmationVariants(Identity{Name: "Jane Doe", Company: "Acme"})
	if len(variants) != 1 {
		t.Fatalf("expected 1 variant, got %v", variants)
	}
}

func TestAnchorPriority(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
	}{
		{
			"email domain beats company",
			Identity{Name: "Jane Doe", Email: "jane@acme.io", Company: "Acme"},
			`"Jane Doe" acme.io`,
		},
		{
			"freemail skipped",
			Identity{Name: "Jane Doe", Email: "jane@gmail.com", Location: "Austin"},
			`"Jane Doe" "Austin"`,
		},
		{
			"location plus job",
			Identity{Name: "Jane Doe", Location: "Austin, TX", Job: "Engineer"},
			`"Jane Doe" "Austin" "Engineer"`,
		},
		{
			"job alone",
			Identity{Name: "Jane Doe", Job: "Engineer"},
			`"Jane Doe" "Engineer"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := anchorQuery(tt.id); got != tt.want {
				t.Errorf("anchorQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSurfaceQueries(t *testing.T) {
	queries := SurfaceQueries(Identity{Name: "Jane Doe", Company: "Acme"})
	if len(queries) != 4 {
		t.Fatalf("expected 4 surface queries, got %v", queries)
	}
	for _, q := range queries {
		if !strings.Contains(q, "site:") {
			t.Errorf("surface query missing site restriction: %q", q)
		}
	}
	if !strings.Contains(queries[0], "medium.com") {
		t.Errorf("surface order changed: %q", queries[0])
	}
}

func TestSurfaceQueriesNoAnchor(t *testing.T) {
	if queries := SurfaceQueries(Identity{Name: "Jane Doe"}); queries != nil {
		t.Fatalf("expected no surface queries without anchor, got %v", queries)
	}
}

func TestSocialSiteQueries(t *testing.T) {
	queries := SocialSiteQueries([]models.SocialLink{
		{Platform: "linkedin", URL: "https://www.linkedin.com/in/janedoe/?utm=x"},
		{Platform: "github", URL: "http://github.com/janedoe"},
		{Platform: "empty", URL: ""},
	})

	want := []string{
		"site:linkedin.com/in/janedoe",
		"site:github.com/janedoe",
	}
	if len(queries) != len(want) {
		t.Fatalf("got %v, want %v", queries, want)
	}
	for i := range want {
		if queries[i] != want[i] {
			t.Errorf("query %d = %q, want %q", i, queries[i], want[i])
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	id := Identity{Name: "Jane Doe", Company: "Acme", Job: "PM", Location: "Austin"}
	a, _ := Build(id, true)
	b, _ := Build(id, true)
	if len(a) != len(b) {
		t.Fatal("query count not stable")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("query %d differs between runs", i)
		}
	}
}
