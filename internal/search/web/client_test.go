package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-key", "test-cx", 10, nil, 0)
	client.baseURL = server.URL
	return client, server
}

func TestSearchParsesItems(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != `"Jane Doe" "Acme"` {
			t.Errorf("unexpected query param: %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []Result{
				{Title: "Jane Doe - Acme", Link: "https://acme.io/team/jane", Snippet: "Jane leads product."},
			},
		})
	})

	results := client.Search(context.Background(), `"Jane Doe" "Acme"`)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Link != "https://acme.io/team/jane" {
		t.Errorf("unexpected link: %q", results[0].Link)
	}
}

func TestSearchSwallowsFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"no items", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.handler)
			if results := client.Search(context.Background(), "anything"); len(results) != 0 {
				t.Errorf("expected empty results, got %v", results)
			}
		})
	}
}

func TestSearchUnconfigured(t *testing.T) {
	client := NewClient("", "", 10, nil, 0)
	if results := client.Search(context.Background(), "anything"); results != nil {
		t.Errorf("expected nil results without credentials, got %v", results)
	}
}

func TestSearchAllRecombinesInQueryOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		var items []Result
		switch {
		case strings.Contains(q, "first"):
			items = []Result{
				{Title: "A", Link: "https://a.example"},
				{Title: "Shared", Link: "https://shared.example"},
			}
		case strings.Contains(q, "second"):
			items = []Result{
				{Title: "Shared dup", Link: "https://shared.example"},
				{Title: "B", Link: "https://b.example"},
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	})

	candidates := client.SearchAll(context.Background(), []string{"first", "second"}, 2*time.Second)

	wantLinks := []string{"https://a.example", "https://shared.example", "https://b.example"}
	if len(candidates) != len(wantLinks) {
		t.Fatalf("got %d candidates, want %d: %+v", len(candidates), len(wantLinks), candidates)
	}
	for i, want := range wantLinks {
		if candidates[i].URL != want {
			t.Errorf("candidate %d = %q, want %q", i, candidates[i].URL, want)
		}
	}
	if candidates[1].QuerySource != "first" {
		t.Errorf("duplicate link should keep first query as source, got %q", candidates[1].QuerySource)
	}
}

func TestSearchAllHonorsBudget(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []Result{{Title: "Late", Link: "https://late.example"}},
		})
	})

	start := time.Now()
	candidates := client.SearchAll(context.Background(), []string{"slow"}, 50*time.Millisecond)
	elapsed := time.Since(start)

	if len(candidates) != 0 {
		t.Errorf("expected no candidates past budget, got %v", candidates)
	}
	if elapsed > time.Second {
		t.Errorf("SearchAll blocked past budget: %v", elapsed)
	}
}

func TestClassifyPlatform(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://www.linkedin.com/in/jane", "LinkedIn"},
		{"https://twitter.com/jane", "X/Twitter"},
		{"https://x.com/jane", "X/Twitter"},
		{"https://github.com/jane", "GitHub"},
		{"https://medium.com/@jane", "Medium"},
		{"https://jane.substack.com/p/post", "Substack"},
		{"https://acme.io/team/jane", "Web"},
	}
	for _, tt := range tests {
		if got := ClassifyPlatform(tt.link); got != tt.want {
			t.Errorf("ClassifyPlatform(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestFormattedPrefersContent(t *testing.T) {
	out := Formatted([]Candidate{
		{Title: "Post", URL: "https://a.example", Snippet: "snippet", Content: "full text"},
		{Title: "Hit", URL: "https://b.example", Snippet: "only snippet"},
	})

	if !strings.Contains(out, "[Source: Post](https://a.example):\nfull text") {
		t.Errorf("content candidate formatted wrong:\n%s", out)
	}
	if !strings.Contains(out, "[Source: Hit](https://b.example):\nonly snippet") {
		t.Errorf("snippet fallback formatted wrong:\n%s", out)
	}
}
