package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/cache/redis"
	"github.com/kinloop/backend/internal/metrics"
	"github.com/kinloop/backend/pkg/logger"
	"github.com/kinloop/backend/pkg/utils"
)

const defaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Candidate is a deduplicated result annotated for the pipeline: which query
// produced it, which platform the URL belongs to, and (after the fetch stage)
// the cleaned page content.
type Candidate struct {
	URL         string
	Title       string
	Snippet     string
	Platform    string
	QuerySource string
	Content     string
}

type Client struct {
	apiKey     string
	engineID   string
	maxResults int
	baseURL    string
	httpClient *http.Client
	cache      *redis.Client
	cacheTTL   time.Duration
}

// NewClient builds a gateway against the Custom Search JSON API. cache may be
// nil; results are then always fetched live.
func NewClient(apiKey, engineID string, maxResults int, cache *redis.Client, cacheTTL time.Duration) *Client {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Client{
		apiKey:     apiKey,
		engineID:   engineID,
		maxResults: maxResults,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

// Configured reports whether search credentials are present.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.engineID != ""
}

// Search runs one query and returns normalized results. It never returns an
// error: missing credentials, network failures, non-2xx statuses, and empty
// result sets all collapse to an empty slice. Callers treat search as a
// best-effort signal, not a dependency.
func (c *Client) Search(ctx context.Context, query string) []Result {
	if !c.Configured() {
		logger.Warn("Search skipped: missing credentials")
		return nil
	}

	queryHash := utils.HashString(query)
	if c.cache != nil {
		var cached []Result
		if hit, err := c.cache.GetSearch(ctx, queryHash, &cached); err == nil && hit {
			metrics.CacheHits.WithLabelValues("search").Inc()
			return cached
		}
	}

	params := url.Values{}
	params.Add("key", c.apiKey)
	params.Add("cx", c.engineID)
	params.Add("q", query)
	params.Add("num", fmt.Sprintf("%d", c.maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		logger.Warn("Search request build failed", zap.Error(err))
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("Search request failed", zap.String("query", query), zap.Error(err))
		metrics.SearchCalls.WithLabelValues("error").Inc()
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Search returned non-OK status",
			zap.String("query", query),
			zap.Int("status", resp.StatusCode),
		)
		metrics.SearchCalls.WithLabelValues("error").Inc()
		return nil
	}
	metrics.SearchCalls.WithLabelValues("ok").Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn("Search response read failed", zap.Error(err))
		return nil
	}

	var searchResp struct {
		Items []Result `json:"items"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		logger.Warn("Search response parse failed", zap.Error(err))
		return nil
	}

	logger.Debug("Search completed", zap.String("query", query), zap.Int("results", len(searchResp.Items)))

	if c.cache != nil && len(searchResp.Items) > 0 {
		c.cache.SetSearch(ctx, queryHash, searchResp.Items, c.cacheTTL)
	}

	return searchResp.Items
}

// SearchAll fans out one Search call per query under a shared wall-clock
// budget, then recombines results positionally and deduplicates by link.
// Queries that miss the budget contribute nothing; they are not errors.
func (c *Client) SearchAll(ctx context.Context, queries []string, budget time.Duration) []Candidate {
	if len(queries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	batches := make([][]Result, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			batches[i] = c.Search(ctx, q)
		}(i, q)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Budget exhausted: in-flight calls see the cancelled context and
		// write nil; whatever already landed is used as-is. The batches
		// slice is only read after Wait below.
		<-done
	}

	return Dedupe(batches, queries)
}

// Dedupe flattens per-query batches in query order, dropping repeated links.
// The first query to surface a URL owns it.
func Dedupe(batches [][]Result, queries []string) []Candidate {
	seen := make(map[string]bool)
	var candidates []Candidate

	for i, batch := range batches {
		querySource := ""
		if i < len(queries) {
			querySource = queries[i]
		}
		for _, result := range batch {
			if result.Link == "" || seen[result.Link] {
				continue
			}
			seen[result.Link] = true
			candidates = append(candidates, Candidate{
				URL:         result.Link,
				Title:       result.Title,
				Snippet:     result.Snippet,
				Platform:    ClassifyPlatform(result.Link),
				QuerySource: querySource,
			})
		}
	}

	return candidates
}

// ClassifyPlatform labels a URL by its known public surface.
func ClassifyPlatform(link string) string {
	switch {
	case strings.Contains(link, "linkedin.com"):
		return "LinkedIn"
	case strings.Contains(link, "twitter.com"), strings.Contains(link, "x.com"):
		return "X/Twitter"
	case strings.Contains(link, "github.com"):
		return "GitHub"
	case strings.Contains(link, "medium.com"):
		return "Medium"
	case strings.Contains(link, "substack.com"):
		return "Substack"
	case strings.Contains(link, "instagram.com"):
		return "Instagram"
	default:
		return "Web"
	}
}

// Formatted renders candidates as the source-attributed block fed to
// extraction prompts.
func Formatted(candidates []Candidate) string {
	if len(candidates) == 0 {
		return ""
	}

	parts := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Content != "" {
			parts = append(parts, fmt.Sprintf("[Source: %s](%s):\n%s", cand.Title, cand.URL, cand.Content))
		} else {
			parts = append(parts, fmt.Sprintf("[Source: %s](%s):\n%s", cand.Title, cand.URL, cand.Snippet))
		}
	}
	return strings.Join(parts, "\n\n")
}
