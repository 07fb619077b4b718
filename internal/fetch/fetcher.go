// Package fetch pulls public pages for enrichment candidates and reduces them
// to short plain-text excerpts. Everything here is best-effort: a page that
// cannot be fetched or parsed contributes an empty excerpt, never an error.
package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/metrics"
	"github.com/kinloop/backend/pkg/logger"
)

// File types that can never yield useful text. Checked against the URL path
// before issuing the request.
var blockedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".zip":  true,
	".rar":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
}

// Boilerplate containers stripped before text extraction.
var strippedSelectors = []string{
	"script", "style", "noscript", "iframe",
	"nav", "footer", "header", "aside", "form",
	"[class*='cookie']", "[id*='cookie']",
	"[class*='banner']", "[class*='popup']",
}

type Fetcher struct {
	httpClient *http.Client
	maxChars   int
	userAgent  string
}

// NewFetcher builds a page fetcher with a per-page timeout and an excerpt cap.
func NewFetcher(timeout time.Duration, maxChars int) *Fetcher {
	if timeout <= 0 {
		timeout = 3500 * time.Millisecond
	}
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxChars:   maxChars,
		userAgent:  "Mozilla/5.0 (compatible; KinloopBot/1.0)",
	}
}

// Fetch returns a cleaned plain-text excerpt of the page at rawURL, or ""
// when the page is blocked, unreachable, non-HTML, or empty after cleanup.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) string {
	if isBlocked(rawURL) {
		logger.Debug("Fetch skipped: blocked file type", zap.String("url", rawURL))
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		logger.Debug("Fetch failed", zap.String("url", rawURL), zap.Error(err))
		metrics.PagesFetched.WithLabelValues("error").Inc()
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("Fetch non-2xx", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		metrics.PagesFetched.WithLabelValues("error").Inc()
		return ""
	}
	metrics.PagesFetched.WithLabelValues("ok").Inc()

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		logger.Debug("Fetch parse failed", zap.String("url", rawURL), zap.Error(err))
		return ""
	}

	return f.extract(doc)
}

// FetchAll fetches each URL concurrently and returns excerpts positionally
// aligned with the input. Failed fetches leave "" at their position.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []string {
	excerpts := make([]string, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			excerpts[i] = f.Fetch(ctx, u)
		}(i, u)
	}
	wg.Wait()
	return excerpts
}

// extract reduces a parsed document to its description plus body text. The
// meta description goes first: it is usually the densest identity signal on
// the page and must survive the char cap.
func (f *Fetcher) extract(doc *goquery.Document) string {
	description := metaDescription(doc)

	for _, selector := range strippedSelectors {
		doc.Find(selector).Remove()
	}

	body := collapseWhitespace(doc.Find("body").Text())

	var parts []string
	if description != "" {
		parts = append(parts, description)
	}
	if body != "" {
		parts = append(parts, body)
	}

	text := strings.Join(parts, " ")
	if len(text) > f.maxChars {
		// Back up to a rune boundary so the cap never leaves a split
		// multi-byte sequence at the end of the excerpt.
		cut := f.maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return strings.TrimSpace(text)
}

func metaDescription(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		if trimmed := strings.TrimSpace(og); trimmed != "" {
			return trimmed
		}
	}
	if meta, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		return strings.TrimSpace(meta)
	}
	return ""
}

func isBlocked(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := strings.ToLower(u.Path)
	if dot := strings.LastIndex(path, "."); dot >= 0 {
		return blockedExtensions[path[dot:]]
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
