package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kinloop/backend/internal/llm"
	"github.com/kinloop/backend/internal/search/web"
	"github.com/kinloop/backend/internal/storage/models"
	"github.com/kinloop/backend/internal/storage/sqlite"
)

type fakeStore struct {
	contacts     map[string]models.Contact
	interactions map[string][]models.Interaction
	runs         []models.EnrichmentRun
	events       []models.Event
	prompts      []models.GeneratedPrompt
	updates      int
}

func newFakeStore(contacts ...models.Contact) *fakeStore {
	s := &fakeStore{
		contacts:     make(map[string]models.Contact),
		interactions: make(map[string][]models.Interaction),
	}
	for _, c := range contacts {
		if c.HealthScore == 0 {
			c.HealthScore = -1
		}
		s.contacts[c.ID] = c
	}
	return s
}

func (s *fakeStore) GetContact(id string) (*models.Contact, error) {
	c, ok := s.contacts[id]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	copied := c
	return &copied, nil
}

func (s *fakeStore) UpdateEnrichment(contact *models.Contact) error {
	if _, ok := s.contacts[contact.ID]; !ok {
		return sqlite.ErrNotFound
	}
	s.contacts[contact.ID] = *contact
	s.updates++
	return nil
}

func (s *fakeStore) GetInteractions(contactID string) ([]models.Interaction, error) {
	return s.interactions[contactID], nil
}

func (s *fakeStore) InsertInteraction(interaction *models.Interaction) error {
	s.interactions[interaction.ContactID] = append(s.interactions[interaction.ContactID], *interaction)
	return nil
}

func (s *fakeStore) InsertGeneratedPrompts(prompts []models.GeneratedPrompt) error {
	s.prompts = append(s.prompts, prompts...)
	return nil
}

func (s *fakeStore) InsertEvents(events []models.Event) error {
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) InsertEnrichmentRun(run *models.EnrichmentRun) error {
	s.runs = append(s.runs, *run)
	return nil
}

func (s *fakeStore) ListStaleContacts(cutoff time.Time, limit int) ([]models.Contact, error) {
	var stale []models.Contact
	for _, c := range s.contacts {
		if c.LastAnalyzed == nil || c.LastAnalyzed.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

type fakeSearcher struct {
	results []web.Candidate
	calls   int
}

func (f *fakeSearcher) Configured() bool { return true }

func (f *fakeSearcher) SearchAll(ctx context.Context, queries []string, budget time.Duration) []web.Candidate {
	f.calls++
	return f.results
}

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) FetchAll(ctx context.Context, urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = f.pages[u]
	}
	return out
}

// fakeCompleter replays scripted JSON responses in order, reproducing the
// real client's malformed-response error on unparseable content.
type fakeCompleter struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeCompleter) Configured() bool { return true }

func (f *fakeCompleter) CompleteJSON(ctx context.Context, req llm.CompletionRequest, out interface{}) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if len(f.responses) == 0 {
		return errors.New("no scripted response left")
	}
	raw := f.responses[0]
	f.responses = f.responses[1:]
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &llm.MalformedResponseError{Raw: raw, Err: err}
	}
	return nil
}

type fakeLocker struct {
	allow    bool
	released int
}

func (f *fakeLocker) AcquireEnrichLock(ctx context.Context, contactID string, ttl time.Duration) (bool, error) {
	return f.allow, nil
}

func (f *fakeLocker) ReleaseEnrichLock(ctx context.Context, contactID string) error {
	f.released++
	return nil
}

func newPipeline(store *fakeStore, searcher *fakeSearcher, fetcher *fakeFetcher, completer *fakeCompleter, locker Locker) *Pipeline {
	return NewPipeline(store, searcher, fetcher, NewExtractor(completer), locker, Options{})
}

func TestEnrichNameAndCompanyMatch(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe", Job: "Acme Corp"})
	searcher := &fakeSearcher{results: []web.Candidate{{
		URL:     "https://example.com/jane",
		Title:   "Jane Doe - Acme Corp",
		Snippet: "Jane Doe is a product manager at Acme Corp in Austin.",
	}}}
	completer := &fakeCompleter{responses: []string{
		`{"confidence": "medium", "match_reasoning": "name and company corroborated",
		  "job": "Product Manager", "company": "Acme Corp", "interests": []}`,
	}}

	pipeline := newPipeline(store, searcher, &fakeFetcher{}, completer, nil)
	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected success, got reason %q", result.Reason)
	}
	if result.Confidence != "medium" {
		t.Errorf("confidence = %q, want medium", result.Confidence)
	}
	if result.NewInterests != 0 {
		t.Errorf("snippet carries no sustained interest, but %d were added", result.NewInterests)
	}

	saved := store.contacts["c1"]
	if !strings.Contains(saved.Job, "Acme Corp") {
		t.Errorf("job should include the company, got %q", saved.Job)
	}
	if saved.LastAnalyzed == nil {
		t.Error("lastAnalyzed not set")
	}
	if len(store.runs) != 1 || store.runs[0].Outcome != "done" {
		t.Errorf("run record wrong: %+v", store.runs)
	}
}

func TestEnrichMissingName(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "  ", Job: "Acme"})
	searcher := &fakeSearcher{}

	pipeline := newPipeline(store, searcher, &fakeFetcher{}, &fakeCompleter{}, nil)
	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Reason, "name") {
		t.Errorf("reason should mention the missing name: %q", result.Reason)
	}
	if searcher.calls != 0 {
		t.Errorf("no external calls allowed, got %d searches", searcher.calls)
	}
}

func TestEnrichNoAnchors(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe"})
	searcher := &fakeSearcher{}
	completer := &fakeCompleter{}

	pipeline := newPipeline(store, searcher, &fakeFetcher{}, completer, nil)
	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Success {
		t.Fatal("expected gate rejection")
	}
	if !strings.Contains(result.Reason, "anchor") {
		t.Errorf("reason = %q, want anchors mentioned", result.Reason)
	}
	if searcher.calls != 0 || completer.calls != 0 {
		t.Errorf("gate must block all external calls: searches=%d completions=%d", searcher.calls, completer.calls)
	}
	if store.updates != 0 {
		t.Error("contact must not be touched")
	}
}

func TestEnrichNoResultsNoHistory(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe", Job: "Acme"})
	pipeline := newPipeline(store, &fakeSearcher{}, &fakeFetcher{}, &fakeCompleter{}, nil)

	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Reason, "no search results") {
		t.Errorf("expected no-results abort, got %+v", result)
	}
	if store.updates != 0 {
		t.Error("aborted run must not write")
	}
}

func TestEnrichNoResultsFallsBackToHistory(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "John Ames", Job: "Acme"})
	notes := "He loves hiking and he's training for a marathon."
	store.interactions["c1"] = []models.Interaction{
		{Notes: notes, Date: day("2026-08-01")},
		{Notes: notes, Date: day("2026-08-15")},
	}
	completer := &fakeCompleter{responses: []string{
		`{"summary": "John is an engineer at Acme.", "relationship_summary": "Monthly hikes.",
		  "interests": [{"name": "Hiking", "category": "Personal", "evidence": "He loves hiking"}],
		  "detected_fields": ["engineering"]}`,
	}}

	pipeline := newPipeline(store, &fakeSearcher{}, &fakeFetcher{}, completer, nil)
	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected history fallback to succeed, got %q", result.Reason)
	}
	if result.NewInterests != 1 {
		t.Errorf("new interests = %d, want 1", result.NewInterests)
	}

	saved := store.contacts["c1"]
	if len(saved.Interests) != 1 || saved.Interests[0].Name != "Hiking" {
		t.Errorf("saved interests wrong: %v", saved.Interests)
	}
	if saved.Interests[0].Confidence < HistoryDiscardThreshold {
		t.Errorf("persisted under threshold: %v", saved.Interests[0].Confidence)
	}
	if saved.AISummary == "" {
		t.Error("summary not saved")
	}
}

func TestEnrichLowConfidenceDiscarded(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe", Job: "Acme"})
	searcher := &fakeSearcher{results: []web.Candidate{{URL: "https://a.example", Title: "Some Jane"}}}
	completer := &fakeCompleter{responses: []string{
		`{"confidence": "low", "match_reasoning": "different city implied",
		  "bio": "Should never be written", "interests": [{"name": "Skiing", "category": "Personal"}]}`,
	}}

	pipeline := newPipeline(store, searcher, &fakeFetcher{}, completer, nil)
	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Success {
		t.Fatal("low confidence must abort")
	}
	if store.updates != 0 {
		t.Error("low-confidence result must make no contact change")
	}
	saved := store.contacts["c1"]
	if saved.Bio != "" || len(saved.Interests) != 0 {
		t.Errorf("partial merge leaked: %+v", saved)
	}
	if len(store.runs) != 1 || store.runs[0].Outcome != "aborted" {
		t.Errorf("run record wrong: %+v", store.runs)
	}
}

func TestEnrichMalformedExtractionSoleSource(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe", Job: "Acme"})
	searcher := &fakeSearcher{results: []web.Candidate{{URL: "https://a.example", Title: "Jane"}}}
	completer := &fakeCompleter{responses: []string{`this is not json`}}

	pipeline := newPipeline(store, searcher, &fakeFetcher{}, completer, nil)
	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Success {
		t.Fatal("sole malformed extraction must fail the run")
	}
	if !strings.Contains(result.Reason, "extraction failed") {
		t.Errorf("reason should reference the parse failure: %q", result.Reason)
	}
	if store.updates != 0 {
		t.Error("no write on malformed extraction")
	}
}

func TestEnrichMalformedExtractionFallsBackToHistory(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe", Job: "Acme"})
	store.interactions["c1"] = []models.Interaction{
		{Notes: "She loves pottery.", Date: day("2026-08-01")},
		{Notes: "More pottery talk.", Date: day("2026-08-09")},
	}
	searcher := &fakeSearcher{results: []web.Candidate{{URL: "https://a.example", Title: "Jane"}}}
	completer := &fakeCompleter{responses: []string{
		`not json at all`,
		`{"summary": "s", "relationship_summary": "r",
		  "interests": [{"name": "Pottery", "category": "Personal"}]}`,
	}}

	pipeline := newPipeline(store, searcher, &fakeFetcher{}, completer, nil)
	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Fatalf("history fallback should succeed, got %q", result.Reason)
	}
	if result.NewInterests != 1 {
		t.Errorf("new interests = %d, want 1", result.NewInterests)
	}
}

func TestEnrichTwiceIsIdempotent(t *testing.T) {
	identityJSON := `{"confidence": "high", "match_reasoning": "multiple sources",
		"interests": [{"name": "Hiking", "category": "Personal", "link": "https://a.example"}]}`

	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe", Job: "Acme"})
	searcher := &fakeSearcher{results: []web.Candidate{
		{URL: "https://a.example", Title: "Jane on hiking", Snippet: "hiking trip reports"},
		{URL: "https://b.example", Title: "Profile", Content: "avid hiking enthusiast"},
	}}
	completer := &fakeCompleter{responses: []string{identityJSON, identityJSON}}

	pipeline := newPipeline(store, searcher, &fakeFetcher{}, completer, nil)

	first, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil || !first.Success {
		t.Fatalf("first run failed: %v / %+v", err, first)
	}
	if first.NewInterests != 1 {
		t.Fatalf("first run added %d interests, want 1", first.NewInterests)
	}

	second, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil || !second.Success {
		t.Fatalf("second run failed: %v / %+v", err, second)
	}
	if second.NewInterests != 0 || second.NewTags != 0 {
		t.Errorf("second run must be a no-op: %+v", second)
	}

	saved := store.contacts["c1"]
	if len(saved.Interests) != 1 {
		t.Errorf("interest duplicated: %v", saved.Interests)
	}
}

func TestEnrichLockContention(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe", Job: "Acme"})
	searcher := &fakeSearcher{}
	locker := &fakeLocker{allow: false}

	pipeline := newPipeline(store, searcher, &fakeFetcher{}, &fakeCompleter{}, locker)
	result, err := pipeline.EnrichContact(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Success || !strings.Contains(result.Reason, "in progress") {
		t.Errorf("expected lock-contention outcome, got %+v", result)
	}
	if searcher.calls != 0 {
		t.Error("contended run must not start the pipeline")
	}
}

func TestEnrichLockReleased(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe"})
	locker := &fakeLocker{allow: true}

	pipeline := newPipeline(store, &fakeSearcher{}, &fakeFetcher{}, &fakeCompleter{}, locker)
	if _, err := pipeline.EnrichContact(context.Background(), "c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if locker.released != 1 {
		t.Errorf("lock released %d times, want 1", locker.released)
	}
}

func TestEnrichContactNotFound(t *testing.T) {
	pipeline := newPipeline(newFakeStore(), &fakeSearcher{}, &fakeFetcher{}, &fakeCompleter{}, nil)
	if _, err := pipeline.EnrichContact(context.Background(), "ghost"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
