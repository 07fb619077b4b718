package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/llm"
	"github.com/kinloop/backend/internal/metrics"
	"github.com/kinloop/backend/internal/search/query"
	"github.com/kinloop/backend/internal/search/web"
	"github.com/kinloop/backend/internal/storage/models"
	"github.com/kinloop/backend/pkg/jobtitle"
	"github.com/kinloop/backend/pkg/logger"
)

// Store is the slice of the storage layer the pipeline reads and writes.
type Store interface {
	GetContact(id string) (*models.Contact, error)
	UpdateEnrichment(contact *models.Contact) error
	GetInteractions(contactID string) ([]models.Interaction, error)
	InsertInteraction(interaction *models.Interaction) error
	InsertGeneratedPrompts(prompts []models.GeneratedPrompt) error
	InsertEvents(events []models.Event) error
	InsertEnrichmentRun(run *models.EnrichmentRun) error
}

// Searcher fans out search queries under a wall-clock budget.
type Searcher interface {
	Configured() bool
	SearchAll(ctx context.Context, queries []string, budget time.Duration) []web.Candidate
}

// PageFetcher retrieves cleaned page text, positionally aligned with its
// input URLs.
type PageFetcher interface {
	FetchAll(ctx context.Context, urls []string) []string
}

// Locker serializes enrichment runs per contact. May be nil (no Redis), in
// which case concurrent runs race and the merge's idempotence bounds the
// damage.
type Locker interface {
	AcquireEnrichLock(ctx context.Context, contactID string, ttl time.Duration) (bool, error)
	ReleaseEnrichLock(ctx context.Context, contactID string) error
}

// Options carry the tunable run limits.
type Options struct {
	MaxCandidates int
	MaxFetchPages int
	SearchBudget  time.Duration
	LockTTL       time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 15
	}
	if o.MaxFetchPages <= 0 {
		o.MaxFetchPages = 5
	}
	if o.SearchBudget <= 0 {
		o.SearchBudget = 4500 * time.Millisecond
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
}

// Result is the caller-facing outcome of one pipeline run.
type Result struct {
	Success      bool   `json:"success"`
	Reason       string `json:"reason,omitempty"`
	Confidence   string `json:"confidence,omitempty"`
	NewInterests int    `json:"new_interests"`
	NewTags      int    `json:"new_tags"`
}

// Pipeline sequences the enrichment stages for one contact:
// GATE -> SEARCH -> FETCH -> EXTRACT -> SCORE -> MERGE -> DONE, aborting
// from GATE, SEARCH, or SCORE. Merge is the only write, last and atomic.
type Pipeline struct {
	store     Store
	searcher  Searcher
	fetcher   PageFetcher
	extractor *Extractor
	locker    Locker
	opts      Options
}

func NewPipeline(store Store, searcher Searcher, fetcher PageFetcher, extractor *Extractor, locker Locker, opts Options) *Pipeline {
	opts.withDefaults()
	return &Pipeline{
		store:     store,
		searcher:  searcher,
		fetcher:   fetcher,
		extractor: extractor,
		locker:    locker,
		opts:      opts,
	}
}

// EnrichContact runs the full pipeline for one contact. Soft outcomes (no
// anchors, no results, low confidence, lock contention) come back as a
// Result with Success=false; only storage and not-found failures are errors.
func (p *Pipeline) EnrichContact(ctx context.Context, contactID string) (*Result, error) {
	start := time.Now()

	contact, err := p.store.GetContact(contactID)
	if err != nil {
		return nil, err
	}

	if p.locker != nil {
		acquired, err := p.locker.AcquireEnrichLock(ctx, contactID, p.opts.LockTTL)
		if err != nil {
			logger.Warn("Enrich lock unavailable, proceeding unserialized", zap.Error(err))
		} else if !acquired {
			return p.finish(contact, start, &Result{Success: false, Reason: ErrEnrichInProgress.Error()}, "aborted")
		} else {
			defer p.locker.ReleaseEnrichLock(context.WithoutCancel(ctx), contactID)
		}
	}

	result := p.run(ctx, contact, start)
	outcome := "done"
	if !result.Success {
		outcome = "aborted"
	}
	return p.finish(contact, start, result, outcome)
}

func (p *Pipeline) run(ctx context.Context, contact *models.Contact, start time.Time) *Result {
	// GATE
	if strings.TrimSpace(contact.Name) == "" {
		return &Result{Success: false, Reason: ErrNoName.Error()}
	}
	identity := identityOf(contact)
	if !hasAnyAnchor(contact) {
		return &Result{Success: false, Reason: ErrNoAnchors.Error()}
	}

	interactions, err := p.store.GetInteractions(contact.ID)
	if err != nil {
		logger.Warn("Failed to load interactions, continuing without history", zap.Error(err))
		interactions = nil
	}

	// SEARCH
	searchStart := time.Now()
	// A gate-passing contact can still lack searchable anchors (phone only);
	// history is the fallback there too.
	queries, err := query.Build(identity, true)
	if err != nil {
		if len(interactions) > 0 {
			return p.runHistoryOnly(ctx, contact, interactions)
		}
		return &Result{Success: false, Reason: ErrNoAnchors.Error()}
	}

	var candidates []web.Candidate
	if p.searcher != nil && p.searcher.Configured() {
		candidates = p.searcher.SearchAll(ctx, queries, p.opts.SearchBudget)
	}
	if len(candidates) > p.opts.MaxCandidates {
		candidates = candidates[:p.opts.MaxCandidates]
	}
	metrics.StageDuration.WithLabelValues("search").Observe(time.Since(searchStart).Seconds())

	if len(candidates) == 0 {
		if len(interactions) == 0 {
			return &Result{Success: false, Reason: ErrNoResults.Error()}
		}
		return p.runHistoryOnly(ctx, contact, interactions)
	}

	// FETCH: top pages become source of truth over their snippets.
	fetchStart := time.Now()
	fetchCount := len(candidates)
	if fetchCount > p.opts.MaxFetchPages {
		fetchCount = p.opts.MaxFetchPages
	}
	if p.fetcher != nil {
		urls := make([]string, fetchCount)
		for i := 0; i < fetchCount; i++ {
			urls[i] = candidates[i].URL
		}
		excerpts := p.fetcher.FetchAll(ctx, urls)
		for i, text := range excerpts {
			candidates[i].Content = text
		}
	}
	metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(fetchStart).Seconds())

	// EXTRACT
	extractStart := time.Now()
	analysis, err := p.extractor.VerifyIdentity(ctx, contact, web.Formatted(candidates))
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(extractStart).Seconds())
	if err != nil {
		var malformed *llm.MalformedResponseError
		if errors.As(err, &malformed) && len(interactions) > 0 {
			logger.Warn("Web extraction unparseable, falling back to history",
				zap.String("contact_id", contact.ID), zap.Error(err))
			return p.runHistoryOnly(ctx, contact, interactions)
		}
		return &Result{Success: false, Reason: fmt.Sprintf("extraction failed: %v", err)}
	}

	// SCORE
	tier := ParseTier(analysis.Confidence)
	if tier == TierLow {
		return &Result{Success: false, Reason: ErrLowConfidence.Error(), Confidence: tier.String()}
	}
	interests := ScoreWebInterests(analysis.Interests, candidates)

	// MERGE
	result := &Result{Success: true, Confidence: tier.String()}
	contact.Interests, result.NewInterests = MergeInterests(contact.Interests, interests)
	contact.SocialLinks, _ = MergeSocials(contact.SocialLinks, analysis.Socials)
	contact.Bio = MergeBio(contact.Bio, analysis.Bio, tier)
	if analysis.Job != "" || analysis.Company != "" {
		contact.Job = MergeJob(contact.Job, analysis.Job, analysis.Company)
	}
	if contact.Location == "" {
		contact.Location = analysis.Location
	}
	if analysis.RelationshipSummary != "" && contact.RelationshipSummary == "" {
		contact.RelationshipSummary = analysis.RelationshipSummary
	}

	tags := interestNames(interests)
	contact.Tags, result.NewTags = MergeTags(contact.Tags, tags)

	now := time.Now()
	contact.LastAnalyzed = &now
	if err := p.store.UpdateEnrichment(contact); err != nil {
		return &Result{Success: false, Reason: fmt.Sprintf("failed to save enrichment: %v", err)}
	}

	p.persistEvents(contact.ID, analysis.Events)
	metrics.InterestsPersisted.WithLabelValues("web").Add(float64(result.NewInterests))

	return result
}

// runHistoryOnly is the reduced-context path when search produced nothing
// usable: extract from interaction notes alone, at the looser threshold.
func (p *Pipeline) runHistoryOnly(ctx context.Context, contact *models.Contact, interactions []models.Interaction) *Result {
	extractStart := time.Now()
	analysis, err := p.extractor.AnalyzeHistory(ctx, contact, interactions, "")
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(extractStart).Seconds())
	if err != nil {
		return &Result{Success: false, Reason: fmt.Sprintf("extraction failed: %v", err)}
	}

	interests := ScoreHistoryInterests(analysis.Interests, interactions)

	result := &Result{Success: true, Confidence: TierMedium.String()}
	contact.Interests, result.NewInterests = MergeInterests(contact.Interests, interests)
	if analysis.DetectedJobTitle != "" || analysis.DetectedCompany != "" {
		contact.Job = MergeJob(contact.Job, analysis.DetectedJobTitle, analysis.DetectedCompany)
	}
	if contact.Location == "" {
		contact.Location = analysis.DetectedLocation
	}
	contact.Bio = MergeBio(contact.Bio, analysis.DetectedBio, TierMedium)
	if analysis.Summary != "" {
		contact.AISummary = analysis.Summary
	}
	if analysis.RelationshipSummary != "" {
		contact.RelationshipSummary = analysis.RelationshipSummary
	}

	tags := append(analysis.DetectedFields, analysis.DetectedSkills...)
	contact.Tags, result.NewTags = MergeTags(contact.Tags, tags)

	now := time.Now()
	contact.LastAnalyzed = &now
	if err := p.store.UpdateEnrichment(contact); err != nil {
		return &Result{Success: false, Reason: fmt.Sprintf("failed to save enrichment: %v", err)}
	}

	metrics.InterestsPersisted.WithLabelValues("history").Add(float64(result.NewInterests))
	return result
}

func (p *Pipeline) finish(contact *models.Contact, start time.Time, result *Result, outcome string) (*Result, error) {
	metrics.EnrichmentRuns.WithLabelValues(outcome).Inc()

	run := &models.EnrichmentRun{
		ID:           uuid.NewString(),
		ContactID:    contact.ID,
		Outcome:      outcome,
		Reason:       result.Reason,
		Confidence:   result.Confidence,
		NewInterests: result.NewInterests,
		NewTags:      result.NewTags,
		LatencyMS:    int(time.Since(start).Milliseconds()),
	}
	if err := p.store.InsertEnrichmentRun(run); err != nil {
		logger.Warn("Failed to record enrichment run", zap.Error(err))
	}

	logger.Info("Enrichment run finished",
		zap.String("contact_id", contact.ID),
		zap.String("outcome", outcome),
		zap.String("reason", result.Reason),
		zap.Int("new_interests", result.NewInterests),
		zap.Int("new_tags", result.NewTags),
	)
	return result, nil
}

func (p *Pipeline) persistEvents(contactID string, extracted []ExtractedEvent) {
	if len(extracted) == 0 {
		return
	}
	events := make([]models.Event, 0, len(extracted))
	for _, e := range extracted {
		if strings.TrimSpace(e.Description) == "" {
			continue
		}
		events = append(events, models.Event{
			ID:          uuid.NewString(),
			ContactID:   contactID,
			Description: e.Description,
			Date:        e.Date,
			SourceURL:   e.SourceURL,
			SourceType:  "web",
		})
	}
	if err := p.store.InsertEvents(events); err != nil {
		logger.Warn("Failed to persist events", zap.Error(err))
	}
}

func identityOf(contact *models.Contact) query.Identity {
	parsed := jobtitle.Parse(contact.Job)
	return query.Identity{
		Name:     contact.Name,
		Email:    contact.Email,
		Job:      parsed.Title,
		Company:  parsed.Company,
		Location: contact.Location,
		Socials:  contact.SocialLinks,
	}
}

// hasAnyAnchor is the GATE check: phone counts here even though the query
// builder never searches on it, because a phone-only contact is still worth
// the history-only path.
func hasAnyAnchor(contact *models.Contact) bool {
	return strings.TrimSpace(contact.Email) != "" ||
		strings.TrimSpace(contact.Phone) != "" ||
		strings.TrimSpace(contact.Job) != "" ||
		strings.TrimSpace(contact.Location) != "" ||
		len(contact.SocialLinks) > 0
}

func interestNames(interests []models.Interest) []string {
	names := make([]string, 0, len(interests))
	for _, interest := range interests {
		names = append(names, interest.Name)
	}
	return names
}
