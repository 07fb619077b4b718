package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/metrics"
	"github.com/kinloop/backend/internal/search/query"
	"github.com/kinloop/backend/internal/search/web"
	"github.com/kinloop/backend/internal/storage/models"
	"github.com/kinloop/backend/pkg/logger"
)

// Analyzer drives the interaction-centric enrichment paths: full history
// analysis, single-interaction analysis, and the log-trailed deep analysis.
type Analyzer struct {
	store     Store
	searcher  Searcher
	fetcher   PageFetcher
	extractor *Extractor
	locker    Locker
	opts      Options
}

func NewAnalyzer(store Store, searcher Searcher, fetcher PageFetcher, extractor *Extractor, locker Locker, opts Options) *Analyzer {
	opts.withDefaults()
	return &Analyzer{
		store:     store,
		searcher:  searcher,
		fetcher:   fetcher,
		extractor: extractor,
		locker:    locker,
		opts:      opts,
	}
}

// acquireLock takes the per-contact lock shared with the pipeline, so an
// analysis run cannot interleave its contact write with an enrichment run's.
// Returns a release func and whether the caller may proceed; a lock backend
// failure degrades to an unlocked run.
func (a *Analyzer) acquireLock(ctx context.Context, contactID string) (func(), bool) {
	if a.locker == nil {
		return func() {}, true
	}
	acquired, err := a.locker.AcquireEnrichLock(ctx, contactID, a.opts.LockTTL)
	if err != nil {
		logger.Warn("Enrich lock unavailable, proceeding unserialized", zap.Error(err))
		return func() {}, true
	}
	if !acquired {
		return nil, false
	}
	return func() {
		a.locker.ReleaseEnrichLock(context.WithoutCancel(ctx), contactID)
	}, true
}

// HistoryResult is the caller-facing output of AnalyzeHistory.
type HistoryResult struct {
	Summary              string            `json:"summary"`
	RelationshipSummary  string            `json:"relationship_summary"`
	Interests            []models.Interest `json:"interests"`
	DetectedJobTitle     string            `json:"detected_job_title,omitempty"`
	DetectedCompany      string            `json:"detected_company,omitempty"`
	DetectedLocation     string            `json:"detected_location,omitempty"`
	DetectedBio          string            `json:"detected_bio,omitempty"`
	DetectedEducation    []string          `json:"detected_education,omitempty"`
	DetectedFields       []string          `json:"detected_fields,omitempty"`
	DetectedSkills       []string          `json:"detected_skills,omitempty"`
	DetectedAchievements []string          `json:"detected_achievements,omitempty"`
	DetectedProjects     []string          `json:"detected_projects,omitempty"`
	DetectedLanguages    []string          `json:"detected_languages,omitempty"`
	NewInterests         int               `json:"new_interests"`
	NewTags              int               `json:"new_tags"`
}

// AnalyzeHistory extracts a profile from the contact's interaction history.
// Known social links get a targeted site-restricted lookup for extra context;
// there is no broader web crawl on this path.
func (a *Analyzer) AnalyzeHistory(ctx context.Context, contactID string) (*HistoryResult, error) {
	contact, err := a.store.GetContact(contactID)
	if err != nil {
		return nil, err
	}

	release, ok := a.acquireLock(ctx, contactID)
	if !ok {
		return nil, ErrEnrichInProgress
	}
	defer release()

	interactions, err := a.store.GetInteractions(contactID)
	if err != nil {
		return nil, err
	}
	if len(interactions) == 0 {
		return nil, ErrNoResults
	}

	socialContext := ""
	if a.searcher != nil && a.searcher.Configured() && len(contact.SocialLinks) > 0 {
		queries := query.SocialSiteQueries(contact.SocialLinks)
		candidates := a.searcher.SearchAll(ctx, queries, a.opts.SearchBudget)
		socialContext = web.Formatted(candidates)
	}

	analysis, err := a.extractor.AnalyzeHistory(ctx, contact, interactions, socialContext)
	if err != nil {
		return nil, err
	}

	interests := ScoreHistoryInterests(analysis.Interests, interactions)

	result := &HistoryResult{
		Summary:              analysis.Summary,
		RelationshipSummary:  analysis.RelationshipSummary,
		Interests:            interests,
		DetectedJobTitle:     analysis.DetectedJobTitle,
		DetectedCompany:      analysis.DetectedCompany,
		DetectedLocation:     analysis.DetectedLocation,
		DetectedBio:          analysis.DetectedBio,
		DetectedEducation:    analysis.DetectedEducation,
		DetectedFields:       analysis.DetectedFields,
		DetectedSkills:       analysis.DetectedSkills,
		DetectedAchievements: analysis.DetectedAchievements,
		DetectedProjects:     analysis.DetectedProjects,
		DetectedLanguages:    analysis.DetectedLanguages,
	}

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
	if err := a.store.UpdateEnrichment(contact); err != nil {
		return nil, err
	}

	metrics.InterestsPersisted.WithLabelValues("history").Add(float64(result.NewInterests))
	return result, nil
}

// InteractionResult is the output of AnalyzeInteraction.
type InteractionResult struct {
	Interaction    *models.Interaction  `json:"interaction"`
	Analysis       *InteractionAnalysis `json:"analysis"`
	NewHealthScore int                  `json:"new_health_score"`
}

// AnalyzeInteraction logs one interaction, analyzes it in a single pass, and
// applies the sentiment's health delta plus topic tags to the contact. When
// the LLM is unreachable the interaction is still logged, just unanalyzed.
func (a *Analyzer) AnalyzeInteraction(ctx context.Context, contactID, text, interactionType, platform string, date time.Time) (*InteractionResult, error) {
	contact, err := a.store.GetContact(contactID)
	if err != nil {
		return nil, err
	}

	release, ok := a.acquireLock(ctx, contactID)
	if !ok {
		return nil, ErrEnrichInProgress
	}
	defer release()

	if date.IsZero() {
		date = time.Now()
	}

	interaction := &models.Interaction{
		ID:        uuid.NewString(),
		ContactID: contactID,
		Type:      interactionType,
		Date:      date,
		Notes:     text,
		Platform:  platform,
	}

	var analysis *InteractionAnalysis
	if a.extractor.Configured() {
		analysis, err = a.extractor.AnalyzeInteraction(ctx, contact, text)
		if err != nil {
			logger.Warn("Interaction analysis failed, logging unanalyzed",
				zap.String("contact_id", contactID), zap.Error(err))
			analysis = nil
		}
	}

	if analysis != nil {
		interaction.Topics = analysis.Topics
		interaction.Sentiment = analysis.Sentiment
		interaction.Commitments = analysis.Commitments
	}

	if err := a.store.InsertInteraction(interaction); err != nil {
		return nil, err
	}

	sentiment := ""
	if analysis != nil {
		sentiment = analysis.Sentiment
	}
	newScore := ApplyHealthDelta(contact.HealthScore, sentiment)
	contact.HealthScore = newScore
	contact.LastContacted = &date
	contact.LastContactType = interactionType
	if analysis != nil {
		contact.Tags, _ = MergeTags(contact.Tags, analysis.Topics)
		a.applyExtractedInfo(contact, analysis)
	}

	if err := a.store.UpdateEnrichment(contact); err != nil {
		return nil, err
	}
	metrics.HealthScore.Observe(float64(newScore))

	if analysis != nil && len(analysis.Prompts) > 0 {
		prompts := make([]models.GeneratedPrompt, 0, len(analysis.Prompts))
		for _, p := range analysis.Prompts {
			prompts = append(prompts, models.GeneratedPrompt{
				ID:        uuid.NewString(),
				ContactID: contactID,
				Prompt:    p,
				Context:   firstLine(text),
				Status:    "new",
			})
		}
		if err := a.store.InsertGeneratedPrompts(prompts); err != nil {
			logger.Warn("Failed to persist generated prompts", zap.Error(err))
		}
	}

	return &InteractionResult{
		Interaction:    interaction,
		Analysis:       analysis,
		NewHealthScore: newScore,
	}, nil
}

func (a *Analyzer) applyExtractedInfo(contact *models.Contact, analysis *InteractionAnalysis) {
	info := analysis.ExtractedInfo
	if info.Job != "" {
		contact.Job = MergeJob(contact.Job, info.Job, "")
	}
	if contact.Location == "" {
		contact.Location = info.Location
	}
	if contact.Birthday == "" {
		contact.Birthday = info.Birthday
	}
}

// DeepResult is the output of DeepAnalyze: findings plus the human-readable
// log trail progress UIs render.
type DeepResult struct {
	Success             bool              `json:"success"`
	Reason              string            `json:"reason,omitempty"`
	Interests           []models.Interest `json:"interests"`
	RelationshipSummary string            `json:"relationship_summary,omitempty"`
	Logs                []string          `json:"logs"`
}

// DeepAnalyze is the web-enrichment path with a narrated log trail. sink, if
// non-nil, receives each log line as it happens (the websocket stream);
// lines are also collected into the result.
func (a *Analyzer) DeepAnalyze(ctx context.Context, contactID string, sink func(string)) (*DeepResult, error) {
	contact, err := a.store.GetContact(contactID)
	if err != nil {
		return nil, err
	}

	result := &DeepResult{}
	log := func(format string, args ...interface{}) {
		line := fmt.Sprintf(format, args...)
		result.Logs = append(result.Logs, line)
		if sink != nil {
			sink(line)
		}
	}

	release, ok := a.acquireLock(ctx, contactID)
	if !ok {
		result.Reason = ErrEnrichInProgress.Error()
		log("Another analysis run holds the lock for this contact")
		return result, nil
	}
	defer release()

	log("Starting deep analysis for %s", contact.Name)

	interactions, err := a.store.GetInteractions(contactID)
	if err != nil {
		interactions = nil
	}
	log("Loaded %d interactions", len(interactions))

	// Lenient gate: a bare name still searches here, the user asked for it.
	queries, err := query.Build(identityOf(contact), false)
	if err != nil {
		result.Reason = err.Error()
		log("Cannot build queries: %v", err)
		return result, nil
	}
	log("Built %d search queries", len(queries))

	var candidates []web.Candidate
	if a.searcher != nil && a.searcher.Configured() {
		candidates = a.searcher.SearchAll(ctx, queries, a.opts.SearchBudget)
	}
	if len(candidates) > a.opts.MaxCandidates {
		candidates = candidates[:a.opts.MaxCandidates]
	}
	log("Found %d unique results", len(candidates))

	if len(candidates) == 0 && len(interactions) == 0 {
		result.Reason = ErrNoResults.Error()
		log("Nothing to analyze: no web results and no interaction history")
		return result, nil
	}

	if len(candidates) > 0 && a.fetcher != nil {
		fetchCount := len(candidates)
		if fetchCount > a.opts.MaxFetchPages {
			fetchCount = a.opts.MaxFetchPages
		}
		urls := make([]string, fetchCount)
		for i := 0; i < fetchCount; i++ {
			urls[i] = candidates[i].URL
		}
		excerpts := a.fetcher.FetchAll(ctx, urls)
		fetched := 0
		for i, text := range excerpts {
			candidates[i].Content = text
			if text != "" {
				fetched++
			}
		}
		log("Fetched %d of %d pages", fetched, fetchCount)
	}

	var interests []models.Interest
	var summary string

	if len(candidates) > 0 {
		log("Verifying identity against web content")
		analysis, err := a.extractor.VerifyIdentity(ctx, contact, web.Formatted(candidates))
		if err != nil {
			result.Reason = fmt.Sprintf("extraction failed: %v", err)
			log("Extraction failed: %v", err)
			return result, nil
		}
		tier := ParseTier(analysis.Confidence)
		log("Identity match: %s (%s)", tier, analysis.MatchReasoning)
		if tier == TierLow {
			result.Reason = ErrLowConfidence.Error()
			log("Discarding low-confidence match, contact unchanged")
			return result, nil
		}
		interests = ScoreWebInterests(analysis.Interests, candidates)
		summary = analysis.RelationshipSummary
		log("Kept %d interests above the %.1f web threshold", len(interests), WebDiscardThreshold)
	} else {
		log("No web results, analyzing interaction history only")
		analysis, err := a.extractor.AnalyzeHistory(ctx, contact, interactions, "")
		if err != nil {
			result.Reason = fmt.Sprintf("extraction failed: %v", err)
			log("Extraction failed: %v", err)
			return result, nil
		}
		interests = ScoreHistoryInterests(analysis.Interests, interactions)
		summary = analysis.RelationshipSummary
		log("Kept %d interests above the %.1f history threshold", len(interests), HistoryDiscardThreshold)
	}

	var added int
	contact.Interests, added = MergeInterests(contact.Interests, interests)
	if summary != "" {
		contact.RelationshipSummary = summary
	}
	now := time.Now()
	contact.LastAnalyzed = &now
	if err := a.store.UpdateEnrichment(contact); err != nil {
		return nil, err
	}
	log("Saved %d new interests", added)

	result.Success = true
	result.Interests = interests
	result.RelationshipSummary = summary
	return result, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
