package enrich

import (
	"strings"

	"github.com/kinloop/backend/internal/storage/models"
	"github.com/kinloop/backend/pkg/jobtitle"
)

const (
	// MaxTags bounds the tag set. Tags are a lossy summary, not a store.
	MaxTags = 20

	// HealthDefault seeds the score on the first interaction-triggered update.
	HealthDefault = 50

	healthDeltaPositive  = 10
	healthDeltaConcerned = -5
	healthDeltaNeutral   = 2
)

// MergeInterests applies scored interests onto the existing list. Match is
// case-insensitive by name. New names append; existing entries only have
// confidence and last_mentioned_at refreshed — source, link, and category of
// a verified entry are never replaced by a later, weaker pass. Returns the
// merged list and how many entries are new.
func MergeInterests(existing, incoming []models.Interest) ([]models.Interest, int) {
	merged := make([]models.Interest, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, interest := range merged {
		index[strings.ToLower(interest.Name)] = i
	}

	added := 0
	for _, interest := range incoming {
		key := strings.ToLower(interest.Name)
		if i, ok := index[key]; ok {
			if interest.Confidence > merged[i].Confidence {
				merged[i].Confidence = interest.Confidence
			}
			if interest.LastMentionedAt != "" && interest.LastMentionedAt > merged[i].LastMentionedAt {
				merged[i].LastMentionedAt = interest.LastMentionedAt
			}
			continue
		}
		index[key] = len(merged)
		merged = append(merged, interest)
		added++
	}
	return merged, added
}

// MergeTags unions new tags into the existing set, deduplicated, truncated to
// MaxTags. Existing tags always survive; new ones fill whatever room is left.
func MergeTags(existing, incoming []string) ([]string, int) {
	merged := make([]string, len(existing))
	copy(merged, existing)

	seen := make(map[string]bool, len(merged))
	for _, tag := range merged {
		seen[tag] = true
	}

	added := 0
	for _, tag := range incoming {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		if len(merged) >= MaxTags {
			break
		}
		seen[tag] = true
		merged = append(merged, tag)
		added++
	}
	return merged, added
}

// MergeSocials appends links not already present by exact URL. Existing links
// are never removed or rewritten.
func MergeSocials(existing, incoming []models.SocialLink) ([]models.SocialLink, int) {
	merged := make([]models.SocialLink, len(existing))
	copy(merged, existing)

	seen := make(map[string]bool, len(merged))
	for _, link := range merged {
		seen[link.URL] = true
	}

	added := 0
	for _, link := range incoming {
		if link.URL == "" || seen[link.URL] {
			continue
		}
		seen[link.URL] = true
		merged = append(merged, link)
		added++
	}
	return merged, added
}

// MergeBio keeps the existing bio unless it is empty, or the proposal is both
// high-confidence and strictly longer. Bio text accumulates verification over
// time; a shorter or weaker candidate never replaces it.
func MergeBio(existing, proposed string, tier Tier) string {
	proposed = strings.TrimSpace(proposed)
	if proposed == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return proposed
	}
	if tier == TierHigh && len(proposed) > len(existing) {
		return proposed
	}
	return existing
}

// MergeJob overlays newly detected title/company onto the existing job
// string. Job data is volatile, so detected fields win; fields the run did
// not detect keep their current value.
func MergeJob(existing, detectedTitle, detectedCompany string) string {
	current := jobtitle.Parse(existing)

	title := strings.TrimSpace(detectedTitle)
	if title == "" {
		title = current.Title
	}
	company := strings.TrimSpace(detectedCompany)
	if company == "" {
		company = current.Company
	}
	return jobtitle.Format(title, company)
}

// ApplyHealthDelta moves the health score by the sentiment's fixed delta,
// seeding from HealthDefault when no score has ever been set (current < 0),
// and clamps to [0, 100]. Unknown sentiments count as neutral.
func ApplyHealthDelta(current int, sentiment string) int {
	if current < 0 {
		current = HealthDefault
	}

	switch strings.ToLower(sentiment) {
	case "positive":
		current += healthDeltaPositive
	case "concerned":
		current += healthDeltaConcerned
	default:
		current += healthDeltaNeutral
	}

	if current < 0 {
		return 0
	}
	if current > 100 {
		return 100
	}
	return current
}
