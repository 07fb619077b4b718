package enrich

import (
	"strings"
	"time"

	"github.com/jdkato/prose/v2"

	"github.com/kinloop/backend/internal/search/web"
	"github.com/kinloop/backend/internal/storage/models"
)

// Discard thresholds are stage-specific on purpose: first-person statements
// in interaction notes are more reliable per-item than web text, so the web
// path demands stronger corroboration. Tune independently.
const (
	HistoryDiscardThreshold = 0.5
	WebDiscardThreshold     = 0.7
)

// Additive scoring rubric, capped at 1.0.
const (
	pointsDirectMention  = 0.4
	pointsMultiSource    = 0.3
	pointsMultiDate      = 0.2
	pointsAffinityPhrase = 0.1
	pointsCitedLink      = 0.1
)

// Tier classifies an identity match.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseTier normalizes a model-reported confidence string. Anything
// unrecognized is low: an unparseable tier must never admit a merge.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return TierHigh
	case "medium":
		return TierMedium
	default:
		return TierLow
	}
}

// Logistics and one-off terms that never describe a sustained interest. A
// candidate whose name contains one of these as a word is rejected outright.
var blockedInterestTerms = map[string]bool{
	"coffee": true, "lunch": true, "dinner": true, "breakfast": true,
	"brunch": true, "drinks": true, "meal": true, "meals": true,
	"meeting": true, "meetings": true, "call": true, "calls": true,
	"zoom": true, "chat": true, "chatting": true, "catchup": true,
	"hangout": true, "appointment": true, "email": true, "emails": true,
	"texting": true, "errands": true, "commute": true,
}

// FilterInterests applies the negative filter: logistics terms, empty names,
// and bare place or person names are dropped before any scoring happens.
func FilterInterests(candidates []ExtractedInterest) []ExtractedInterest {
	var kept []ExtractedInterest
	for _, cand := range candidates {
		name := strings.TrimSpace(cand.Name)
		if name == "" || hasBlockedTerm(name) {
			continue
		}
		if isBareEntity(name) && !isTravelInterest(cand) {
			continue
		}
		kept = append(kept, cand)
	}
	return kept
}

func hasBlockedTerm(name string) bool {
	for _, word := range strings.Fields(strings.ToLower(name)) {
		if blockedInterestTerms[strings.Trim(word, ".,")] {
			return true
		}
	}
	return false
}

// isBareEntity runs NER over the candidate name and rejects it when the whole
// name is tagged as a place or a person. "Paris" is not an interest; "Paris
// street photography" is.
func isBareEntity(name string) bool {
	doc, err := prose.NewDocument(name)
	if err != nil {
		return false
	}
	for _, ent := range doc.Entities() {
		if ent.Label != "GPE" && ent.Label != "PERSON" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(ent.Text), name) {
			return true
		}
	}
	return false
}

// Ongoing travel passion is the one allowed location-shaped interest.
func isTravelInterest(cand ExtractedInterest) bool {
	combined := strings.ToLower(cand.Name + " " + cand.Category + " " + cand.Evidence)
	return strings.Contains(combined, "travel")
}

// Affinity phrasings that signal a held interest rather than a passing
// mention.
var affinityPhrases = []string{
	"i love", "i enjoy", "i play", "i'm into", "im into", "i practice",
	"my passion", "passionate about", "loves", "enjoys", "is into",
	"training for", "obsessed with", "big fan of",
}

// ScoreHistoryInterests scores filtered candidates against the interaction
// notes with the additive rubric and drops everything under the history
// threshold. Scoring is deterministic: it re-verifies the model's claims
// against the literal text instead of trusting self-reported confidence.
func ScoreHistoryInterests(candidates []ExtractedInterest, interactions []models.Interaction) []models.Interest {
	var scored []models.Interest
	for _, cand := range FilterInterests(candidates) {
		mentions, days, lastMention, affinity := mentionStats(cand.Name, interactions)
		if mentions == 0 {
			continue
		}

		confidence := pointsDirectMention
		if mentions > 1 {
			confidence += pointsMultiSource
		}
		if len(days) > 1 {
			confidence += pointsMultiDate
		}
		if affinity {
			confidence += pointsAffinityPhrase
		}
		if confidence > 1.0 {
			confidence = 1.0
		}
		if confidence < HistoryDiscardThreshold {
			continue
		}

		scored = append(scored, models.Interest{
			Name:            cand.Name,
			Category:        cand.Category,
			Confidence:      confidence,
			Source:          "ai",
			LastMentionedAt: lastMention,
		})
	}
	return DedupeInterests(scored)
}

// ScoreWebInterests scores filtered candidates against the fetched candidate
// sources. Web text is noisier, so a single-source mention (0.4, or 0.5 with
// a citation) always lands under the 0.7 threshold: surviving web interests
// need independent corroboration.
func ScoreWebInterests(candidates []ExtractedInterest, sources []web.Candidate) []models.Interest {
	var scored []models.Interest
	for _, cand := range FilterInterests(candidates) {
		hits := sourceHits(cand.Name, sources)
		if hits == 0 {
			continue
		}

		confidence := pointsDirectMention
		if hits > 1 {
			confidence += pointsMultiSource
		}
		if cand.Link != "" {
			confidence += pointsCitedLink
		}
		if confidence > 1.0 {
			confidence = 1.0
		}
		if confidence < WebDiscardThreshold {
			continue
		}

		scored = append(scored, models.Interest{
			Name:       cand.Name,
			Category:   cand.Category,
			Confidence: confidence,
			Source:     "ai_web",
			Link:       cand.Link,
		})
	}
	return DedupeInterests(scored)
}

// mentionStats scans interaction notes for the interest. A mention is any
// significant token of the name appearing in the note text; exact-phrase
// matching would miss "marathon" inside "training for a marathon" for the
// candidate "Marathon Running".
func mentionStats(name string, interactions []models.Interaction) (mentions int, days map[string]bool, lastMention string, affinity bool) {
	tokens := significantTokens(name)
	days = make(map[string]bool)

	for _, interaction := range interactions {
		notes := strings.ToLower(interaction.Notes)
		matched := false
		for _, token := range tokens {
			if strings.Contains(notes, token) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		mentions++
		day := interaction.Date.Format(time.DateOnly)
		days[day] = true
		if lastMention == "" || day > lastMention {
			lastMention = day
		}
		for _, phrase := range affinityPhrases {
			if strings.Contains(notes, phrase) {
				affinity = true
				break
			}
		}
	}
	return mentions, days, lastMention, affinity
}

func sourceHits(name string, sources []web.Candidate) int {
	tokens := significantTokens(name)
	hits := 0
	for _, source := range sources {
		text := strings.ToLower(source.Title + " " + source.Snippet + " " + source.Content)
		for _, token := range tokens {
			if strings.Contains(text, token) {
				hits++
				break
			}
		}
	}
	return hits
}

func significantTokens(name string) []string {
	var tokens []string
	for _, word := range strings.Fields(strings.ToLower(name)) {
		word = strings.Trim(word, ".,&")
		if len(word) >= 4 {
			tokens = append(tokens, word)
		}
	}
	if len(tokens) == 0 {
		tokens = []string{strings.ToLower(strings.TrimSpace(name))}
	}
	return tokens
}

// DedupeInterests collapses case-insensitive name duplicates within one run.
// The winner is the entry with the higher confidence; on a tie, the one
// carrying more metadata (category, link).
func DedupeInterests(interests []models.Interest) []models.Interest {
	byName := make(map[string]int)
	var out []models.Interest

	for _, interest := range interests {
		key := strings.ToLower(interest.Name)
		idx, seen := byName[key]
		if !seen {
			byName[key] = len(out)
			out = append(out, interest)
			continue
		}
		if betterInterest(interest, out[idx]) {
			out[idx] = interest
		}
	}
	return out
}

func betterInterest(a, b models.Interest) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return metadataCount(a) > metadataCount(b)
}

func metadataCount(i models.Interest) int {
	count := 0
	if i.Category != "" {
		count++
	}
	if i.Link != "" {
		count++
	}
	return count
}
