package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kinloop/backend/internal/llm"
	"github.com/kinloop/backend/internal/storage/models"
)

// Completer is the slice of the LLM client the extraction engine needs.
type Completer interface {
	Configured() bool
	CompleteJSON(ctx context.Context, req llm.CompletionRequest, out interface{}) error
}

// MaxHistoryInteractions caps how much history goes into a prompt. Older
// interactions past the cap are dropped, newest kept.
const MaxHistoryInteractions = 30

// identityTemperature keeps identity verification literal rather than
// inferential.
const identityTemperature = 0.1

// ExtractedInterest is a candidate interest as the model reports it, before
// scoring. Confidence is assigned by the scorer, not trusted from the model.
type ExtractedInterest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Link     string `json:"link,omitempty"`
	Evidence string `json:"evidence,omitempty"`
}

// ExtractedEvent is a web-detected occurrence tied to a source URL.
type ExtractedEvent struct {
	Description string `json:"description"`
	Date        string `json:"date,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
}

// WebAnalysis is the identity-verification result for web-sourced context.
type WebAnalysis struct {
	Confidence          string              `json:"confidence"`
	MatchReasoning      string              `json:"match_reasoning"`
	Bio                 string              `json:"bio,omitempty"`
	Job                 string              `json:"job,omitempty"`
	Company             string              `json:"company,omitempty"`
	Location            string              `json:"location,omitempty"`
	Interests           []ExtractedInterest `json:"interests"`
	Events              []ExtractedEvent    `json:"events,omitempty"`
	Socials             []models.SocialLink `json:"socials,omitempty"`
	RelationshipSummary string              `json:"relationship_summary,omitempty"`
}

// HistoryAnalysis is the interaction-history extraction result.
type HistoryAnalysis struct {
	Summary              string              `json:"summary"`
	RelationshipSummary  string              `json:"relationship_summary"`
	Interests            []ExtractedInterest `json:"interests"`
	DetectedJobTitle     string              `json:"detected_job_title,omitempty"`
	DetectedCompany      string              `json:"detected_company,omitempty"`
	DetectedLocation     string              `json:"detected_location,omitempty"`
	DetectedBio          string              `json:"detected_bio,omitempty"`
	DetectedEducation    []string            `json:"detected_education,omitempty"`
	DetectedFields       []string            `json:"detected_fields,omitempty"`
	DetectedSkills       []string            `json:"detected_skills,omitempty"`
	DetectedAchievements []string            `json:"detected_achievements,omitempty"`
	DetectedProjects     []string            `json:"detected_projects,omitempty"`
	DetectedLanguages    []string            `json:"detected_languages,omitempty"`
}

// InteractionAnalysis is the multi-field result for one logged interaction.
// Everything comes back in a single call: the endpoint is metered, so one
// round trip does sentiment, topics, commitments, prompts, and info extraction
// together.
type InteractionAnalysis struct {
	Sentiment     string              `json:"sentiment"`
	Topics        []string            `json:"topics"`
	Commitments   []models.Commitment `json:"commitments"`
	Prompts       []string            `json:"prompts"`
	ExtractedInfo struct {
		Job      string `json:"job,omitempty"`
		Location string `json:"location,omitempty"`
		Email    string `json:"email,omitempty"`
		Birthday string `json:"birthday,omitempty"`
	} `json:"extracted_info"`
}

// Extractor turns assembled context into structured claims. It holds no
// state beyond the completion client; persistence is the caller's problem.
type Extractor struct {
	completer Completer
}

func NewExtractor(completer Completer) *Extractor {
	return &Extractor{completer: completer}
}

func (e *Extractor) Configured() bool {
	return e.completer.Configured()
}

const identitySystemPrompt = `You verify whether public web content is about a specific person, then extract facts about them. Respond ONLY with a JSON object of this exact shape:
{
  "confidence": "high" | "medium" | "low",
  "match_reasoning": "one sentence explaining the classification",
  "bio": "short third-person bio, only if clearly about this person",
  "job": "job title if stated",
  "company": "employer if stated",
  "location": "city/region if stated",
  "interests": [{"name": "...", "category": "Personal" | "Professional", "link": "source url if one page clearly supports it", "evidence": "short quote"}],
  "events": [{"description": "...", "date": "YYYY-MM-DD if known", "source_url": "..."}],
  "socials": [{"platform": "...", "url": "..."}]
}

Rules:
- "high" requires corroboration across multiple independent sources, or name plus a unique anchor (company, email domain, or a specific social handle).
- "medium" means name plus location or job title only.
- "low" means name alone, or contradictory signals (different city or occupation across sources). When in doubt, choose "low".
- Interests must be sustained hobbies, passions, or professional expertise. Never meetings, meals, calls, one-off events, or bare place names.
- Extract only facts stated in the provided content. Omit fields you cannot support. Do not invent.`

// VerifyIdentity classifies whether the candidate content is about the
// subject and extracts whatever facts it supports. Low temperature: this is
// literal fact extraction, not inference.
func (e *Extractor) VerifyIdentity(ctx context.Context, subject *models.Contact, candidateText string) (*WebAnalysis, error) {
	var sb strings.Builder
	sb.WriteString("SUBJECT:\n")
	sb.WriteString(subjectBlock(subject))
	sb.WriteString("\nWEB CONTENT:\n")
	sb.WriteString(candidateText)

	var result WebAnalysis
	err := e.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: identitySystemPrompt,
		UserPrompt:   sb.String(),
		Temperature:  identityTemperature,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

const historySystemPrompt = `You analyze the interaction history between a user and one of their contacts, and extract a profile of the contact. Respond ONLY with a JSON object of this exact shape:
{
  "summary": "2-3 sentence factual summary of who this person is",
  "relationship_summary": "2-3 sentences on the relationship: how they met, cadence, warmth",
  "interests": [{"name": "...", "category": "Personal" | "Professional", "evidence": "short quote from the notes"}],
  "detected_job_title": "...",
  "detected_company": "...",
  "detected_location": "...",
  "detected_bio": "...",
  "detected_education": ["..."],
  "detected_fields": ["..."],
  "detected_skills": ["..."],
  "detected_achievements": ["..."],
  "detected_projects": ["..."],
  "detected_languages": ["..."]
}

Rules:
- Interests must be sustained hobbies, passions, or professional expertise the contact holds. Exclude logistics (meetings, coffees, calls, meals), one-off events, and bare place names unless phrased as ongoing travel passion.
- Every interest needs an evidence quote from the notes.
- Omit or leave empty any field the notes do not support. Do not invent.`

// AnalyzeHistory extracts a contact profile from interaction history, plus
// optional extra context from targeted social-profile lookups.
func (e *Extractor) AnalyzeHistory(ctx context.Context, subject *models.Contact, interactions []models.Interaction, socialContext string) (*HistoryAnalysis, error) {
	var sb strings.Builder
	sb.WriteString("CONTACT:\n")
	sb.WriteString(subjectBlock(subject))
	sb.WriteString("\nINTERACTION HISTORY (oldest first):\n")
	sb.WriteString(HistoryBlock(interactions))
	if socialContext != "" {
		sb.WriteString("\nPUBLIC PROFILE CONTEXT:\n")
		sb.WriteString(socialContext)
	}

	var result HistoryAnalysis
	err := e.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: historySystemPrompt,
		UserPrompt:   sb.String(),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

const interactionSystemPrompt = `You analyze one newly logged interaction with a contact. In a single pass, produce ALL of the following as a JSON object of this exact shape:
{
  "sentiment": "positive" | "neutral" | "concerned",
  "topics": ["up to 5 short topic labels"],
  "commitments": [{"who": "me" | "them", "what": "...", "status": "pending", "dueDate": "YYYY-MM-DD if stated"}],
  "prompts": ["2-3 conversation starters grounded in this interaction"],
  "extracted_info": {"job": "...", "location": "...", "email": "...", "birthday": "..."}
}

Rules:
- At most 5 topics.
- Commitments only when someone explicitly agreed to do something.
- extracted_info fields only when literally stated in the text; otherwise omit them.`

// AnalyzeInteraction runs the one-shot multi-field analysis of a single
// interaction's text.
func (e *Extractor) AnalyzeInteraction(ctx context.Context, subject *models.Contact, text string) (*InteractionAnalysis, error) {
	prompt := fmt.Sprintf("CONTACT: %s\n\nINTERACTION:\n%s", subject.Name, text)

	var result InteractionAnalysis
	err := e.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: interactionSystemPrompt,
		UserPrompt:   prompt,
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Topics) > 5 {
		result.Topics = result.Topics[:5]
	}
	return &result, nil
}

// HistoryBlock renders interactions for a prompt, oldest first, capped at
// MaxHistoryInteractions (newest kept).
func HistoryBlock(interactions []models.Interaction) string {
	if len(interactions) > MaxHistoryInteractions {
		interactions = interactions[len(interactions)-MaxHistoryInteractions:]
	}

	var sb strings.Builder
	for _, i := range interactions {
		sb.WriteString(fmt.Sprintf("[%s] (%s) %s\n", i.Date.Format(time.DateOnly), i.Type, i.Notes))
	}
	return sb.String()
}

func subjectBlock(c *models.Contact) string {
	var sb strings.Builder
	sb.WriteString("Name: " + c.Name + "\n")
	if c.Job != "" {
		sb.WriteString("Job: " + c.Job + "\n")
	}
	if c.Location != "" {
		sb.WriteString("Location: " + c.Location + "\n")
	}
	if c.Email != "" {
		sb.WriteString("Email: " + c.Email + "\n")
	}
	for _, s := range c.SocialLinks {
		sb.WriteString(fmt.Sprintf("Social (%s): %s\n", s.Platform, s.URL))
	}
	return sb.String()
}
