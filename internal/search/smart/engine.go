// Package smart answers natural-language questions over the contact list
// ("who in Austin is into climbing?"). The flow is parse -> keyword scan ->
// truth-table: the model turns the question into keywords and yes/no
// criteria, SQL narrows the candidates, and a second pass evaluates each
// criterion per candidate.
package smart

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kinloop/backend/internal/llm"
	"github.com/kinloop/backend/internal/storage/models"
)

const (
	maxCandidates = 100
	maxResults    = 20
)

type Completer interface {
	Configured() bool
	CompleteJSON(ctx context.Context, req llm.CompletionRequest, out interface{}) error
}

// ContactSearcher is the keyword-scan slice of the storage layer.
type ContactSearcher interface {
	SearchContacts(keywords []string, limit int) ([]models.Contact, error)
}

type Engine struct {
	store     ContactSearcher
	completer Completer
}

func NewEngine(store ContactSearcher, completer Completer) *Engine {
	return &Engine{store: store, completer: completer}
}

// Match is one contact with its per-criterion verdicts.
type Match struct {
	ContactID string          `json:"contact_id"`
	Name      string          `json:"name"`
	Criteria  map[string]bool `json:"criteria"`
	Score     int             `json:"score"`
}

// Result is the caller-facing smart search response.
type Result struct {
	Criteria []string `json:"criteria"`
	Results  []Match  `json:"results"`
}

const parseSystemPrompt = `You translate a natural-language question about a personal contact list into search inputs. Respond ONLY with a JSON object:
{
  "keywords": ["broad single words likely to appear in matching contact records"],
  "criteria": ["each distinct yes/no condition the question implies, phrased as a short question about one contact"]
}
Keep keywords broad (locations, activities, professions) and criteria precise.`

type parsedQuery struct {
	Keywords []string `json:"keywords"`
	Criteria []string `json:"criteria"`
}

const evaluateSystemPrompt = `You evaluate contacts against yes/no criteria using ONLY the provided profile data. Respond ONLY with a JSON object:
{
  "verdicts": [{"contact_id": "...", "criteria": {"<criterion text>": true|false}}]
}
Answer false when the profile data does not clearly support the criterion. Include every contact exactly once.`

type evaluation struct {
	Verdicts []struct {
		ContactID string          `json:"contact_id"`
		Criteria  map[string]bool `json:"criteria"`
	} `json:"verdicts"`
}

// Search runs the full parse/scan/evaluate flow and returns the top matches
// ranked by how many criteria they satisfy.
func (e *Engine) Search(ctx context.Context, queryText string) (*Result, error) {
	if !e.completer.Configured() {
		return nil, fmt.Errorf("smart search requires a configured LLM")
	}

	var parsed parsedQuery
	err := e.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: parseSystemPrompt,
		UserPrompt:   queryText,
	}, &parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}
	if len(parsed.Keywords) == 0 {
		return &Result{Criteria: parsed.Criteria}, nil
	}

	candidates, err := e.store.SearchContacts(parsed.Keywords, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("keyword scan failed: %w", err)
	}
	if len(candidates) == 0 {
		return &Result{Criteria: parsed.Criteria}, nil
	}

	// Without criteria the keyword scan is the whole answer.
	if len(parsed.Criteria) == 0 {
		result := &Result{}
		for _, c := range candidates {
			if len(result.Results) >= maxResults {
				break
			}
			result.Results = append(result.Results, Match{ContactID: c.ID, Name: c.Name})
		}
		return result, nil
	}

	var evaluated evaluation
	err = e.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: evaluateSystemPrompt,
		UserPrompt:   evaluationPrompt(candidates, parsed.Criteria),
	}, &evaluated)
	if err != nil {
		return nil, fmt.Errorf("criteria evaluation failed: %w", err)
	}

	names := make(map[string]string, len(candidates))
	for _, c := range candidates {
		names[c.ID] = c.Name
	}

	var matches []Match
	for _, verdict := range evaluated.Verdicts {
		name, known := names[verdict.ContactID]
		if !known {
			continue
		}
		score := 0
		for _, ok := range verdict.Criteria {
			if ok {
				score++
			}
		}
		if score == 0 {
			continue
		}
		matches = append(matches, Match{
			ContactID: verdict.ContactID,
			Name:      name,
			Criteria:  verdict.Criteria,
			Score:     score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	return &Result{Criteria: parsed.Criteria, Results: matches}, nil
}

func evaluationPrompt(contacts []models.Contact, criteria []string) string {
	var sb strings.Builder
	sb.WriteString("CRITERIA:\n")
	for _, c := range criteria {
		sb.WriteString("- " + c + "\n")
	}
	sb.WriteString("\nCONTACTS:\n")
	for _, c := range contacts {
		sb.WriteString(fmt.Sprintf("id=%s name=%s", c.ID, c.Name))
		if c.Job != "" {
			sb.WriteString(" job=" + c.Job)
		}
		if c.Location != "" {
			sb.WriteString(" location=" + c.Location)
		}
		if len(c.Tags) > 0 {
			sb.WriteString(" tags=" + strings.Join(c.Tags, ","))
		}
		if len(c.Interests) > 0 {
			names := make([]string, 0, len(c.Interests))
			for _, i := range c.Interests {
				names = append(names, i.Name)
			}
			sb.WriteString(" interests=" + strings.Join(names, ","))
		}
		if c.Bio != "" {
			sb.WriteString(" bio=" + c.Bio)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
