package models

import "time"

// Contact is the enrichment target. Interests, tags, social links and
// commitments are stored as JSON columns; everything else is flat.
type Contact struct {
	ID                  string
	Name                string
	Email               string
	Phone               string
	Job                 string
	Location            string
	Bio                 string
	Birthday            string
	HowMet              string
	Tags                []string
	Interests           []Interest
	SocialLinks         []SocialLink
	AISummary           string
	RelationshipSummary string
	HealthScore         int
	LastContacted       *time.Time
	LastContactType     string
	LastAnalyzed        *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasHealthScore reports whether a score has ever been set; zero is a valid
// score, so the column is stored as nullable and mapped to -1 when unset.
func (c *Contact) HasHealthScore() bool {
	return c.HealthScore >= 0
}

type Interest struct {
	Name            string  `json:"name"`
	Category        string  `json:"category,omitempty"`
	Confidence      float64 `json:"confidence"`
	Source          string  `json:"source"`
	Link            string  `json:"link,omitempty"`
	Frequency       string  `json:"frequency,omitempty"`
	LastMentionedAt string  `json:"last_mentioned_at,omitempty"`
}

type SocialLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

type Interaction struct {
	ID          string
	ContactID   string
	Type        string
	Date        time.Time
	Notes       string
	Platform    string
	Topics      []string
	Sentiment   string
	Commitments []Commitment
	CreatedAt   time.Time
}

type Commitment struct {
	Who     string `json:"who"`
	What    string `json:"what"`
	Status  string `json:"status"`
	DueDate string `json:"dueDate,omitempty"`
}

// GeneratedPrompt is a conversation starter produced by interaction analysis.
type GeneratedPrompt struct {
	ID        string
	ContactID string
	Prompt    string
	Context   string
	Status    string
	CreatedAt time.Time
}

// Event is a web-detected occurrence (spoke at, published, joined).
type Event struct {
	ID          string
	ContactID   string
	Description string
	Date        string
	SourceURL   string
	SourceType  string
	CreatedAt   time.Time
}

// EnrichmentRun records one pipeline execution for auditability.
type EnrichmentRun struct {
	ID           string
	ContactID    string
	Outcome      string
	Reason       string
	Confidence   string
	NewInterests int
	NewTags      int
	LatencyMS    int
	CreatedAt    time.Time
}
