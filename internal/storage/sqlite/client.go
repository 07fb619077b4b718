package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/storage/models"
	"github.com/kinloop/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		job TEXT,
		location TEXT,
		bio TEXT,
		birthday TEXT,
		how_met TEXT,
		tags TEXT,
		interests TEXT,
		social_links TEXT,
		ai_summary TEXT,
		relationship_summary TEXT,
		health_score INTEGER,
		last_contacted INTEGER,
		last_contact_type TEXT,
		last_analyzed INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_name ON contacts(name);
	CREATE INDEX IF NOT EXISTS idx_contacts_analyzed ON contacts(last_analyzed);

	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		contact_id TEXT NOT NULL,
		type TEXT NOT NULL,
		date INTEGER NOT NULL,
		notes TEXT,
		platform TEXT,
		topics TEXT,
		sentiment TEXT,
		commitments TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_contact ON interactions(contact_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_date ON interactions(date);

	CREATE TABLE IF NOT EXISTS generated_prompts (
		id TEXT PRIMARY KEY,
		contact_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		context TEXT,
		status TEXT NOT NULL DEFAULT 'new',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_contact ON generated_prompts(contact_id);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		contact_id TEXT NOT NULL,
		description TEXT NOT NULL,
		date TEXT,
		source_url TEXT,
		source_type TEXT NOT NULL DEFAULT 'web',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_events_contact ON events(contact_id);

	CREATE TABLE IF NOT EXISTS enrichment_runs (
		id TEXT PRIMARY KEY,
		contact_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		confidence TEXT,
		new_interests INTEGER DEFAULT 0,
		new_tags INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_contact ON enrichment_runs(contact_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON enrichment_runs(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateContact(contact *models.Contact) error {
	query := `
		INSERT INTO contacts (id, name, email, phone, job, location, bio, birthday, how_met,
			tags, interests, social_links, ai_summary, relationship_summary, health_score,
			last_contacted, last_contact_type, last_analyzed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		contact.ID,
		contact.Name,
		contact.Email,
		contact.Phone,
		contact.Job,
		contact.Location,
		contact.Bio,
		contact.Birthday,
		contact.HowMet,
		marshalJSON(contact.Tags),
		marshalJSON(contact.Interests),
		marshalJSON(contact.SocialLinks),
		contact.AISummary,
		contact.RelationshipSummary,
		newContactScore(contact.HealthScore),
		nullableTime(contact.LastContacted),
		contact.LastContactType,
		nullableTime(contact.LastAnalyzed),
		time.Now().Unix(),
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	logger.Debug("Contact created", zap.String("contact_id", contact.ID), zap.String("name", contact.Name))
	return nil
}

const contactColumns = `id, name, email, phone, job, location, bio, birthday, how_met,
	tags, interests, social_links, ai_summary, relationship_summary,
	COALESCE(health_score, -1), last_contacted, last_contact_type, last_analyzed,
	created_at, updated_at`

func (c *Client) GetContact(id string) (*models.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE id = ?`, contactColumns)

	contact, err := scanContact(c.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return contact, nil
}

// UpdateEnrichment writes the mutable profile fields back after a merge. The
// single UPDATE keeps the contact write atomic from the pipeline's view.
func (c *Client) UpdateEnrichment(contact *models.Contact) error {
	query := `
		UPDATE contacts SET
			job = ?, location = ?, bio = ?, birthday = ?,
			tags = ?, interests = ?, social_links = ?,
			ai_summary = ?, relationship_summary = ?, health_score = ?,
			last_contacted = ?, last_contact_type = ?, last_analyzed = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := c.db.Exec(
		query,
		contact.Job,
		contact.Location,
		contact.Bio,
		contact.Birthday,
		marshalJSON(contact.Tags),
		marshalJSON(contact.Interests),
		marshalJSON(contact.SocialLinks),
		contact.AISummary,
		contact.RelationshipSummary,
		nullableScore(contact.HealthScore),
		nullableTime(contact.LastContacted),
		contact.LastContactType,
		nullableTime(contact.LastAnalyzed),
		time.Now().Unix(),
		contact.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	logger.Debug("Contact enrichment saved", zap.String("contact_id", contact.ID))
	return nil
}

// ClearAIData resets every derived field, leaving user-entered data intact.
func (c *Client) ClearAIData(contactID string) error {
	query := `
		UPDATE contacts SET
			tags = '[]', interests = '[]',
			ai_summary = '', relationship_summary = '',
			last_analyzed = NULL, updated_at = ?
		WHERE id = ?
	`

	result, err := c.db.Exec(query, time.Now().Unix(), contactID)
	if err != nil {
		return fmt.Errorf("failed to clear AI data: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	logger.Info("AI data cleared", zap.String("contact_id", contactID))
	return nil
}

// ListStaleContacts returns contacts never analyzed or last analyzed before
// cutoff, oldest first, capped at limit.
func (c *Client) ListStaleContacts(cutoff time.Time, limit int) ([]models.Contact, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM contacts
		WHERE last_analyzed IS NULL OR last_analyzed < ?
		ORDER BY last_analyzed ASC
		LIMIT ?
	`, contactColumns)

	rows, err := c.db.Query(query, cutoff.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, *contact)
	}

	return contacts, rows.Err()
}

// SearchContacts does a broad LIKE scan across the text fields for any of the
// keywords. It is the candidate-narrowing step of smart search, not a ranker.
func (c *Client) SearchContacts(keywords []string, limit int) ([]models.Contact, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	fields := []string{"name", "bio", "job", "location", "tags", "interests"}
	var conditions []string
	var args []interface{}
	for _, keyword := range keywords {
		pattern := "%" + keyword + "%"
		for _, field := range fields {
			conditions = append(conditions, field+" LIKE ?")
			args = append(args, pattern)
		}
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE %s LIMIT ?`,
		contactColumns, strings.Join(conditions, " OR "))

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, *contact)
	}

	return contacts, rows.Err()
}

func (c *Client) InsertInteraction(interaction *models.Interaction) error {
	query := `
		INSERT INTO interactions (id, contact_id, type, date, notes, platform, topics, sentiment, commitments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		interaction.ID,
		interaction.ContactID,
		interaction.Type,
		interaction.Date.Unix(),
		interaction.Notes,
		interaction.Platform,
		marshalJSON(interaction.Topics),
		interaction.Sentiment,
		marshalJSON(interaction.Commitments),
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}

	logger.Debug("Interaction inserted",
		zap.String("interaction_id", interaction.ID),
		zap.String("contact_id", interaction.ContactID),
	)
	return nil
}

// GetInteractions returns a contact's interactions oldest first.
func (c *Client) GetInteractions(contactID string) ([]models.Interaction, error) {
	query := `
		SELECT id, contact_id, type, date, notes, platform, topics, sentiment, commitments, created_at
		FROM interactions
		WHERE contact_id = ?
		ORDER BY date ASC
	`

	rows, err := c.db.Query(query, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to get interactions: %w", err)
	}
	defer rows.Close()

	var interactions []models.Interaction
	for rows.Next() {
		var i models.Interaction
		var date, createdAt int64
		var topicsJSON, commitmentsJSON string

		err := rows.Scan(&i.ID, &i.ContactID, &i.Type, &date, &i.Notes, &i.Platform,
			&topicsJSON, &i.Sentiment, &commitmentsJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}

		i.Date = time.Unix(date, 0)
		i.CreatedAt = time.Unix(createdAt, 0)
		json.Unmarshal([]byte(topicsJSON), &i.Topics)
		json.Unmarshal([]byte(commitmentsJSON), &i.Commitments)
		interactions = append(interactions, i)
	}

	return interactions, rows.Err()
}

func (c *Client) InsertGeneratedPrompts(prompts []models.GeneratedPrompt) error {
	query := `INSERT INTO generated_prompts (id, contact_id, prompt, context, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	for _, p := range prompts {
		status := p.Status
		if status == "" {
			status = "new"
		}
		_, err := c.db.Exec(query, p.ID, p.ContactID, p.Prompt, p.Context, status, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to insert prompt: %w", err)
		}
	}

	return nil
}

func (c *Client) InsertEvents(events []models.Event) error {
	query := `INSERT INTO events (id, contact_id, description, date, source_url, source_type, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	for _, e := range events {
		sourceType := e.SourceType
		if sourceType == "" {
			sourceType = "web"
		}
		_, err := c.db.Exec(query, e.ID, e.ContactID, e.Description, e.Date, e.SourceURL, sourceType, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return nil
}

func (c *Client) InsertEnrichmentRun(run *models.EnrichmentRun) error {
	query := `
		INSERT INTO enrichment_runs (id, contact_id, outcome, reason, confidence, new_interests, new_tags, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		run.ID,
		run.ContactID,
		run.Outcome,
		run.Reason,
		run.Confidence,
		run.NewInterests,
		run.NewTags,
		run.LatencyMS,
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert enrichment run: %w", err)
	}

	logger.Info("Enrichment run recorded",
		zap.String("run_id", run.ID),
		zap.String("contact_id", run.ContactID),
		zap.String("outcome", run.Outcome),
	)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var contact models.Contact
	var tagsJSON, interestsJSON, socialsJSON string
	var lastContacted, lastAnalyzed sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&contact.ID,
		&contact.Name,
		&contact.Email,
		&contact.Phone,
		&contact.Job,
		&contact.Location,
		&contact.Bio,
		&contact.Birthday,
		&contact.HowMet,
		&tagsJSON,
		&interestsJSON,
		&socialsJSON,
		&contact.AISummary,
		&contact.RelationshipSummary,
		&contact.HealthScore,
		&lastContacted,
		&contact.LastContactType,
		&lastAnalyzed,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(tagsJSON), &contact.Tags)
	json.Unmarshal([]byte(interestsJSON), &contact.Interests)
	json.Unmarshal([]byte(socialsJSON), &contact.SocialLinks)

	if lastContacted.Valid {
		t := time.Unix(lastContacted.Int64, 0)
		contact.LastContacted = &t
	}
	if lastAnalyzed.Valid {
		t := time.Unix(lastAnalyzed.Int64, 0)
		contact.LastAnalyzed = &t
	}
	contact.CreatedAt = time.Unix(createdAt, 0)
	contact.UpdatedAt = time.Unix(updatedAt, 0)

	return &contact, nil
}

func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}

func nullableScore(score int) interface{} {
	if score < 0 {
		return nil
	}
	return score
}

// newContactScore maps both the -1 sentinel and the struct zero value to
// NULL. Real scores only ever arise from interaction updates, so a
// creation-time 0 is an unset field, not an earned score of zero.
func newContactScore(score int) interface{} {
	if score <= 0 {
		return nil
	}
	return score
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
