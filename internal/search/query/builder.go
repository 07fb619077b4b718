// Package query builds deterministic, anchor-based search queries from
// partial identity data. The contact's name is always an exact quoted phrase;
// anchors narrow it down in a fixed priority order so runs are reproducible.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kinloop/backend/internal/storage/models"
)

// ErrInsufficientData is returned in strict mode when no anchor exists. The
// orchestrator treats it as a gate failure, not a degraded result: searching
// on a bare name produces unverifiable matches.
var ErrInsufficientData = errors.New("insufficient identity data: an email, job, company, location, or social link is required")

// Identity carries the fields the builder may anchor on. Name is required.
type Identity struct {
	Name     string
	Email    string
	Job      string
	Company  string
	Location string
	Socials  []models.SocialLink
}

// Freemail domains carry no identity signal and never become anchors.
var freemailDomains = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"hotmail.com": true,
	"outlook.com": true,
	"icloud.com":  true,
}

// Public surfaces worth a targeted site-restricted probe.
var surfaceDomains = []string{
	"medium.com",
	"substack.com",
	"twitter.com",
	"github.com",
}

// Build returns the ordered query list for an identity: confirmation variants
// first, then one surface-discovery query per known platform. In strict mode
// an identity with no anchors yields ErrInsufficientData; otherwise it
// degrades to a single quoted-name query.
func Build(id Identity, strict bool) ([]string, error) {
	name := strings.TrimSpace(id.Name)
	if name == "" {
		return nil, errors.New("name is required")
	}

	if !hasAnchor(id) {
		if strict {
			return nil, ErrInsufficientData
		}
		return []string{quote(name)}, nil
	}

	queries := ConfirmationVariants(id)
	queries = append(queries, SurfaceQueries(id)...)
	return queries, nil
}

// ConfirmationVariants builds up to three identity-confirmation queries:
// name+company, name+company+role, name+company+city. Without a company it
// falls back to the single highest-priority anchor query.
func ConfirmationVariants(id Identity) []string {
	name := quote(strings.TrimSpace(id.Name))
	company := strings.TrimSpace(id.Company)

	if company == "" {
		if q := anchorQuery(id); q != "" {
			return []string{q}
		}
		return []string{name}
	}

	variants := []string{fmt.Sprintf("%s %s", name, quote(company))}
	if job := strings.TrimSpace(id.Job); job != "" {
		variants = append(variants, fmt.Sprintf("%s %s %s", name, quote(company), quote(job)))
	}
	if city := cityOf(id.Location); city != "" {
		variants = append(variants, fmt.Sprintf("%s %s %s", name, quote(company), quote(city)))
	}
	return variants
}

// SurfaceQueries emits one site-restricted query per public platform,
// combining the quoted name with the primary anchor. No anchor, no surfaces.
func SurfaceQueries(id Identity) []string {
	anchor := primaryAnchor(id)
	if anchor == "" {
		return nil
	}

	name := quote(strings.TrimSpace(id.Name))
	queries := make([]string, 0, len(surfaceDomains))
	for _, domain := range surfaceDomains {
		queries = append(queries, fmt.Sprintf("%s %s site:%s", name, quote(anchor), domain))
	}
	return queries
}

// SocialSiteQueries builds one site-restricted query per known social URL,
// used for the targeted social lookup during interaction analysis.
func SocialSiteQueries(socials []models.SocialLink) []string {
	var queries []string
	for _, social := range socials {
		cleaned := cleanSocialURL(social.URL)
		if cleaned != "" {
			queries = append(queries, "site:"+cleaned)
		}
	}
	return queries
}

// anchorQuery returns the single query for the highest-priority anchor:
// unique email domain > company > location (+job) > job.
func anchorQuery(id Identity) string {
	name := quote(strings.TrimSpace(id.Name))

	if domain := uniqueEmailDomain(id.Email); domain != "" {
		return fmt.Sprintf("%s %s", name, domain)
	}
	if company := strings.TrimSpace(id.Company); company != "" {
		return fmt.Sprintf("%s %s", name, quote(company))
	}
	if city := cityOf(id.Location); city != "" {
		if job := strings.TrimSpace(id.Job); job != "" {
			return fmt.Sprintf("%s %s %s", name, quote(city), quote(job))
		}
		return fmt.Sprintf("%s %s", name, quote(city))
	}
	if job := strings.TrimSpace(id.Job); job != "" {
		return fmt.Sprintf("%s %s", name, quote(job))
	}
	return ""
}

func primaryAnchor(id Identity) string {
	if company := strings.TrimSpace(id.Company); company != "" {
		return company
	}
	if domain := uniqueEmailDomain(id.Email); domain != "" {
		return domain
	}
	if city := cityOf(id.Location); city != "" {
		return city
	}
	return strings.TrimSpace(id.Job)
}

func hasAnchor(id Identity) bool {
	return strings.TrimSpace(id.Email) != "" ||
		strings.TrimSpace(id.Job) != "" ||
		strings.TrimSpace(id.Company) != "" ||
		strings.TrimSpace(id.Location) != "" ||
		len(id.Socials) > 0
}

func uniqueEmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if freemailDomains[domain] {
		return ""
	}
	return domain
}

// cityOf keeps only the leading segment of "City, Country" locations.
func cityOf(location string) string {
	city := strings.TrimSpace(strings.SplitN(location, ",", 2)[0])
	return city
}

func cleanSocialURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	u = strings.SplitN(u, "?", 2)[0]
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimSuffix(u, "/")
}

func quote(s string) string {
	return `"` + s + `"`
}
