// Package jobtitle parses free-form job strings like "Product Manager at Acme"
// into a structured title/company pair. Users type these fields in every
// imaginable shape, so the split rules are deliberately small and fixed.
package jobtitle

import "strings"

type Parsed struct {
	Title   string
	Company string
}

// Separators are tried in order; the first match wins.
var separators = []string{" at ", " @ ", ", "}

// roleNouns marks strings that are clearly a role, not an employer. A bare
// string that ends in one of these is treated as title-only.
var roleNouns = []string{
	"engineer", "developer", "manager", "director", "designer", "analyst",
	"consultant", "founder", "ceo", "cto", "cfo", "coo", "vp", "president",
	"lead", "head", "officer", "scientist", "researcher", "architect",
	"recruiter", "marketer", "accountant", "lawyer", "attorney", "teacher",
	"professor", "student", "intern", "freelancer", "writer", "editor",
	"producer", "investor", "partner", "advisor",
}

// Parse splits a job string into title and company.
//
// Precedence: split on " at " / " @ " / ", " (first occurrence, last segment
// is the company). Without a separator, the whole string is a company only if
// it does not read as a role noun; otherwise it is a title with no company.
func Parse(input string) Parsed {
	s := strings.TrimSpace(input)
	if s == "" {
		return Parsed{}
	}

	for _, sep := range separators {
		idx := strings.Index(strings.ToLower(s), sep)
		if idx < 0 {
			continue
		}
		title := strings.TrimSpace(s[:idx])
		company := strings.TrimSpace(s[idx+len(sep):])
		if title == "" || company == "" {
			continue
		}
		return Parsed{Title: title, Company: company}
	}

	if isRole(s) {
		return Parsed{Title: s}
	}
	return Parsed{Company: s}
}

// Format renders a parsed pair back into the canonical "Title at Company"
// display string.
func Format(title, company string) string {
	title = strings.TrimSpace(title)
	company = strings.TrimSpace(company)
	switch {
	case title != "" && company != "":
		return title + " at " + company
	case title != "":
		return title
	default:
		return company
	}
}

func isRole(s string) bool {
	words := strings.Fields(strings.ToLower(s))
	if len(words) == 0 {
		return false
	}
	last := strings.Trim(words[len(words)-1], ".,")
	for _, noun := range roleNouns {
		if last == noun {
			return true
		}
	}
	return false
}
