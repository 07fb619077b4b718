package enrich

import "errors"

// Soft pipeline outcomes. These abort a run without surfacing as HTTP errors;
// callers translate them into a success:false envelope with a readable reason.
var (
	ErrNoName           = errors.New("contact has no name")
	ErrNoAnchors        = errors.New("no anchors: add an email, job, company, location, or social link first")
	ErrNoResults        = errors.New("no search results and no interaction history to analyze")
	ErrLowConfidence    = errors.New("could not confidently match this contact to a public profile")
	ErrEnrichInProgress = errors.New("an enrichment run is already in progress for this contact")
)
