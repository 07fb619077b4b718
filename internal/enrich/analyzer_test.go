package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kinloop/backend/internal/storage/models"
)

func newAnalyzer(store *fakeStore, completer *fakeCompleter, locker Locker) *Analyzer {
	return NewAnalyzer(store, nil, nil, NewExtractor(completer), locker, Options{})
}

func TestAnalyzeHistoryCarriesAllDetectedFields(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe"})
	store.interactions["c1"] = []models.Interaction{
		{Notes: "She shipped the open-source scheduler she maintains.", Date: day("2026-08-01")},
	}
	completer := &fakeCompleter{responses: []string{
		`{"summary": "Jane is an engineer.",
		  "relationship_summary": "Old colleagues.",
		  "interests": [],
		  "detected_skills": ["Go"],
		  "detected_achievements": ["Shipped a widely used scheduler"],
		  "detected_projects": ["open-source scheduler"]}`,
	}}

	result, err := newAnalyzer(store, completer, nil).AnalyzeHistory(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.DetectedAchievements) != 1 || result.DetectedAchievements[0] != "Shipped a widely used scheduler" {
		t.Errorf("achievements dropped: %v", result.DetectedAchievements)
	}
	if len(result.DetectedProjects) != 1 || result.DetectedProjects[0] != "open-source scheduler" {
		t.Errorf("projects dropped: %v", result.DetectedProjects)
	}
	if len(result.DetectedSkills) != 1 {
		t.Errorf("skills dropped: %v", result.DetectedSkills)
	}
}

func TestAnalyzeHistoryLockContention(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe"})
	store.interactions["c1"] = []models.Interaction{
		{Notes: "Notes.", Date: day("2026-08-01")},
	}
	completer := &fakeCompleter{}

	_, err := newAnalyzer(store, completer, &fakeLocker{allow: false}).AnalyzeHistory(context.Background(), "c1")
	if !errors.Is(err, ErrEnrichInProgress) {
		t.Fatalf("expected ErrEnrichInProgress, got %v", err)
	}
	if completer.calls != 0 {
		t.Error("contended run must not call the model")
	}
	if store.updates != 0 {
		t.Error("contended run must not write")
	}
}

func TestAnalyzeHistoryReleasesLock(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe"})
	store.interactions["c1"] = []models.Interaction{
		{Notes: "Notes.", Date: day("2026-08-01")},
	}
	completer := &fakeCompleter{responses: []string{
		`{"summary": "s", "relationship_summary": "r", "interests": []}`,
	}}
	locker := &fakeLocker{allow: true}

	if _, err := newAnalyzer(store, completer, locker).AnalyzeHistory(context.Background(), "c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if locker.released != 1 {
		t.Errorf("lock released %d times, want 1", locker.released)
	}
}

func TestDeepAnalyzeLockContention(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe"})

	result, err := newAnalyzer(store, &fakeCompleter{}, &fakeLocker{allow: false}).DeepAnalyze(context.Background(), "c1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Reason, "in progress") {
		t.Errorf("expected lock-contention outcome, got %+v", result)
	}
	if store.updates != 0 {
		t.Error("contended run must not write")
	}
}

func TestAnalyzeInteractionLockContention(t *testing.T) {
	store := newFakeStore(models.Contact{ID: "c1", Name: "Jane Doe"})

	_, err := newAnalyzer(store, &fakeCompleter{}, &fakeLocker{allow: false}).
		AnalyzeInteraction(context.Background(), "c1", "Quick call.", "call", "", day("2026-08-01"))
	if !errors.Is(err, ErrEnrichInProgress) {
		t.Fatalf("expected ErrEnrichInProgress, got %v", err)
	}
	if len(store.interactions["c1"]) != 0 {
		t.Error("contended run must not log the interaction")
	}
}
