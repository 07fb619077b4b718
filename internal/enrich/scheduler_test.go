package enrich

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kinloop/backend/internal/storage/models"
)

func TestSchedulerBatchCap(t *testing.T) {
	store := newFakeStore()
	for i := 1; i <= 7; i++ {
		id := fmt.Sprintf("c%d", i)
		store.contacts[id] = models.Contact{ID: id, Name: fmt.Sprintf("Contact %d", i), HealthScore: -1}
		store.interactions[id] = []models.Interaction{
			{Notes: "Talked about work.", Date: day("2026-07-01")},
		}
	}

	var responses []string
	for i := 0; i < 5; i++ {
		responses = append(responses, `{"summary": "s", "relationship_summary": "r", "interests": []}`)
	}
	completer := &fakeCompleter{responses: responses}

	analyzer := NewAnalyzer(store, nil, nil, NewExtractor(completer), nil, Options{})
	scheduler := NewScheduler(store, analyzer, 5, 30*24*time.Hour, time.Millisecond)

	processed, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 5 {
		t.Fatalf("processed = %d, want exactly the batch cap of 5", processed)
	}

	analyzed := 0
	for _, c := range store.contacts {
		if c.LastAnalyzed != nil {
			analyzed++
		}
	}
	if analyzed != 5 {
		t.Errorf("%d contacts got lastAnalyzed, want 5; the rest stay eligible", analyzed)
	}
}

func TestSchedulerSkipsFreshContacts(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.contacts["fresh"] = models.Contact{ID: "fresh", Name: "Fresh", LastAnalyzed: &now, HealthScore: -1}

	analyzer := NewAnalyzer(store, nil, nil, NewExtractor(&fakeCompleter{}), nil, Options{})
	scheduler := NewScheduler(store, analyzer, 5, 30*24*time.Hour, time.Millisecond)

	processed, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 0 {
		t.Errorf("fresh contact should not be reprocessed, got %d", processed)
	}
}

func TestSchedulerSurvivesPerContactFailure(t *testing.T) {
	store := newFakeStore()
	store.contacts["no-history"] = models.Contact{ID: "no-history", Name: "Quiet", HealthScore: -1}
	store.contacts["with-history"] = models.Contact{ID: "with-history", Name: "Chatty", HealthScore: -1}
	store.interactions["with-history"] = []models.Interaction{
		{Notes: "Talked about music.", Date: day("2026-07-01")},
	}

	completer := &fakeCompleter{responses: []string{
		`{"summary": "s", "relationship_summary": "r", "interests": []}`,
	}}
	analyzer := NewAnalyzer(store, nil, nil, NewExtractor(completer), nil, Options{})
	scheduler := NewScheduler(store, analyzer, 5, 30*24*time.Hour, time.Millisecond)

	processed, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1 (history-less contact skipped, batch continues)", processed)
	}
}
