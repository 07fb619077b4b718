package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/storage/models"
	"github.com/kinloop/backend/pkg/logger"
)

// StaleLister selects contacts due for re-analysis.
type StaleLister interface {
	ListStaleContacts(cutoff time.Time, limit int) ([]models.Contact, error)
}

// Scheduler runs periodic batch enrichment over stale contacts. Each cycle
// takes at most BatchSize contacts (never analyzed, or last analyzed before
// StaleAfter ago) and runs the history analysis on each, pausing Pacing
// between contacts to stay under upstream search rate limits.
type Scheduler struct {
	lister     StaleLister
	analyzer   *Analyzer
	batchSize  int
	staleAfter time.Duration
	pacing     time.Duration
}

func NewScheduler(lister StaleLister, analyzer *Analyzer, batchSize int, staleAfter, pacing time.Duration) *Scheduler {
	if batchSize <= 0 {
		batchSize = 5
	}
	if staleAfter <= 0 {
		staleAfter = 30 * 24 * time.Hour
	}
	if pacing <= 0 {
		pacing = 1200 * time.Millisecond
	}
	return &Scheduler{
		lister:     lister,
		analyzer:   analyzer,
		batchSize:  batchSize,
		staleAfter: staleAfter,
		pacing:     pacing,
	}
}

// RunOnce processes one batch and returns how many contacts were analyzed.
// Per-contact failures are logged and skipped; the batch keeps going.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	contacts, err := s.lister.ListStaleContacts(cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(contacts) == 0 {
		return 0, nil
	}

	logger.Info("Batch enrichment starting", zap.Int("contacts", len(contacts)))

	processed := 0
	for i, contact := range contacts {
		if i > 0 {
			select {
			case <-time.After(s.pacing):
			case <-ctx.Done():
				return processed, ctx.Err()
			}
		}

		if _, err := s.analyzer.AnalyzeHistory(ctx, contact.ID); err != nil {
			logger.Warn("Batch enrichment skipped contact",
				zap.String("contact_id", contact.ID), zap.Error(err))
			continue
		}
		processed++
	}

	logger.Info("Batch enrichment finished", zap.Int("processed", processed))
	return processed, nil
}

// Start runs batches on a fixed interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Batch enrichment failed", zap.Error(err))
			}
		}
	}
}
