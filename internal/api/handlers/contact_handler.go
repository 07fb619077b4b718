package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/enrich"
	"github.com/kinloop/backend/internal/storage/sqlite"
	"github.com/kinloop/backend/pkg/logger"
)

// AIDataClearer is the reset slice of the storage layer.
type AIDataClearer interface {
	ClearAIData(contactID string) error
}

type ContactHandler struct {
	pipeline *enrich.Pipeline
	analyzer *enrich.Analyzer
	clearer  AIDataClearer
}

func NewContactHandler(pipeline *enrich.Pipeline, analyzer *enrich.Analyzer, clearer AIDataClearer) *ContactHandler {
	return &ContactHandler{
		pipeline: pipeline,
		analyzer: analyzer,
		clearer:  clearer,
	}
}

// Enrich runs the full GATE->MERGE pipeline. Soft outcomes (no anchors, low
// confidence, lock contention) are 200s with success:false and a readable
// reason; only not-found and storage failures become error statuses.
func (h *ContactHandler) Enrich(c *fiber.Ctx) error {
	contactID := c.Params("id")

	result, err := h.pipeline.EnrichContact(c.Context(), contactID)
	if err != nil {
		return contactError(c, "enrich", contactID, err)
	}

	return c.JSON(fiber.Map{
		"success":       result.Success,
		"reason":        result.Reason,
		"confidence":    result.Confidence,
		"new_interests": result.NewInterests,
		"new_tags":      result.NewTags,
	})
}

func (h *ContactHandler) AnalyzeHistory(c *fiber.Ctx) error {
	contactID := c.Params("id")

	result, err := h.analyzer.AnalyzeHistory(c.Context(), contactID)
	if err != nil {
		if errors.Is(err, enrich.ErrNoResults) {
			return c.JSON(fiber.Map{
				"success": false,
				"reason":  "no interaction history to analyze yet",
			})
		}
		if errors.Is(err, enrich.ErrEnrichInProgress) {
			return c.JSON(fiber.Map{
				"success": false,
				"reason":  err.Error(),
			})
		}
		return contactError(c, "analyze", contactID, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"result":  result,
	})
}

func (h *ContactHandler) LogInteraction(c *fiber.Ctx) error {
	contactID := c.Params("id")

	var req struct {
		Text     string `json:"text"`
		Type     string `json:"type"`
		Platform string `json:"platform"`
		Date     string `json:"date"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}
	if req.Type == "" {
		req.Type = "notes"
	}

	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			parsed, err = time.Parse(time.DateOnly, req.Date)
		}
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "date must be RFC3339 or YYYY-MM-DD",
			})
		}
		date = parsed
	}

	result, err := h.analyzer.AnalyzeInteraction(c.Context(), contactID, req.Text, req.Type, req.Platform, date)
	if err != nil {
		if errors.Is(err, enrich.ErrEnrichInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return contactError(c, "log interaction", contactID, err)
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"interaction":      result.Interaction,
		"analysis":         result.Analysis,
		"new_health_score": result.NewHealthScore,
	})
}

func (h *ContactHandler) DeepAnalyze(c *fiber.Ctx) error {
	contactID := c.Params("id")

	result, err := h.analyzer.DeepAnalyze(c.Context(), contactID, nil)
	if err != nil {
		return contactError(c, "deep analyze", contactID, err)
	}

	return c.JSON(fiber.Map{
		"success":              result.Success,
		"reason":               result.Reason,
		"interests":            result.Interests,
		"relationship_summary": result.RelationshipSummary,
		"logs":                 result.Logs,
	})
}

func (h *ContactHandler) ClearAI(c *fiber.Ctx) error {
	contactID := c.Params("id")

	if err := h.clearer.ClearAIData(contactID); err != nil {
		return contactError(c, "clear AI data", contactID, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}

func contactError(c *fiber.Ctx, op, contactID string, err error) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}
	logger.Error("Contact operation failed",
		zap.String("op", op),
		zap.String("contact_id", contactID),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to " + op,
	})
}
