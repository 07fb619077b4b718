package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/search/smart"
	"github.com/kinloop/backend/pkg/logger"
)

type SearchHandler struct {
	engine *smart.Engine
}

func NewSearchHandler(engine *smart.Engine) *SearchHandler {
	return &SearchHandler{engine: engine}
}

func (h *SearchHandler) SmartSearch(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query is required",
		})
	}

	result, err := h.engine.Search(c.Context(), req.Query)
	if err != nil {
		logger.Error("Smart search failed", zap.String("query", req.Query), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run smart search",
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"criteria": result.Criteria,
		"results":  result.Results,
	})
}
