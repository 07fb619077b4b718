package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/enrich"
	"github.com/kinloop/backend/pkg/logger"
)

// WebSocketHandler streams the deep-analyze log trail line-by-line so
// progress UIs can narrate the run instead of spinning on a blank request.
type WebSocketHandler struct {
	analyzer *enrich.Analyzer
}

func NewWebSocketHandler(analyzer *enrich.Analyzer) *WebSocketHandler {
	return &WebSocketHandler{analyzer: analyzer}
}

func (h *WebSocketHandler) HandleDeepAnalyze(c *websocket.Conn) {
	contactID := c.Params("id")
	logger.Info("Deep analyze stream opened", zap.String("contact_id", contactID))

	defer func() {
		c.Close()
		logger.Info("Deep analyze stream closed", zap.String("contact_id", contactID))
	}()

	sink := func(line string) {
		h.send(c, map[string]interface{}{
			"type": "log",
			"line": line,
		})
	}

	result, err := h.analyzer.DeepAnalyze(context.Background(), contactID, sink)
	if err != nil {
		logger.Error("Deep analyze stream failed", zap.String("contact_id", contactID), zap.Error(err))
		h.send(c, map[string]interface{}{
			"type":  "error",
			"error": "Failed to deep analyze contact",
		})
		return
	}

	h.send(c, map[string]interface{}{
		"type":                 "complete",
		"success":              result.Success,
		"reason":               result.Reason,
		"interests":            result.Interests,
		"relationship_summary": result.RelationshipSummary,
	})
}

func (h *WebSocketHandler) send(c *websocket.Conn, msg map[string]interface{}) {
	if err := c.WriteJSON(msg); err != nil {
		logger.Debug("WebSocket write failed", zap.Error(err))
	}
}
