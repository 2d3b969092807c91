package httpapi

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/ingest"
)

// WebhookSecretHeader authenticates the bot's webhook calls.
const WebhookSecretHeader = "X-Webhook-Secret"

const maxWebhookBody = 1 << 20

// handleWebhook ingests messages reported by the bot. The body is one
// message object or an array of them.
func (s *Server) handleWebhook(c *gin.Context) {
	if s.opts.WebhookSecret == "" {
		s.logger.Error("webhook secret is not set")
		s.fail(c, http.StatusInternalServerError, msgConfig)
		return
	}
	got := c.GetHeader(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.WebhookSecret)) != 1 {
		s.fail(c, http.StatusUnauthorized, "Invalid webhook secret.")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}
	trimmed := bytes.TrimSpace(body)

	var batch []ingest.InboundMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &batch)
	} else {
		var one ingest.InboundMessage
		err = json.Unmarshal(trimmed, &one)
		batch = []ingest.InboundMessage{one}
	}
	if err != nil {
		s.fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	results, err := s.deps.Ingest.IngestBatch(c.Request.Context(), batch)
	if errors.Is(err, ingest.ErrInvalidMessage) {
		s.logger.Warn("webhook payload rejected", zap.Int("batch", len(batch)), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error(), "results": results})
		return
	}
	if err != nil {
		s.storeFail(c, "webhook ingest", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "results": results})
}
