package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/botapi"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// hop-by-hop and length headers are recomputed by net/http.
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

func (s *Server) botError(component string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Errors.WithLabelValues(component).Inc()
	}
}

// handleStart asks the bot for a pairing QR code. With ?format=png the code
// is rendered as an image.
func (s *Server) handleStart(c *gin.Context) {
	if !s.deps.Bot.Configured() {
		s.logger.Error("WHATSAPP_BOT_API_URL is not set")
		s.fail(c, http.StatusInternalServerError, msgBotNotConfig)
		return
	}
	qr, err := s.deps.Bot.Start(c.Request.Context())
	if err != nil {
		s.logger.Error("starting whatsapp bot failed", zap.Error(err))
		s.botError("bot")
		s.fail(c, http.StatusInternalServerError, startErrorMessage(err))
		return
	}

	if c.Query("format") == "png" {
		size := defaultQRSize
		if v, err := strconv.Atoi(c.Query("size")); err == nil {
			size = min(max(v, minQRSize), maxQRSize)
		}
		png, err := qrcode.Encode(qr, qrcode.Medium, size)
		if err != nil {
			s.logger.Error("render qr code", zap.Error(err))
			s.fail(c, http.StatusInternalServerError, msgInternal)
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "QR code received", "qrCode": qr})
}

func startErrorMessage(err error) string {
	var statusErr *botapi.StatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.Message != "" {
			return statusErr.Message
		}
		return "Error from bot API: " + strconv.Itoa(statusErr.Code)
	case errors.Is(err, botapi.ErrNoQRCode):
		return "QR code data not received from bot API."
	}
	return "Failed to start WhatsApp bot."
}

func (s *Server) handleStartInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "info", "message": "Check bot status using the /api/whatsapp/health endpoint."})
}

// handleBotHealth relays the bot's /health. Non-2xx answers pass through
// with their status, headers and body untouched.
func (s *Server) handleBotHealth(c *gin.Context) {
	if !s.deps.Bot.Configured() {
		s.logger.Error("WHATSAPP_BOT_API_URL is not set")
		s.fail(c, http.StatusInternalServerError, msgBotNotConfig)
		return
	}
	unreachable := "Failed to connect to WhatsApp bot health endpoint at " + s.deps.Bot.BaseURL() + "/health."

	resp, err := s.deps.Bot.Health(c.Request.Context())
	if err != nil {
		s.logger.Error("fetching whatsapp bot health failed", zap.Error(err))
		s.botError("bot")
		s.fail(c, http.StatusInternalServerError, unreachable)
		return
	}
	if !resp.OK() {
		for k, vs := range resp.Header {
			if skipHeaders[http.CanonicalHeaderKey(k)] {
				continue
			}
			for _, v := range vs {
				c.Writer.Header().Add(k, v)
			}
		}
		c.Status(resp.StatusCode)
		_, _ = c.Writer.Write(resp.Body)
		return
	}

	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		s.logger.Error("bot health body is not json", zap.Error(err))
		s.fail(c, http.StatusInternalServerError, unreachable)
		return
	}
	c.JSON(http.StatusOK, data)
}
