package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// handleRealtime upgrades to a websocket and writes one JSON message per
// row inserted for contact_id until either side goes away.
func (s *Server) handleRealtime(c *gin.Context) {
	contactID := c.Query("contact_id")
	if contactID == "" {
		s.fail(c, http.StatusBadRequest, "contact_id is required.")
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())
	sub, err := s.deps.Realtime.Subscribe(ctx, contactID)
	if err != nil {
		s.logger.Error("realtime subscribe failed", zap.String("contact_id", contactID), zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Close()

	if m := s.deps.Metrics; m != nil {
		m.RealtimeSubscribers.Inc()
		defer m.RealtimeSubscribers.Dec()
	}
	logger := s.logger.With(zap.String("contact_id", contactID))
	logger.Debug("realtime subscriber connected")

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("realtime subscriber gone")
			return
		case msg, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				logger.Debug("realtime write failed", zap.Error(err))
				return
			}
		}
	}
}
