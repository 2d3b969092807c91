package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/store"
)

const (
	msgInternal        = "An internal error occurred."
	msgConfig          = "Server configuration error."
	msgInvalidPassword = "Invalid password."
	msgBotNotConfig    = "WhatsApp bot API URL is not configured."
	msgContactNotFound = "Contact not found."
	msgInvalidBody     = "Invalid request body."
)

func errorBody(msg string) gin.H {
	return gin.H{"status": "error", "message": msg}
}

func (s *Server) fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody(msg))
}

// storeFail maps store errors to responses. Not-found is a 404, anything
// else a logged 500.
func (s *Server) storeFail(c *gin.Context, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.fail(c, http.StatusNotFound, msgContactNotFound)
		return
	}
	s.logger.Error(op+" failed", zap.Error(err))
	if s.deps.Metrics != nil {
		s.deps.Metrics.Errors.WithLabelValues("store").Inc()
	}
	s.fail(c, http.StatusInternalServerError, msgInternal)
}
