package httpapi

import (
	_ "embed"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/wppadmin/internal/auth"
)

var (
	//go:embed web/login.html
	loginPage []byte
	//go:embed web/index.html
	indexPage []byte
)

func (s *Server) handleLoginPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", loginPage)
}

func (s *Server) handleHomePage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) countLogin(result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.deps.Auth.Configured() {
		s.logger.Error("access password or jwt secret not set")
		s.countLogin("error")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgConfig})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("login request unreadable", zap.Error(err))
		s.countLogin("error")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgInternal})
		return
	}

	token, exp, err := s.deps.Auth.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidPassword):
		s.countLogin("invalid")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": msgInvalidPassword})
		return
	case err != nil:
		s.logger.Error("login failed", zap.Error(err))
		s.countLogin("error")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgInternal})
		return
	}

	s.countLogin("success")
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.deps.Auth.TTL() / time.Second),
		Expires:  exp,
		HttpOnly: true,
		Secure:   s.opts.Production,
		SameSite: http.SameSiteStrictMode,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.deps.Auth.Logout(c.Request.Context(), auth.TokenFromRequest(c.Request)); err != nil {
		s.logger.Error("logout failed", zap.Error(err))
		s.fail(c, http.StatusInternalServerError, msgInternal)
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.Production,
		SameSite: http.SameSiteStrictMode,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}
