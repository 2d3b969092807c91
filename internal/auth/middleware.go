package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClaimsKey is the gin context key holding the verified *Claims.
const ClaimsKey = "auth.claims"

// TokenFromRequest reads the session token from the auth_token cookie or a
// Bearer Authorization header, in that order.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// PageExempt reports paths the page guard lets through: the login page, the
// API (guarded separately), static assets and the probe endpoints.
func PageExempt(path string) bool {
	switch {
	case strings.HasPrefix(path, "/login"),
		path == "/api" || strings.HasPrefix(path, "/api/"),
		strings.HasPrefix(path, "/_next/"),
		strings.HasPrefix(path, "/favicon"),
		path == "/healthz",
		path == "/metrics":
		return true
	}
	return false
}

// PageGuard redirects unauthenticated page requests to /login.
func PageGuard(a *Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if PageExempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		claims, err := a.Verify(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			logger.Debug("page guard rejected request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// APIGuard rejects unauthenticated API calls with 401.
func APIGuard(a *Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.Verify(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			msg := "Authentication required."
			if errors.Is(err, ErrTokenExpired) {
				msg = "Session expired."
			}
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrTokenRevoked) {
				logger.Warn("token verification failed", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": msg})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}
