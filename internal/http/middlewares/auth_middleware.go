package middlewares

import (
	"net/http"
	"strings"

	"github.com/geocoder89/bloghub/internal/token"
	"github.com/gin-gonic/gin"
)

// SessionCookie carries the signed session token. HTTP-only so client
// script can never read it.
const SessionCookie = "access_token"

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	Verify(token string) (*token.Claims, error)
}

type AuthMiddleware struct {
	jwt TokenVerifier
}

func NewAuthMiddleware(jwt TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

const (
	ctxUserIDKey  = "auth.userID"
	ctxIsAdminKey = "auth.isAdmin"
)

func abortUnauthorized(c *gin.Context) {
	// One message for every failure mode: absent cookie, bad signature,
	// expiry, malformed token. The cause is never disclosed.
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success":    false,
		"statusCode": http.StatusUnauthorized,
		"message":    "Unauthorized",
	})
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFromRequest(c)

		if raw == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := m.jwt.Verify(raw)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		// Stash useful bits of identity on the context
		c.Set(ctxUserIDKey, claims.UserID)
		c.Set(ctxIsAdminKey, claims.IsAdmin)

		c.Next()
	}
}

// tokenFromRequest prefers the session cookie; the Bearer header is a
// fallback for non-browser clients.
func tokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	}

	return ""
}

// Optional helpers so handlers don’t need to know the magic keys.

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

func IsAdminFromContext(c *gin.Context) bool {
	v, ok := c.Get(ctxIsAdminKey)
	if !ok {
		return false
	}
	isAdmin, ok := v.(bool)
	return ok && isAdmin
}
