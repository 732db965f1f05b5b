package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin must run after RequireAuth; it gates the admin jobs surface
// on the isAdmin claim.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserIDFromContext(c); !ok {
			abortUnauthorized(c)
			return
		}

		if !IsAdminFromContext(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success":    false,
				"statusCode": http.StatusForbidden,
				"message":    "Admin access required",
			})
			return
		}
		c.Next()
	}
}
