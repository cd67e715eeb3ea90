package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/visitra/chaincore/internal/session"
)

// ContextKeySession is the gin context key holding the validated session.
const ContextKeySession = "authSession"

// RequireSession validates the bearer token and aborts with 401 when the
// request carries no valid session.
func RequireSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Include 'Authorization: Bearer <token>' header.",
			})
			return
		}

		sess, err := sessions.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or expired session.",
			})
			return
		}

		c.Set(ContextKeySession, sess)
		c.Next()
	}
}

// GetSession returns the validated session from the gin context.
func GetSession(c *gin.Context) (*session.Session, bool) {
	v, exists := c.Get(ContextKeySession)
	if !exists {
		return nil, false
	}
	sess, ok := v.(*session.Session)
	return sess, ok
}
