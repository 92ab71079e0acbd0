package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// caller is the authenticated identity attached to the request context.
type caller struct {
	UserID   string
	Username string
}

// RequireSession authenticates the Authorization bearer header against the
// session token service and attaches the caller identity.
func (s *Server) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			problem(c, http.StatusUnauthorized, codeUnauthenticated, "missing bearer token")
			c.Abort()
			return
		}

		claims, err := s.sessions.VerifySessionToken(token)
		if err != nil {
			problem(c, http.StatusUnauthorized, codeUnauthenticated, "invalid or expired session token")
			c.Abort()
			return
		}

		c.Set(callerKey, caller{UserID: claims.Subject, Username: claims.Username})
		c.Next()
	}
}

func currentCaller(c *gin.Context) caller {
	v, _ := c.Get(callerKey)
	cl, _ := v.(caller)
	return cl
}
