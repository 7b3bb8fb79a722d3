package middleware

import (
	"context"
	"net/http"
	"strings"

	jwtsvc "taskhub/internal/pkg/jwt"
	"taskhub/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// DenylistChecker is the read side of the access-token denylist.
type DenylistChecker interface {
	Contains(ctx context.Context, jti string) (bool, error)
}

// JWTAuth verifies the bearer token and consults the denylist. Every
// rejection uses the same body: callers never learn which check failed.
func JWTAuth(jwt *jwtsvc.Service, denylist DenylistChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			unauthorized(c)
			return
		}

		claims, err := jwt.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			unauthorized(c)
			return
		}

		denied, err := denylist.Contains(c.Request.Context(), claims.ID)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, "internal_error", "Failed to check token")
			c.Abort()
			return
		}
		if denied {
			unauthorized(c)
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("jti", claims.ID)

		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	response.Error(c, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
	c.Abort()
}
