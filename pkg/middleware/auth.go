package middleware

import (
	stderrors "errors"
	"strings"

	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/jwt"

	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middleware
const (
	ContextClaimsKey = "claims"
	ContextUserIDKey = "userId"
)

// JWTAuth validates the bearer token and stores the claims on the request
// context. Requests without a valid token are rejected with a typed 401.
func JWTAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Error(errors.NewUnauthorizedError(errors.CodeAuthRequired, "Authentication required."))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			if stderrors.Is(err, jwt.ErrExpiredToken) {
				c.Error(errors.NewUnauthorizedError(errors.CodeTokenExpired, "Token has expired."))
			} else {
				c.Error(errors.NewUnauthorizedError(errors.CodeInvalidToken, "Invalid authentication token."))
			}
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}

// RequireRole rejects authenticated requests whose claims lack the role.
// Admins pass every check.
func RequireRole(role jwt.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			c.Error(errors.NewUnauthorizedError(errors.CodeAuthRequired, "Authentication required."))
			c.Abort()
			return
		}
		if !claims.HasRole(role) {
			c.Error(errors.NewForbiddenError("FORBIDDEN", "Insufficient permissions."))
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClaimsFromContext returns the validated claims for the request, or nil
func ClaimsFromContext(c *gin.Context) *jwt.JWTClaims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*jwt.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// extractToken reads the bearer token from the Authorization header, with a
// query parameter fallback for transports that cannot set headers, such as
// the browser WebSocket and EventSource APIs.
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}
