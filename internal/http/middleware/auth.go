package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/services"
)

// Gin context key under which the validated operator claims land.
const OperatorClaimsKey = "operator_claims"

type AuthMiddleware struct {
	log  *logger.Logger
	auth services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, auth services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "Auth"), auth: auth}
}

// RequireOperator rejects requests without a valid session JWT.
func (am *AuthMiddleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing bearer token", "code": "unauthorized"},
			})
			return
		}
		claims, err := am.auth.ValidateSession(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": err.Error(), "code": "unauthorized"},
			})
			return
		}
		c.Set(OperatorClaimsKey, claims)
		c.Next()
	}
}

// Operator returns the acct of the authenticated operator, empty when the
// route skipped auth.
func Operator(c *gin.Context) string {
	v, ok := c.Get(OperatorClaimsKey)
	if !ok {
		return ""
	}
	claims, ok := v.(*services.OperatorClaims)
	if !ok {
		return ""
	}
	return claims.Acct
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
