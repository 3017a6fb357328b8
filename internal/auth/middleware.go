package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the caller's Claims.
const ClaimsKey = "claims"

// OperatorAuth enforces bearer access tokens. A nil issuer disables the
// check.
func OperatorAuth(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if issuer == nil {
			c.Next()
			return
		}
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing bearer token"})
			return
		}
		claims, err := issuer.Parse(tokenStr, TokenAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid token"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// bearerToken reads the Authorization header. WebSocket upgrades may pass
// the token as ?token= instead, since browsers cannot set headers on them.
func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if authz != "" {
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return "", false
		}
		tok := strings.TrimSpace(authz[len("bearer "):])
		return tok, tok != ""
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		tok := c.Query("token")
		return tok, tok != ""
	}
	return "", false
}
