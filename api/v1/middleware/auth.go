package middleware

import (
	"errors"
	"strings"

	"go_relay/internal/auth"
	"go_relay/internal/httpx"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthRequired validates the session token. Signature and expiry are checked
// first; the token id must then still be present in the Active-Session Set,
// so a revoked session fails even with a valid signature.
func AuthRequired(sessions *auth.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httpx.FailErr(c, httpx.ErrUnauthorized("missing authorization header"))
			c.Abort()
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httpx.FailErr(c, httpx.ErrUnauthorized("invalid authorization header format"))
			c.Abort()
			return
		}

		tokenString := parts[1]

		claims, err := sessions.Validate(c.Request.Context(), tokenString)
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				httpx.FailErr(c, httpx.ErrTokenExpired("token expired"))
			case errors.Is(err, auth.ErrSessionRevoked):
				httpx.FailErr(c, httpx.ErrInvalidToken("session revoked"))
			default:
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid token"))
			}
			c.Abort()
			return
		}

		// Set caller info in context
		c.Set("uid", claims.UID)
		c.Set("username", claims.Username)
		c.Set("token_id", claims.ID)

		c.Next()
	}
}
