// Package middleware holds the gin middleware shared by the HTTP server.
package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/filipjov/askoro/internal/pkg/response"
)

const userIDContextKey = "auth.user_id"

// AuthCookieName carries the token for browser-driven requests such as
// OAuth callbacks, which arrive without an Authorization header.
const AuthCookieName = "auth_token"

// JWTAuth verifies the HS256 bearer token minted by the auth provider and
// stores its subject (the user id) on the request context. The token is read
// from the Authorization header, falling back to the auth cookie.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			token, _ = c.Cookie(AuthCookieName)
		}
		if token == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		claims := &jwt.RegisteredClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !parsed.Valid || claims.Subject == "" {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(userIDContextKey, claims.Subject)
		c.Next()
	}
}

// UserID returns the authenticated user id stored by JWTAuth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
