package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/1zbbxzak1/EventHubBot/pkg/response"
)

const (
	// UserIDHeader carries the caller identity resolved upstream
	UserIDHeader = "X-User-ID"
	// ContextKeyUserID is the gin context key holding the caller id
	ContextKeyUserID = "user_id"
)

// RequireUser rejects requests without a caller identity
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Err("UNAUTHORIZED", UserIDHeader+" header is required"))
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// RequireToken resolves the caller from a Bearer JWT signed with secret
// (HS256). The subject claim is the user id.
func RequireToken(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Err("UNAUTHORIZED", "bearer token is required"))
			return
		}

		userID, err := parseSubject(strings.TrimSpace(raw), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Err("INVALID_TOKEN", err.Error()))
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

func parseSubject(raw string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// RequireAdmin allows only the listed user ids. Must run after RequireUser.
func RequireAdmin(adminIDs []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		allowed[id] = struct{}{}
	}

	return func(c *gin.Context) {
		userID, _ := GetUserID(c)
		if _, ok := allowed[userID]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Err("FORBIDDEN", "admin access required"))
			return
		}
		c.Next()
	}
}

// GetUserID returns the caller id set by RequireUser
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextKeyUserID)
	return userID, userID != ""
}
