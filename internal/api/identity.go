package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"storefront-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	identityKey     = "identity"
	sessionIDHeader = "X-Session-ID"
)

// IdentityMiddleware resolves who is checking out. A Bearer token is optional;
// when present it must be a valid HS256 token whose "sub" claim is the user
// id. Without a token the request is a guest identified by X-Session-ID.
func IdentityMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := service.Identity{SessionID: strings.TrimSpace(c.GetHeader(sessionIDHeader))}

		auth := c.GetHeader("Authorization")
		if auth != "" {
			if !strings.HasPrefix(auth, "Bearer ") {
				abortUnauthorized(c, "malformed authorization header")
				return
			}
			userID, err := parseUserToken(strings.TrimPrefix(auth, "Bearer "), secret)
			if err != nil {
				abortUnauthorized(c, "invalid token")
				return
			}
			identity.UserID = &userID
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func parseUserToken(raw, secret string) (int64, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return 0, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid claims")
	}

	switch sub := claims["sub"].(type) {
	case string:
		return strconv.ParseInt(sub, 10, 64)
	case float64:
		return int64(sub), nil
	default:
		return 0, fmt.Errorf("missing subject")
	}
}

func identityFrom(c *gin.Context) service.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(service.Identity); ok {
			return identity
		}
	}
	return service.Identity{}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "unauthorized",
			"message": message,
		},
	})
}
