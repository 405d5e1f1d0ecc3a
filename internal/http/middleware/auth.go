package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/coursekb/coursekb-backend/internal/http/response"
	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

const (
	ContextUserIDKey = "user_id"
	ContextRoleKey   = "user_role"
)

// AuthMiddleware validates bearer tokens and exposes the caller's identity
// to handlers. Token issuance lives elsewhere; this only verifies.
type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{
		log:    log.With("middleware", "AuthMiddleware"),
		secret: []byte(secret),
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			am.abort(c, errors.New("missing or invalid token"))
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return am.secret, nil
		})
		if err != nil || !token.Valid {
			am.log.Debug("Rejected token", "error", err)
			am.abort(c, errors.New("invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			am.abort(c, errors.New("invalid token claims"))
			return
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			am.abort(c, errors.New("token has no subject"))
			return
		}
		userID, err := uuid.Parse(sub)
		if err != nil {
			am.abort(c, errors.New("token subject is not a user id"))
			return
		}

		c.Set(ContextUserIDKey, userID)
		if role, ok := claims["role"].(string); ok {
			c.Set(ContextRoleKey, role)
		}
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func (am *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if got, ok := c.Get(ContextRoleKey); !ok || got != role {
			response.RespondError(c, http.StatusForbidden, apierr.CodeUnauthorized, errors.New("insufficient role"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (am *AuthMiddleware) abort(c *gin.Context, err error) {
	response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, err)
	c.Abort()
}

// UserID reads the authenticated user set by RequireAuth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return c.Query("token")
}
