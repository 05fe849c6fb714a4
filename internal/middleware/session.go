package middleware

import (
	"errors"
	"net/http"

	"github.com/Monthlyaway/short-rules/internal/identity"
	"github.com/Monthlyaway/short-rules/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// SessionCookie is the cookie carrying the opaque session token
	SessionCookie = "session_token"
	// sessionMaxAge is the cookie lifetime in seconds (30 days)
	sessionMaxAge = 30 * 24 * 60 * 60

	ownerContextKey = "owner"
)

// Session resolves the request's session token to an owner, minting a
// fresh token when the request carries none, and stores the owner in
// the gin context for downstream handlers.
func Session(resolver *identity.Resolver, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookie)
		if err != nil || token == "" {
			token = uuid.NewString()
			c.SetCookie(SessionCookie, token, sessionMaxAge, "/", "", false, true)
		}

		owner, err := resolver.Resolve(c.Request.Context(), token)
		if errors.Is(err, identity.ErrIdentityConflict) {
			// Lost a creation race; the other writer's owner exists now
			owner, err = resolver.Resolve(c.Request.Context(), token)
		}
		if err != nil {
			logger.Error("failed to resolve owner", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    http.StatusInternalServerError,
				"message": "Failed to resolve session",
			})
			return
		}

		c.Set(ownerContextKey, owner)
		c.Next()
	}
}

// OwnerFrom returns the owner stored by the Session middleware
func OwnerFrom(c *gin.Context) *model.Owner {
	if v, ok := c.Get(ownerContextKey); ok {
		if owner, ok := v.(*model.Owner); ok {
			return owner
		}
	}
	return nil
}
