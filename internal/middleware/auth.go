package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/pkg/utils"
	"github.com/gin-gonic/gin"
)

const (
	userIDKey = "userId"
	actorKey  = "actor"
)

// UserLookup loads the current state of an authenticated user. Returning a nil user
// means the account no longer exists.
type UserLookup func(ctx context.Context, id uint) (*models.User, error)

// AuthMiddleware resolves the bearer token into a ledger.Actor. The token may also be
// passed as the `token` query parameter, which browsers need for websockets. When
// lookup is set, role flags come from the database and banned users are refused.
func AuthMiddleware(tokens *utils.TokenIssuer, lookup UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header or token query parameter required"})
			return
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		actor := ledger.Actor{UserID: claims.UserID, IsAdmin: claims.IsAdmin, IsDriver: claims.IsDriver}
		if lookup != nil {
			user, err := lookup(c.Request.Context(), claims.UserID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
				return
			}
			if user == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Account not found"})
				return
			}
			if user.IsBanned {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account is suspended"})
				return
			}
			actor.IsAdmin, actor.IsDriver = user.IsAdmin, user.IsDriver
		}

		c.Set(userIDKey, actor.UserID)
		c.Set(actorKey, actor)
		c.Next()
	}
}

// AdminOnly must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Actor(c).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// Actor returns the authenticated actor, or the zero Actor on public routes.
func Actor(c *gin.Context) ledger.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(ledger.Actor); ok {
			return a
		}
	}
	return ledger.Actor{}
}
