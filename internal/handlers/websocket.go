package handlers

import (
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// WebSocketHandler upgrades an authenticated request to the user's live channel.
func WebSocketHandler(hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request, c.GetUint("userId"))
	}
}
