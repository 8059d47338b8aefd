package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DepressionHub/session-relay/internal/session"
)

// GetSession returns the live state and participants of a session room
// (public, introspection only).
func GetSession(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		room, ok := registry.Get(sessionID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}

		snap, ok := room.Snapshot()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}

		c.JSON(http.StatusOK, snap)
	}
}
