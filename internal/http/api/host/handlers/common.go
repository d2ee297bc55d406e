package handlers

import "github.com/gin-gonic/gin"

// getHostID extracts the authenticated host ID from gin context.
func getHostID(c *gin.Context) string {
	val, exists := c.Get("hostID")
	if !exists {
		return ""
	}
	hostID, _ := val.(string)
	return hostID
}
