package handlers

import (
	"errors"
	"net/http"

	"devconnect/middleware"
	"devconnect/monitoring"
	"devconnect/services"

	"github.com/gin-gonic/gin"
)

// Conversations handles GET /api/conversations. When the database cannot be reached it answers
// with an empty, flagged list so the inbox still renders.
func (h *MessageHandler) Conversations(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	convs, err := h.messages.Conversations(ctx, middleware.UserID(c), queryInt(c, "limit", 0))
	if errors.Is(err, services.ErrUnavailable) {
		monitoring.ReportDegraded(c.FullPath(), err)
		c.JSON(http.StatusOK, gin.H{"conversations": []interface{}{}, "degraded": true})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	for i := range convs {
		if p := convs[i].Partner; p != nil && p.Avatar == "" {
			p.Avatar = fallbackAvatar
		}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs, "degraded": false})
}
