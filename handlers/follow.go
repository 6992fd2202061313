package handlers

import (
	"context"
	"net/http"

	"devconnect/middleware"
	"devconnect/services"

	"github.com/gin-gonic/gin"
)

type FollowService interface {
	Toggle(ctx context.Context, userID, targetID string) (*services.FollowResult, error)
}

type FollowHandler struct {
	follows FollowService
}

func NewFollowHandler(follows FollowService) *FollowHandler {
	return &FollowHandler{follows: follows}
}

// Toggle handles POST /api/follow/:userId.
func (h *FollowHandler) Toggle(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.follows.Toggle(ctx, middleware.UserID(c), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
