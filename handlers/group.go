package handlers

import (
	"context"
	"net/http"

	"devconnect/middleware"
	"devconnect/models"

	"github.com/gin-gonic/gin"
)

type GroupService interface {
	UpdateSettings(ctx context.Context, userID, groupID string, settings models.GroupSettings) (*models.Group, error)
}

type GroupHandler struct {
	groups GroupService
}

func NewGroupHandler(groups GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

func (h *GroupHandler) UpdateSettings(c *gin.Context) {
	var settings models.GroupSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	group, err := h.groups.UpdateSettings(ctx, middleware.UserID(c), c.Param("id"), settings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}
