package handlers

import (
	"context"
	"net/http"

	"devconnect/middleware"
	"devconnect/models"
	"devconnect/services"

	"github.com/gin-gonic/gin"
)

type UserService interface {
	Profile(ctx context.Context, viewerID, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, in services.ProfileUpdate) (*models.User, error)
}

type UserHandler struct {
	users UserService
}

func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// GetUser handles GET /api/user/:id. Any id the user is known by works.
func (h *UserHandler) GetUser(c *gin.Context) {
	h.profile(c, c.Param("id"))
}

func (h *UserHandler) GetMyProfile(c *gin.Context) {
	h.profile(c, middleware.UserID(c))
}

func (h *UserHandler) profile(c *gin.Context, id string) {
	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.Profile(ctx, middleware.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if user.Avatar == "" {
		user.Avatar = fallbackAvatar
	}
	c.JSON(http.StatusOK, user)
}

// UpdateMyProfile handles PUT /api/me. Omitted fields keep their value.
func (h *UserHandler) UpdateMyProfile(c *gin.Context) {
	var req services.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := h.users.UpdateProfile(ctx, middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated successfully", "user": user})
}
