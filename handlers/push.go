package handlers

import (
	"context"
	"net/http"

	"devconnect/middleware"
	"devconnect/models"

	"github.com/gin-gonic/gin"
)

type PushService interface {
	PublicKey() string
	Subscribe(ctx context.Context, userID string, endpoint string, keys models.PushKeys) error
	Unsubscribe(ctx context.Context, endpoint string) error
}

type PushHandler struct {
	push PushService
}

func NewPushHandler(push PushService) *PushHandler {
	return &PushHandler{push: push}
}

func (h *PushHandler) VapidPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": h.push.PublicKey()})
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required,url"`
		Keys     struct {
			P256dh string `json:"p256dh" binding:"required"`
			Auth   string `json:"auth" binding:"required"`
		} `json:"keys" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	keys := models.PushKeys{P256dh: req.Keys.P256dh, Auth: req.Keys.Auth}
	if err := h.push.Subscribe(ctx, middleware.UserID(c), req.Endpoint, keys); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Subscribed to push notifications"})
}

func (h *PushHandler) Unsubscribe(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.push.Unsubscribe(ctx, req.Endpoint); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed from push notifications"})
}
