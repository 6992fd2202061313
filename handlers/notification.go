package handlers

import (
	"context"
	"net/http"

	"devconnect/middleware"
	"devconnect/models"
	"devconnect/services"

	"github.com/gin-gonic/gin"
)

type NotificationService interface {
	List(ctx context.Context, userID string, page, limit int64) (*services.NotificationPage, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, id string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// NotificationHandler exposes the notification list. Marking read is a data change only.
type NotificationHandler struct {
	notifications NotificationService
}

func NewNotificationHandler(notifications NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) List(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	page, err := h.notifications.List(ctx, middleware.UserID(c), queryInt(c, "page", 1), queryInt(c, "limit", 20))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.notifications.UnreadCount(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": n})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.notifications.MarkRead(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.notifications.MarkAllRead(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
