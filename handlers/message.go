package handlers

import (
	"context"
	"net/http"
	"time"

	"devconnect/middleware"
	"devconnect/models"
	"devconnect/services"

	"github.com/gin-gonic/gin"
)

type MessageService interface {
	List(ctx context.Context, userID, partnerID string, limit int64, before *time.Time) ([]models.Message, error)
	Get(ctx context.Context, userID, id string) (*models.Message, error)
	MarkRead(ctx context.Context, userID, partnerID string) (int, error)
	Send(ctx context.Context, senderID string, in services.SendMessageInput) (*models.Message, error)
	Edit(ctx context.Context, userID, id, content string) (*models.Message, error)
	Delete(ctx context.Context, userID, id, requestID string) error
	Conversations(ctx context.Context, userID string, limit int64) ([]models.Conversation, error)
}

type MessageHandler struct {
	messages MessageService
}

func NewMessageHandler(messages MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// List handles GET /api/messages?with=&limit=&before=. It never marks messages read.
func (h *MessageHandler) List(c *gin.Context) {
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC 3339 timestamp"})
			return
		}
		before = &t
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	msgs, err := h.messages.List(ctx, middleware.UserID(c), c.Query("with"), queryInt(c, "limit", 0), before)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *MessageHandler) Get(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	msg, err := h.messages.Get(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead handles POST /api/messages/read {with}.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req struct {
		With string `json:"with" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.messages.MarkRead(ctx, middleware.UserID(c), req.With)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req services.SendMessageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	msg, err := h.messages.Send(ctx, middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) Edit(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	msg, err := h.messages.Edit(ctx, middleware.UserID(c), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.messages.Delete(ctx, middleware.UserID(c), c.Param("id"), middleware.RequestID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}
