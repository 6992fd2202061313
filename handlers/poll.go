package handlers

import (
	"context"
	"net/http"

	"devconnect/middleware"
	"devconnect/models"

	"github.com/gin-gonic/gin"
)

type PollService interface {
	Get(ctx context.Context, id string) (*models.Poll, error)
	Vote(ctx context.Context, userID, pollID string, option int) (*models.Poll, error)
	Refresh(ctx context.Context, pollID string) (*models.Poll, error)
}

type PollHandler struct {
	polls PollService
}

func NewPollHandler(polls PollService) *PollHandler {
	return &PollHandler{polls: polls}
}

func (h *PollHandler) Get(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	poll, err := h.polls.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (h *PollHandler) Vote(c *gin.Context) {
	var req struct {
		OptionIndex *int `json:"optionIndex" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	poll, err := h.polls.Vote(ctx, middleware.UserID(c), c.Param("id"), *req.OptionIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (h *PollHandler) Refresh(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	poll, err := h.polls.Refresh(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}
