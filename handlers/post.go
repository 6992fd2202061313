package handlers

import (
	"context"
	"net/http"

	"devconnect/middleware"
	"devconnect/models"
	"devconnect/services"

	"github.com/gin-gonic/gin"
)

type PostService interface {
	ToggleLike(ctx context.Context, userID, postID string) (*services.LikeResult, error)
	Share(ctx context.Context, userID, postID, message string) (*models.Share, error)
	AddComment(ctx context.Context, userID, postID, content string) (*models.Comment, error)
	DeleteComment(ctx context.Context, userID, commentID string) error
	AddBookmark(ctx context.Context, userID, postID string, tags []string) (bool, error)
	RemoveBookmark(ctx context.Context, userID, postID string) error
	ListBookmarks(ctx context.Context, userID string) ([]models.Bookmark, error)
}

type PostHandler struct {
	posts PostService
}

func NewPostHandler(posts PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

func (h *PostHandler) ToggleLike(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.posts.ToggleLike(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PostHandler) Share(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	share, err := h.posts.Share(ctx, middleware.UserID(c), c.Param("id"), req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, share)
}

func (h *PostHandler) AddComment(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	comment, err := h.posts.AddComment(ctx, middleware.UserID(c), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *PostHandler) DeleteComment(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.posts.DeleteComment(ctx, middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted"})
}
