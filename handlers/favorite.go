package handlers

import (
	"net/http"

	"devconnect/middleware"

	"github.com/gin-gonic/gin"
)

// AddBookmark handles POST /api/bookmarks. Saving twice is not an error.
func (h *PostHandler) AddBookmark(c *gin.Context) {
	var req struct {
		PostID string   `json:"postId" binding:"required"`
		Tags   []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	created, err := h.posts.AddBookmark(ctx, middleware.UserID(c), req.PostID, req.Tags)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"bookmarked": true, "created": created})
}

func (h *PostHandler) RemoveBookmark(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.posts.RemoveBookmark(ctx, middleware.UserID(c), c.Param("postId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarked": false})
}

func (h *PostHandler) ListBookmarks(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := h.posts.ListBookmarks(ctx, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarks": list})
}
