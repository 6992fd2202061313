package handlers

import (
	"context"
	"errors"
	"net/http"

	"devconnect/identity"
	"devconnect/middleware"
	"devconnect/models"

	"github.com/gin-gonic/gin"
)

type AccountLinker interface {
	AuthURL(state string) string
	Link(ctx context.Context, userID, code string) (*models.Account, error)
}

// StateSigner binds the OAuth state to the signed-in user so a callback code can only be
// redeemed by the user who started the flow.
type StateSigner interface {
	IssueState(userID, purpose string) (string, error)
	VerifyState(state, userID, purpose string) error
}

const googleState = "google-link"

type AccountHandler struct {
	google AccountLinker
	states StateSigner
}

func NewAccountHandler(google AccountLinker, states StateSigner) *AccountHandler {
	return &AccountHandler{google: google, states: states}
}

// GoogleURL returns the consent URL the client opens before posting the code and state back.
func (h *AccountHandler) GoogleURL(c *gin.Context) {
	state, err := h.states.IssueState(middleware.UserID(c), googleState)
	if err != nil {
		respondError(c, err)
		return
	}
	url := h.google.AuthURL(state)
	if url == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": identity.ErrLinkingDisabled.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "state": state})
}

func (h *AccountHandler) LinkGoogle(c *gin.Context) {
	var req struct {
		Code  string `json:"code" binding:"required"`
		State string `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.states.VerifyState(req.State, middleware.UserID(c), googleState); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	acct, err := h.google.Link(ctx, middleware.UserID(c), req.Code)
	switch {
	case errors.Is(err, identity.ErrLinkingDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, identity.ErrAlreadyLinked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, identity.ErrExchangeFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		respondError(c, err)
	default:
		c.JSON(http.StatusCreated, acct)
	}
}
