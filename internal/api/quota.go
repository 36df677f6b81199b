package api

import (
	"github.com/spb722/ai-companion/internal/quota"
	"github.com/spb722/ai-companion/internal/repository"

	"github.com/gin-gonic/gin"
)

// QuotaHandler serves the daily quota status endpoint
type QuotaHandler struct {
	quota *quota.Tracker
	users *repository.UserRepository
}

// NewQuotaHandler creates the quota handler
func NewQuotaHandler(tracker *quota.Tracker, users *repository.UserRepository) *QuotaHandler {
	return &QuotaHandler{quota: tracker, users: users}
}

// Get reports the user's remaining daily allowance without consuming any
func (h *QuotaHandler) Get(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	info, err := h.quota.Peek(c.Request.Context(), user.ID, user.SubscriptionTier)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(200, info)
}
