package api

import (
	"github.com/spb722/ai-companion/internal/models"
	"github.com/spb722/ai-companion/internal/quota"
	"github.com/spb722/ai-companion/internal/repository"
	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/logger"

	"github.com/gin-gonic/gin"
)

// BillingHandler serves the subscription tier endpoints. Payment itself is
// out of scope; the upgrade endpoint records the tier change reported by the
// storefront.
type BillingHandler struct {
	users  *repository.UserRepository
	quota  *quota.Tracker
	limits quota.Limits
	log    *logger.Logger
}

// NewBillingHandler creates the billing handler
func NewBillingHandler(users *repository.UserRepository, tracker *quota.Tracker, limits quota.Limits, log *logger.Logger) *BillingHandler {
	return &BillingHandler{users: users, quota: tracker, limits: limits, log: log}
}

// Plan describes one subscription tier in the catalog
type Plan struct {
	Tier string `json:"tier"`
	// DailyLimit < 0 means unlimited
	DailyLimit        int64 `json:"daily_limit"`
	PremiumCharacters bool  `json:"premium_characters"`
}

func (h *BillingHandler) catalog() []Plan {
	tiers := []string{models.TierFree, models.TierPro, models.TierEnterprise}
	plans := make([]Plan, 0, len(tiers))
	for _, tier := range tiers {
		plans = append(plans, Plan{
			Tier:              tier,
			DailyLimit:        h.limits.TierLimit(tier),
			PremiumCharacters: tier != models.TierFree,
		})
	}
	return plans
}

// Plans returns the subscription tier catalog
func (h *BillingHandler) Plans(c *gin.Context) {
	c.JSON(200, gin.H{"plans": h.catalog()})
}

// CurrentPlan returns the user's tier alongside today's quota state
func (h *BillingHandler) CurrentPlan(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	info, err := h.quota.Peek(c.Request.Context(), user.ID, user.SubscriptionTier)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(200, gin.H{
		"plan": Plan{
			Tier:              user.SubscriptionTier,
			DailyLimit:        h.limits.TierLimit(user.SubscriptionTier),
			PremiumCharacters: user.IsPremium(),
		},
		"quota": info,
	})
}

type upgradeRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// Upgrade moves the user to a new tier. The day's quota counter is cleared
// so the new allowance applies immediately instead of at midnight.
func (h *BillingHandler) Upgrade(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid upgrade payload: "+err.Error()))
		return
	}

	switch req.Tier {
	case models.TierFree, models.TierPro, models.TierEnterprise:
	default:
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Unknown subscription tier."))
		return
	}

	if req.Tier == user.SubscriptionTier {
		c.JSON(200, gin.H{"tier": user.SubscriptionTier, "changed": false})
		return
	}

	if err := h.users.UpdateTier(c.Request.Context(), user.ID, req.Tier); err != nil {
		c.Error(err)
		return
	}
	if err := h.quota.Reset(c.Request.Context(), user.ID); err != nil {
		h.log.Warn("quota reset after tier change failed", "user_id", user.ID, "error", err.Error())
	}

	h.log.Info("subscription tier changed",
		"user_id", user.ID,
		"from", user.SubscriptionTier,
		"to", req.Tier,
	)
	c.JSON(200, gin.H{"tier": req.Tier, "changed": true})
}
