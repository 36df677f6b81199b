package api

import (
	"net/http/httptest"
	"testing"

	"github.com/spb722/ai-companion/internal/models"
	"github.com/spb722/ai-companion/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLimits map[string]int64

func (f fakeLimits) TierLimit(tier string) int64 {
	if limit, ok := f[tier]; ok {
		return limit
	}
	return 20
}

func TestPlansCatalogListsEveryTier(t *testing.T) {
	limits := fakeLimits{
		models.TierFree:       20,
		models.TierPro:        500,
		models.TierEnterprise: -1,
	}
	h := NewBillingHandler(nil, nil, limits, logger.New(logger.Config{Level: "error"}))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/v1/billing/plans", nil)
	h.Plans(c)

	require.Equal(t, 200, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"tier":"free"`)
	assert.Contains(t, body, `"daily_limit":20`)
	assert.Contains(t, body, `"tier":"pro"`)
	assert.Contains(t, body, `"daily_limit":500`)
	assert.Contains(t, body, `"tier":"enterprise"`)
	assert.Contains(t, body, `"daily_limit":-1`)
	assert.Contains(t, body, `"premium_characters":false`)
}
