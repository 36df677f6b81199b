package api

import (
	stderrors "errors"

	"github.com/spb722/ai-companion/internal/llm"
	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves the operator endpoints for steering the failover
// engine.
type AdminHandler struct {
	engine *llm.Engine
	log    *logger.Logger
}

// NewAdminHandler creates the admin handler
func NewAdminHandler(engine *llm.Engine, log *logger.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, log: log}
}

type switchRequest struct {
	Provider string `json:"provider"`
}

// Switch pins all traffic to one provider, or clears the pin when the
// provider field is empty.
func (h *AdminHandler) Switch(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid switch payload: "+err.Error()))
		return
	}

	if req.Provider == "" {
		if err := h.engine.Unpin(c.Request.Context()); err != nil {
			c.Error(err)
			return
		}
		h.log.Info("provider pin cleared")
		c.JSON(200, gin.H{"pinned": ""})
		return
	}

	if err := h.engine.Pin(c.Request.Context(), req.Provider); err != nil {
		if stderrors.Is(err, llm.ErrUnknownProvider) {
			c.Error(errors.NewNotFoundError("PROVIDER_NOT_FOUND", "No such provider is configured."))
			return
		}
		c.Error(err)
		return
	}

	h.log.Info("provider pinned", "provider", req.Provider)
	c.JSON(200, gin.H{"pinned": req.Provider})
}

type testRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// Test probes a provider with a minimal request and reports the latency
func (h *AdminHandler) Test(c *gin.Context) {
	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid test payload: "+err.Error()))
		return
	}

	latency, err := h.engine.Probe(c.Request.Context(), req.Provider)
	if err != nil {
		if stderrors.Is(err, llm.ErrUnknownProvider) {
			c.Error(errors.NewNotFoundError("PROVIDER_NOT_FOUND", "No such provider is configured."))
			return
		}
		c.JSON(200, gin.H{
			"provider":   req.Provider,
			"ok":         false,
			"latency_ms": latency.Milliseconds(),
			"error":      err.Error(),
		})
		return
	}

	c.JSON(200, gin.H{
		"provider":   req.Provider,
		"ok":         true,
		"latency_ms": latency.Milliseconds(),
	})
}
