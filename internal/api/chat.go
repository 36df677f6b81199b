package api

import (
	"strconv"
	"strings"

	"github.com/spb722/ai-companion/internal/chat"
	"github.com/spb722/ai-companion/internal/llm"
	"github.com/spb722/ai-companion/internal/repository"
	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves the chat send, history and provider-status endpoints
type ChatHandler struct {
	chat   *chat.Service
	users  *repository.UserRepository
	engine *llm.Engine
	log    *logger.Logger
}

// NewChatHandler creates the chat handler
func NewChatHandler(chatService *chat.Service, users *repository.UserRepository, engine *llm.Engine, log *logger.Logger) *ChatHandler {
	return &ChatHandler{chat: chatService, users: users, engine: engine, log: log}
}

// Send runs one chat turn. Clients that accept text/event-stream get the
// live event stream; everyone else gets the buffered reply as JSON.
func (h *ChatHandler) Send(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	var req chat.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidMessage, "Invalid chat payload: "+err.Error()))
		return
	}

	events, err := h.chat.Send(c.Request.Context(), user, req)
	if err != nil {
		c.Error(err)
		return
	}

	if wantsStream(c, req) {
		if err := chat.WriteSSE(c.Writer, events); err != nil {
			log := logger.FromContext(c)
			log.Warn("sse stream ended early", "error", err.Error())
			// Drain so the turn can finish persisting
			for range events {
			}
		}
		return
	}

	collected := chat.Collect(events)
	if collected.Err != nil {
		status := 503
		if collected.Err.Code == errors.CodeInternal {
			status = 500
		}
		c.JSON(status, gin.H{"error": gin.H{
			"code":    collected.Err.Code,
			"message": collected.Err.Message,
		}})
		return
	}
	c.JSON(200, collected)
}

// History returns a page of the conversation's messages
func (h *ChatHandler) History(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	conversationID, err := strconv.ParseUint(c.Query("conversation_id"), 10, 64)
	if err != nil || conversationID == 0 {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "conversation_id query parameter is required."))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, err := h.chat.History(c.Request.Context(), user, uint(conversationID), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(200, page)
}

// ProviderStatus reports the health view of every configured provider
func (h *ChatHandler) ProviderStatus(c *gin.Context) {
	c.JSON(200, gin.H{"providers": h.engine.Statuses(c.Request.Context())})
}

// wantsStream resolves the response mode for a turn. The body's stream flag
// wins, then the stream query parameter, then an Accept sniff for clients
// that only negotiate via headers. Streaming is the default.
func wantsStream(c *gin.Context, req chat.SendRequest) bool {
	if req.Stream != nil {
		return *req.Stream
	}
	switch c.Query("stream") {
	case "true":
		return true
	case "false":
		return false
	}
	if accept := c.GetHeader("Accept"); accept != "" && !strings.Contains(accept, "text/event-stream") && !strings.Contains(accept, "*/*") {
		return false
	}
	return true
}
