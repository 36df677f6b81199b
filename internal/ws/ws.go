// Package ws exposes the chat turn lifecycle over a WebSocket connection,
// mirroring the SSE event taxonomy one JSON frame per event.
package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/spb722/ai-companion/internal/chat"
	"github.com/spb722/ai-companion/internal/models"
	"github.com/spb722/ai-companion/internal/repository"
	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/logger"
	"github.com/spb722/ai-companion/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxInboundBytes = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS layer; the upgrade itself
	// accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated connections and runs chat turns over them
type Handler struct {
	chat  *chat.Service
	users *repository.UserRepository
	log   *logger.Logger
}

// NewHandler creates a WebSocket chat handler
func NewHandler(chatService *chat.Service, users *repository.UserRepository, log *logger.Logger) *Handler {
	return &Handler{chat: chatService, users: users, log: log}
}

// Serve handles one WebSocket session. Each inbound frame is a SendRequest;
// its events are written back as JSON frames before the next frame is read.
func (h *Handler) Serve(c *gin.Context) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		c.Error(errors.NewUnauthorizedError(errors.CodeAuthRequired, "Authentication required."))
		c.Abort()
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		c.Error(errors.NewUnauthorizedError(errors.CodeInvalidToken, "Invalid authentication token."))
		c.Abort()
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", user.ID, "error", err.Error())
		return
	}

	log := h.log.WithUserID(strconv.FormatUint(uint64(user.ID), 10))
	log.Info("websocket session opened")
	h.session(c.Request.Context(), conn, user, log)
	log.Info("websocket session closed")
}

func (h *Handler) session(ctx context.Context, conn *websocket.Conn, user *models.User, log *logger.Logger) {
	defer conn.Close()

	conn.SetReadLimit(maxInboundBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Keepalive pings run beside the turn loop; a write failure ends the
	// session through the cancelled context.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	for {
		var req chat.SendRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err.Error())
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if !h.turn(sessionCtx, conn, user, req, log) {
			return
		}
	}
}

// turn runs one chat turn and streams its events to the connection. It
// reports whether the session should continue.
func (h *Handler) turn(ctx context.Context, conn *websocket.Conn, user *models.User, req chat.SendRequest, log *logger.Logger) bool {
	events, err := h.chat.Send(ctx, user, req)
	if err != nil {
		appErr := errors.FromError(err)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		writeErr := conn.WriteJSON(map[string]any{
			"type":    chat.EventError,
			"code":    appErr.Code,
			"message": appErr.Message,
		})
		return writeErr == nil
	}

	for ev := range events {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			log.Warn("websocket write failed mid-turn", "error", err.Error())
			// Drain so the producer can observe the cancelled context
			for range events {
			}
			return false
		}
	}
	return true
}
