// Package api contains the gin handlers for the gateway's HTTP surface.
package api

import (
	stderrors "errors"

	"github.com/spb722/ai-companion/internal/models"
	"github.com/spb722/ai-companion/internal/repository"
	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/jwt"
	"github.com/spb722/ai-companion/pkg/logger"
	"github.com/spb722/ai-companion/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// AuthHandler serves signup, login and the current-user endpoint
type AuthHandler struct {
	users *repository.UserRepository
	jwt   *jwt.Service
	log   *logger.Logger
}

// NewAuthHandler creates the auth handler
func NewAuthHandler(users *repository.UserRepository, jwtService *jwt.Service, log *logger.Logger) *AuthHandler {
	return &AuthHandler{users: users, jwt: jwtService, log: log}
}

// Signup registers a new user and returns a token
func (h *AuthHandler) Signup(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid signup payload: "+err.Error()))
		return
	}

	if _, err := h.users.GetByEmail(c.Request.Context(), req.Email); err == nil {
		c.Error(errors.NewConflictError("EMAIL_TAKEN", "An account with this email already exists."))
		return
	} else if !stderrors.Is(err, repository.ErrNotFound) {
		c.Error(err)
		return
	}

	user := &models.User{
		Email:             req.Email,
		Password:          req.Password,
		PreferredLanguage: req.PreferredLanguage,
	}
	if err := h.users.Create(c.Request.Context(), user); err != nil {
		c.Error(err)
		return
	}

	token, err := h.jwt.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		c.Error(err)
		return
	}

	h.log.Info("user registered", "user_id", user.ID)
	c.JSON(201, gin.H{
		"token": token,
		"user":  user.ToResponse(),
	})
}

// Login authenticates a user and returns a token
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid login payload: "+err.Error()))
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil || !models.CheckPasswordHash(req.Password, user.Password) {
		c.Error(errors.NewUnauthorizedError("INVALID_CREDENTIALS", "Invalid email or password."))
		return
	}

	token, err := h.jwt.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.users.UpdateLastLogin(c.Request.Context(), user.ID); err != nil {
		h.log.Warn("failed to record last login", "user_id", user.ID, "error", err.Error())
	}

	c.JSON(200, gin.H{
		"token": token,
		"user":  user.ToResponse(),
	})
}

// Me returns the authenticated user's profile
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}
	c.JSON(200, user.ToResponse())
}

// currentUser loads the authenticated user's record. On failure it records
// the error on the context and reports false; the error middleware writes
// the response.
func currentUser(c *gin.Context, users *repository.UserRepository) (*models.User, bool) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		c.Error(errors.NewUnauthorizedError(errors.CodeAuthRequired, "Authentication required."))
		return nil, false
	}

	user, err := users.GetByID(c.Request.Context(), claims.UserID)
	if stderrors.Is(err, repository.ErrNotFound) {
		c.Error(errors.NewUnauthorizedError(errors.CodeInvalidToken, "Invalid authentication token."))
		return nil, false
	}
	if err != nil {
		c.Error(err)
		return nil, false
	}
	return user, true
}
