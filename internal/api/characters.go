package api

import (
	stderrors "errors"
	"strconv"

	"github.com/spb722/ai-companion/internal/chat"
	"github.com/spb722/ai-companion/internal/models"
	"github.com/spb722/ai-companion/internal/repository"
	"github.com/spb722/ai-companion/pkg/errors"

	"github.com/gin-gonic/gin"
)

// CharacterHandler serves the character catalog and selection endpoints
type CharacterHandler struct {
	characters *repository.CharacterRepository
	users      *repository.UserRepository
	chat       *chat.Service
}

// NewCharacterHandler creates the character handler
func NewCharacterHandler(characters *repository.CharacterRepository, users *repository.UserRepository, chatService *chat.Service) *CharacterHandler {
	return &CharacterHandler{characters: characters, users: users, chat: chatService}
}

// List returns all active characters. Premium characters are listed for
// every tier; the gate applies on selection, not discovery.
func (h *CharacterHandler) List(c *gin.Context) {
	characters, err := h.characters.ListActive(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	out := make([]models.CharacterResponse, 0, len(characters))
	for i := range characters {
		out = append(out, characters[i].ToResponse())
	}
	c.JSON(200, gin.H{"characters": out})
}

// Get returns one character by id
func (h *CharacterHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	character, err := h.characters.GetByID(c.Request.Context(), id)
	if stderrors.Is(err, repository.ErrNotFound) {
		c.Error(errors.NewNotFoundError(errors.CodeCharacterNotFound, "Character not found."))
		return
	}
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(200, character.ToResponse())
}

// Select makes a character the user's active companion
func (h *CharacterHandler) Select(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, h.users)
	if !ok {
		return
	}

	character, err := h.chat.SelectCharacter(c.Request.Context(), user, id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(200, gin.H{"selected": character.ToResponse()})
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid id parameter."))
		return 0, false
	}
	return uint(id), true
}
