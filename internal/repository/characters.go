package repository

import (
	"context"
	"errors"

	"github.com/spb722/ai-companion/internal/models"

	"gorm.io/gorm"
)

// CharacterRepository handles persistence for characters
type CharacterRepository struct {
	db *gorm.DB
}

// NewCharacterRepository creates a new character repository
func NewCharacterRepository(db *gorm.DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// ListActive returns all characters available for selection
func (r *CharacterRepository) ListActive(ctx context.Context) ([]models.Character, error) {
	var characters []models.Character
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id asc").
		Find(&characters).Error
	return characters, err
}

// GetByID fetches a character by primary key
func (r *CharacterRepository) GetByID(ctx context.Context, id uint) (*models.Character, error) {
	var character models.Character
	err := r.db.WithContext(ctx).First(&character, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &character, nil
}

// Create inserts a new character
func (r *CharacterRepository) Create(ctx context.Context, character *models.Character) error {
	return r.db.WithContext(ctx).Create(character).Error
}

// Count returns the number of characters in the table
func (r *CharacterRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Character{}).Count(&n).Error
	return n, err
}
